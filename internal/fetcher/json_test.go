package fetcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestReadJSON(t *testing.T) {
	rec, err := ReadJSON[testRecord](strings.NewReader(`{"id":1,"name":"alpha"}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ID)
	assert.Equal(t, "alpha", rec.Name)
}

func TestReadJSON_Invalid(t *testing.T) {
	_, err := ReadJSON[testRecord](strings.NewReader(`{"id":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetcher: decode json")
}

func TestReadJSON_TrailingData(t *testing.T) {
	_, err := ReadJSON[testRecord](strings.NewReader(`{"id":1} {"id":2}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")
}

func TestStatusError_Redacts(t *testing.T) {
	err := &StatusError{StatusCode: 403, URL: "https://api.example.com/x?app_id=1&app_key=s3cr3t"}
	assert.Contains(t, err.Error(), "http 403")
	assert.Contains(t, err.Error(), "REDACTED")
	assert.NotContains(t, err.Error(), "s3cr3t")
}
