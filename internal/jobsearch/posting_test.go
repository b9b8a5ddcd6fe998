package jobsearch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBatch(t *testing.T) {
	raw := []RawPosting{
		{ID: "1", Title: "Data Engineer", Created: "2024-03-14T09:12:45Z", RedirectURL: "https://x/1"},
		{ID: "", Title: "No ID", Created: "2024-03-14T09:12:45Z"},
		{ID: "3", Title: "  ", Created: "2024-03-14T09:12:45Z"},
		{ID: "4", Title: "Bad Time", Created: "yesterday"},
		{ID: "5", Title: "No Time"},
		{ID: "6", Title: "Naive Time", Created: "2024-03-14T09:12:45"},
	}
	raw[0].Company.DisplayName = "Maple Analytics"
	raw[0].Category.Label = "IT Jobs"

	got := ParseBatch(raw)
	require.Len(t, got, 2)

	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "Maple Analytics", got[0].Company)
	assert.Equal(t, "IT Jobs", got[0].Category)
	assert.Equal(t, "https://x/1", got[0].URL)
	assert.Equal(t, time.Date(2024, 3, 14, 9, 12, 45, 0, time.UTC), got[0].Created)
	assert.Equal(t, "6", got[1].ID)
}

func TestParseBatch_Empty(t *testing.T) {
	assert.Empty(t, ParseBatch(nil))
}

func TestID_UnmarshalJSON(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x1","b":4171392812,"c":null}`), &v))
	assert.Equal(t, ID("x1"), v.A)
	assert.Equal(t, ID("4171392812"), v.B)
	assert.Equal(t, ID(""), v.C)
}
