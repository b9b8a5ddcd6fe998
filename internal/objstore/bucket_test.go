package objstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGzipRoundTrip(t *testing.T) {
	in := []byte(`{"id":"1"}` + "\n" + `{"id":"2"}` + "\n")
	gz, err := Gzip(in)
	require.NoError(t, err)
	assert.NotEqual(t, in, gz)

	out, err := Gunzip(gz)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestGunzip_NotGzip(t *testing.T) {
	_, err := Gunzip([]byte("plain"))
	assert.Error(t, err)
}

func TestMemoryBucket_PutGetOverwrite(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBucket("lake")

	require.NoError(t, b.Put(ctx, "a/1.json", []byte("one"), PutOptions{ContentType: "application/json"}))
	require.NoError(t, b.Put(ctx, "a/1.json", []byte("uno"), PutOptions{ContentType: "application/json"}))

	got, err := b.Get(ctx, "a/1.json")
	require.NoError(t, err)
	assert.Equal(t, "uno", string(got))
	assert.Equal(t, 2, b.Puts())
	assert.Len(t, b.Keys(), 1)

	obj, ok := b.Object("a/1.json")
	require.True(t, ok)
	assert.Equal(t, "application/json", obj.Opts.ContentType)
}

func TestMemoryBucket_GetMissing(t *testing.T) {
	_, err := NewMemoryBucket("lake").Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryBucket_ListPrefix(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBucket("raw")
	for _, k := range []string{"Movies/b/2.json", "Movies/a/1.json", "Other/x.json"} {
		require.NoError(t, b.Put(ctx, k, []byte("{}"), PutOptions{}))
	}

	keys, err := b.List(ctx, "Movies/")
	require.NoError(t, err)
	assert.Equal(t, []string{"Movies/a/1.json", "Movies/b/2.json"}, keys)
}

func TestMemoryBucket_PutErr(t *testing.T) {
	b := NewMemoryBucket("lake")
	b.PutErr = errors.New("disk full")

	err := b.Put(context.Background(), "k", []byte("v"), PutOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, b.Keys())
}
