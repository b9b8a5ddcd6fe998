// Package objstore abstracts the S3-compatible buckets the jobs write to.
package objstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = eris.New("objstore: object not found")

// PutOptions carries object headers.
type PutOptions struct {
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
}

// Bucket is a flat key/value object namespace. Puts overwrite.
type Bucket interface {
	Name() string
	Put(ctx context.Context, key string, body []byte, opts PutOptions) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Gzip compresses b.
func Gzip(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(b); err != nil {
		return nil, eris.Wrap(err, "objstore: gzip write")
	}
	if err := gz.Close(); err != nil {
		return nil, eris.Wrap(err, "objstore: gzip close")
	}
	return buf.Bytes(), nil
}

// Gunzip decompresses b.
func Gunzip(b []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, eris.Wrap(err, "objstore: gzip reader")
	}
	defer gz.Close() //nolint:errcheck
	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, eris.Wrap(err, "objstore: gunzip")
	}
	return out, nil
}
