package medallion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/oakvale/lakehouse-jobs/internal/objstore"
)

const tableFile = "data.json.gz"

// TableKey is the object holding a tier's table.
func TableKey(prefix, tier, table string) string {
	return path.Join(strings.Trim(prefix, "/"), tier, table, tableFile)
}

// WriteTable overwrites key with rows as gzipped NDJSON.
func WriteTable[T any](ctx context.Context, bucket objstore.Bucket, key string, rows []T) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return eris.Wrapf(err, "medallion: encode row for %s", key)
		}
	}
	body, err := objstore.Gzip(buf.Bytes())
	if err != nil {
		return err
	}
	err = bucket.Put(ctx, key, body, objstore.PutOptions{
		ContentType:     "application/x-ndjson",
		ContentEncoding: "gzip",
	})
	return eris.Wrapf(err, "medallion: write %s", key)
}

// ReadTable loads every row stored at key.
func ReadTable[T any](ctx context.Context, bucket objstore.Bucket, key string) ([]T, error) {
	body, err := bucket.Get(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "medallion: read %s", key)
	}
	raw, err := objstore.Gunzip(body)
	if err != nil {
		return nil, eris.Wrapf(err, "medallion: gunzip %s", key)
	}

	var rows []T
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var r T
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, eris.Wrapf(err, "medallion: decode row in %s", key)
		}
		rows = append(rows, r)
	}
	return rows, eris.Wrapf(sc.Err(), "medallion: scan %s", key)
}

// DecodeMovies parses a raw landing file holding either one JSON object or
// an array of them.
func DecodeMovies(body []byte) ([]Movie, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var out []Movie
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, eris.Wrap(err, "medallion: decode movie array")
		}
		return out, nil
	}
	var m Movie
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, eris.Wrap(err, "medallion: decode movie")
	}
	return []Movie{m}, nil
}
