// Package lake writes job postings into the processed zone of the data lake
// and keeps the catalog table in step.
package lake

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oakvale/lakehouse-jobs/internal/jobsearch"
	"github.com/oakvale/lakehouse-jobs/internal/metrics"
	"github.com/oakvale/lakehouse-jobs/internal/objstore"
)

// Catalog registers written postings so they can be queried by job_id.
type Catalog interface {
	UpsertPostings(ctx context.Context, postings []jobsearch.Posting, extractedAt time.Time) (int64, error)
}

// WriteResult reports what one WriteBatch call touched.
type WriteResult struct {
	Records        int
	Files          int
	CatalogUpdated bool
	Keys           []string
}

// Record is one NDJSON line in a partition file.
type Record struct {
	jobsearch.Posting
	ExtractionDate      string    `json:"extraction_date"`
	ExtractionTimestamp time.Time `json:"extraction_timestamp"`
}

// PostingWriter persists posting batches as gzipped NDJSON partitioned by
// extraction date.
type PostingWriter struct {
	bucket  objstore.Bucket
	prefix  string
	catalog Catalog
	metrics *metrics.Metrics
	now     func() time.Time
	log     *zap.Logger
}

// NewPostingWriter creates a writer under prefix. catalog may be nil.
func NewPostingWriter(bucket objstore.Bucket, prefix string, catalog Catalog, m *metrics.Metrics) *PostingWriter {
	return &PostingWriter{
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		catalog: catalog,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		log:     zap.L().With(zap.String("component", "lake")),
	}
}

// Dedupe collapses postings sharing an ID to the last one and returns them
// ordered by ID.
func Dedupe(postings []jobsearch.Posting) []jobsearch.Posting {
	byID := make(map[string]jobsearch.Posting, len(postings))
	for _, p := range postings {
		byID[p.ID] = p
	}
	out := make([]jobsearch.Posting, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b jobsearch.Posting) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// PartitionKey returns the object key for a set of IDs written on date. The
// name hashes the sorted IDs, so writing the same batch again replaces the
// same object.
func PartitionKey(prefix string, date time.Time, sortedIDs []string) string {
	h := sha256.New()
	for _, id := range sortedIDs {
		h.Write([]byte(id))
		h.Write([]byte{'\n'})
	}
	name := fmt.Sprintf("part-%s.json.gz", hex.EncodeToString(h.Sum(nil))[:16])
	return path.Join(prefix, "extraction_date="+date.Format(time.DateOnly), name)
}

// WriteBatch writes postings and upserts them into the catalog. The object
// write is the commit point: a catalog failure after it is logged and
// reported through CatalogUpdated only.
func (w *PostingWriter) WriteBatch(ctx context.Context, postings []jobsearch.Posting) (WriteResult, error) {
	if len(postings) == 0 {
		return WriteResult{}, nil
	}
	now := w.now()
	rows := Dedupe(postings)

	ids := make([]string, len(rows))
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, p := range rows {
		ids[i] = p.ID
		rec := Record{Posting: p, ExtractionDate: now.Format(time.DateOnly), ExtractionTimestamp: now}
		if err := enc.Encode(rec); err != nil {
			return WriteResult{}, eris.Wrapf(err, "lake: encode posting %s", p.ID)
		}
	}

	body, err := objstore.Gzip(buf.Bytes())
	if err != nil {
		return WriteResult{}, err
	}

	key := PartitionKey(w.prefix, now, ids)
	err = w.bucket.Put(ctx, key, body, objstore.PutOptions{
		ContentType:     "application/x-ndjson",
		ContentEncoding: "gzip",
		Metadata: map[string]string{
			"records":         strconv.Itoa(len(rows)),
			"extraction-date": now.Format(time.DateOnly),
		},
	})
	w.metrics.StorageOp("put", err)
	if err != nil {
		return WriteResult{}, eris.Wrapf(err, "lake: write %s", key)
	}

	res := WriteResult{Records: len(rows), Files: 1, Keys: []string{key}}
	if w.catalog != nil {
		_, err := w.catalog.UpsertPostings(ctx, rows, now)
		w.metrics.StorageOp("catalog_upsert", err)
		if err != nil {
			w.log.Error("catalog upsert failed", zap.String("key", key), zap.Error(err))
		} else {
			res.CatalogUpdated = true
		}
	}

	w.log.Debug("batch written",
		zap.String("key", key),
		zap.Int("records", res.Records),
		zap.Bool("catalog_updated", res.CatalogUpdated),
	)
	return res, nil
}

// ReadPartition decodes one partition file back into records.
func ReadPartition(ctx context.Context, bucket objstore.Bucket, key string) ([]Record, error) {
	raw, err := bucket.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := objstore.Gunzip(raw)
	if err != nil {
		return nil, err
	}

	var out []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var r Record
		if err := dec.Decode(&r); err != nil {
			return nil, eris.Wrapf(err, "lake: decode %s", key)
		}
		out = append(out, r)
	}
	return out, nil
}
