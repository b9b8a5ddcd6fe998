package catalog

import (
	"context"
	"time"

	"github.com/oakvale/lakehouse-jobs/internal/db"
	"github.com/oakvale/lakehouse-jobs/internal/jobsearch"
)

// DefaultPostingTable is created by 003_postings.sql.
const DefaultPostingTable = "lake.postings"

var postingColumns = []string{
	"job_id", "job_title", "job_location", "job_company", "job_category",
	"job_description", "job_url", "job_created", "extraction_date", "extraction_timestamp",
}

// Postings upserts job postings keyed by job_id.
type Postings struct {
	pool  db.Pool
	table string
}

// NewPostings creates a Postings catalog over table.
func NewPostings(pool db.Pool, table string) *Postings {
	if table == "" {
		table = DefaultPostingTable
	}
	return &Postings{pool: pool, table: table}
}

// UpsertPostings writes postings, replacing existing rows with the same job_id.
func (p *Postings) UpsertPostings(ctx context.Context, postings []jobsearch.Posting, extractedAt time.Time) (int64, error) {
	date := extractedAt.UTC().Truncate(24 * time.Hour)
	rows := make([][]any, len(postings))
	for i, jp := range postings {
		rows[i] = []any{
			jp.ID, jp.Title, nullable(jp.Location), nullable(jp.Company), nullable(jp.Category),
			nullable(jp.Description), nullable(jp.URL), jp.Created, date, extractedAt,
		}
	}
	return db.BulkUpsert(ctx, p.pool, db.UpsertConfig{
		Table:        p.table,
		Columns:      postingColumns,
		ConflictKeys: []string{"job_id"},
	}, rows)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
