package extract

import (
	"time"

	"github.com/oakvale/lakehouse-jobs/internal/jobsearch"
	"github.com/oakvale/lakehouse-jobs/internal/watermark"
)

// ComputeWindow returns [last watermark - overlap, now]. The overlap is
// subtracted on every run, so frequent runs re-read the trailing margin.
func ComputeWindow(st watermark.State, overlap time.Duration, now time.Time) jobsearch.Window {
	return jobsearch.Window{
		Start: st.LastExtractionTime.Add(-overlap),
		End:   now,
	}
}

// FilterWindow keeps postings created inside w, preserving order.
func FilterWindow(postings []jobsearch.Posting, w jobsearch.Window) []jobsearch.Posting {
	out := make([]jobsearch.Posting, 0, len(postings))
	for _, p := range postings {
		if w.Contains(p.Created) {
			out = append(out, p)
		}
	}
	return out
}
