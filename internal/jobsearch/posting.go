package jobsearch

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// ID accepts both string and numeric identifiers from the API.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

type displayName struct {
	DisplayName string `json:"display_name"`
}

type category struct {
	Label string `json:"label"`
}

// RawPosting is one search result as returned by the API.
type RawPosting struct {
	ID          ID          `json:"id"`
	Title       string      `json:"title"`
	Location    displayName `json:"location"`
	Company     displayName `json:"company"`
	Category    category    `json:"category"`
	Description string      `json:"description"`
	RedirectURL string      `json:"redirect_url"`
	Created     string      `json:"created"`
}

// Posting is the cleaned, typed record written to the lake.
type Posting struct {
	ID          string    `json:"job_id"`
	Title       string    `json:"job_title"`
	Location    string    `json:"job_location,omitempty"`
	Company     string    `json:"job_company,omitempty"`
	Category    string    `json:"job_category,omitempty"`
	Description string    `json:"job_description,omitempty"`
	URL         string    `json:"job_url,omitempty"`
	Created     time.Time `json:"job_created"`
}

var createdLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseCreated(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range createdLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseBatch maps raw results to Postings, dropping any without an id, a
// title, or a parseable creation time. Order is preserved.
func ParseBatch(raw []RawPosting) []Posting {
	out := make([]Posting, 0, len(raw))
	for _, r := range raw {
		id := strings.TrimSpace(string(r.ID))
		title := strings.TrimSpace(r.Title)
		created, ok := parseCreated(r.Created)
		if id == "" || title == "" || !ok {
			continue
		}
		out = append(out, Posting{
			ID:          id,
			Title:       title,
			Location:    r.Location.DisplayName,
			Company:     r.Company.DisplayName,
			Category:    r.Category.Label,
			Description: r.Description,
			URL:         r.RedirectURL,
			Created:     created,
		})
	}
	return out
}
