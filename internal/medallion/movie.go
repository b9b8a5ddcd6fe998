// Package medallion refines raw movie metadata through the bronze, silver,
// and gold tiers of the lakehouse.
package medallion

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
)

// Tier and table names.
const (
	TierBronze = "bronze"
	TierSilver = "silver"
	TierGold   = "gold"

	MoviesTable        = "movies_info"
	GenreMetricsTable  = "genre_metrics"
	StudioMetricsTable = "studio_metrics"
	YearMetricsTable   = "year_metrics"
)

// MovieID accepts either a JSON string or number.
type MovieID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *MovieID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = MovieID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return eris.Wrapf(err, "medallion: movie id %s", b)
	}
	*id = MovieID(n.String())
	return nil
}

// Movie is a bronze row: the raw record as landed.
type Movie struct {
	ID          MovieID  `json:"id"`
	Title       string   `json:"title,omitempty"`
	Genre       string   `json:"genre,omitempty"`
	Studio      string   `json:"studio,omitempty"`
	Rating      string   `json:"rating,omitempty"`
	ReleaseDate string   `json:"release_date,omitempty"`
	Budget      *float64 `json:"budget,omitempty"`
	BoxOffice   *float64 `json:"box_office,omitempty"`
	VoteAverage *float64 `json:"vote_average,omitempty"`
}

// CleanMovie is a silver row.
type CleanMovie struct {
	ID             MovieID  `json:"id"`
	Title          string   `json:"title,omitempty"`
	Genre          string   `json:"genre,omitempty"`
	Studio         string   `json:"studio,omitempty"`
	Rating         string   `json:"rating,omitempty"`
	RatingCategory string   `json:"rating_category"`
	ReleaseDate    *string  `json:"release_date"`
	ReleaseYear    *int     `json:"release_year"`
	Budget         *float64 `json:"budget,omitempty"`
	BoxOffice      *float64 `json:"box_office,omitempty"`
	VoteAverage    *float64 `json:"vote_average,omitempty"`
}

var ratingCategories = map[string]string{
	"G":     "General",
	"PG":    "Parental Guidance",
	"PG-13": "Parents Strongly Cautioned",
	"R":     "Restricted",
	"NC-17": "Adults Only",
}

// RatingCategory maps an MPAA rating to its description.
func RatingCategory(rating string) string {
	if c, ok := ratingCategories[rating]; ok {
		return c
	}
	return "Not Rated"
}

var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateTime,
}

// ParseReleaseDate returns the calendar date in s, or false when s is not a
// recognizable date.
func ParseReleaseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// normalizeName trims and collapses whitespace in a category label. Case is
// kept as published: studios such as MGM or DreamWorks SKG spell themselves.
func normalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// nameKey is the case-insensitive grouping key for a category label.
// Casers hold state, so each call builds its own.
func nameKey(s string) string {
	return cases.Fold().String(s)
}

// Clean converts a bronze row to its silver form.
func Clean(m Movie) CleanMovie {
	out := CleanMovie{
		ID:             m.ID,
		Title:          strings.TrimSpace(m.Title),
		Genre:          normalizeName(m.Genre),
		Studio:         normalizeName(m.Studio),
		Rating:         m.Rating,
		RatingCategory: RatingCategory(m.Rating),
		Budget:         m.Budget,
		BoxOffice:      m.BoxOffice,
		VoteAverage:    m.VoteAverage,
	}
	if d, ok := ParseReleaseDate(m.ReleaseDate); ok {
		ds := d.Format(time.DateOnly)
		y := d.Year()
		out.ReleaseDate = &ds
		out.ReleaseYear = &y
	}
	return out
}

// yearLabel renders a release year for display; unknown years are blank.
func yearLabel(y *int) string {
	if y == nil {
		return ""
	}
	return strconv.Itoa(*y)
}
