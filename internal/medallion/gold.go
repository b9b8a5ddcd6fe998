package medallion

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"
)

// GenreMetric is one row of the genre_metrics table.
type GenreMetric struct {
	Genre        string   `json:"genre"`
	MovieCount   int      `json:"movie_count"`
	AvgBudget    *float64 `json:"avg_budget"`
	AvgBoxOffice *float64 `json:"avg_box_office"`
	AvgRating    *float64 `json:"avg_rating"`
}

// StudioMetric is one row of the studio_metrics table.
type StudioMetric struct {
	Studio         string   `json:"studio"`
	MovieCount     int      `json:"movie_count"`
	AvgBudget      *float64 `json:"avg_budget"`
	AvgBoxOffice   *float64 `json:"avg_box_office"`
	TotalBoxOffice *float64 `json:"total_box_office"`
}

// YearMetric is one row of the year_metrics table.
type YearMetric struct {
	ReleaseYear  *int     `json:"release_year"`
	MovieCount   int      `json:"movie_count"`
	AvgBudget    *float64 `json:"avg_budget"`
	AvgBoxOffice *float64 `json:"avg_box_office"`
	AvgRating    *float64 `json:"avg_rating"`
}

// agg accumulates a nullable column. Nulls are skipped.
type agg struct {
	sum decimal.Decimal
	n   int
}

func (a *agg) add(v *float64) {
	if v == nil {
		return
	}
	a.sum = a.sum.Add(decimal.NewFromFloat(*v))
	a.n++
}

func (a agg) avg() *float64 {
	if a.n == 0 {
		return nil
	}
	return round2(a.sum.Div(decimal.NewFromInt(int64(a.n))))
}

func (a agg) total() *float64 {
	if a.n == 0 {
		return nil
	}
	return round2(a.sum)
}

func round2(d decimal.Decimal) *float64 {
	f := d.Round(2).InexactFloat64()
	return &f
}

type group struct {
	count                     int
	budget, boxOffice, rating agg
	spellings                 map[string]int
}

func (g *group) add(m CleanMovie, spelling string) {
	g.count++
	g.budget.add(m.Budget)
	g.boxOffice.add(m.BoxOffice)
	g.rating.add(m.VoteAverage)
	if spelling != "" {
		g.spellings[spelling]++
	}
}

// label is the group's most frequent spelling; ties go to the smallest.
func (g *group) label() string {
	best, n := "", 0
	for s, c := range g.spellings {
		if c > n || (c == n && s < best) {
			best, n = s, c
		}
	}
	return best
}

func groupBy[K comparable](movies []CleanMovie, key func(CleanMovie) K, spelling func(CleanMovie) string) map[K]*group {
	out := make(map[K]*group)
	for _, m := range movies {
		k := key(m)
		g, ok := out[k]
		if !ok {
			g = &group{spellings: make(map[string]int)}
			out[k] = g
		}
		var sp string
		if spelling != nil {
			sp = spelling(m)
		}
		g.add(m, sp)
	}
	return out
}

// groupByName groups case-insensitively on a category label.
func groupByName(movies []CleanMovie, name func(CleanMovie) string) map[string]*group {
	return groupBy(movies, func(m CleanMovie) string { return nameKey(name(m)) }, name)
}

// GenreMetrics aggregates movies by genre, ordered by genre.
func GenreMetrics(movies []CleanMovie) []GenreMetric {
	groups := groupByName(movies, func(m CleanMovie) string { return m.Genre })
	keys := make(map[string]string, len(groups))
	out := make([]GenreMetric, 0, len(groups))
	for key, g := range groups {
		genre := g.label()
		keys[genre] = key
		out = append(out, GenreMetric{
			Genre:        genre,
			MovieCount:   g.count,
			AvgBudget:    g.budget.avg(),
			AvgBoxOffice: g.boxOffice.avg(),
			AvgRating:    g.rating.avg(),
		})
	}
	slices.SortFunc(out, func(a, b GenreMetric) int { return cmp.Compare(keys[a.Genre], keys[b.Genre]) })
	return out
}

// StudioMetrics aggregates movies by studio, ordered by total box office
// descending. Studios without box office figures sort last.
func StudioMetrics(movies []CleanMovie) []StudioMetric {
	groups := groupByName(movies, func(m CleanMovie) string { return m.Studio })
	keys := make(map[string]string, len(groups))
	out := make([]StudioMetric, 0, len(groups))
	for key, g := range groups {
		studio := g.label()
		keys[studio] = key
		out = append(out, StudioMetric{
			Studio:         studio,
			MovieCount:     g.count,
			AvgBudget:      g.budget.avg(),
			AvgBoxOffice:   g.boxOffice.avg(),
			TotalBoxOffice: g.boxOffice.total(),
		})
	}
	slices.SortFunc(out, func(a, b StudioMetric) int {
		switch {
		case a.TotalBoxOffice == nil && b.TotalBoxOffice != nil:
			return 1
		case a.TotalBoxOffice != nil && b.TotalBoxOffice == nil:
			return -1
		case a.TotalBoxOffice != nil && *a.TotalBoxOffice != *b.TotalBoxOffice:
			return cmp.Compare(*b.TotalBoxOffice, *a.TotalBoxOffice)
		}
		return cmp.Compare(keys[a.Studio], keys[b.Studio])
	})
	return out
}

// YearMetrics aggregates movies by release year, ascending. Movies without a
// release date form one group that sorts first.
func YearMetrics(movies []CleanMovie) []YearMetric {
	const unknown = -1
	groups := groupBy(movies, func(m CleanMovie) int {
		if m.ReleaseYear == nil {
			return unknown
		}
		return *m.ReleaseYear
	}, nil)
	years := make([]int, 0, len(groups))
	for y := range groups {
		years = append(years, y)
	}
	slices.Sort(years)

	out := make([]YearMetric, 0, len(years))
	for _, y := range years {
		g := groups[y]
		row := YearMetric{
			MovieCount:   g.count,
			AvgBudget:    g.budget.avg(),
			AvgBoxOffice: g.boxOffice.avg(),
			AvgRating:    g.rating.avg(),
		}
		if y != unknown {
			row.ReleaseYear = &y
		}
		out = append(out, row)
	}
	return out
}
