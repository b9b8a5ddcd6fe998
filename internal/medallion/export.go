package medallion

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
)

// Export writes a gold table to an .xlsx workbook at path with one sheet
// named after the table.
func (p *Pipeline) Export(ctx context.Context, table, path string) (int, error) {
	header, rows, err := p.goldRows(ctx, table)
	if err != nil {
		return 0, err
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(table)
	if err != nil {
		return 0, eris.Wrapf(err, "medallion: add sheet %s", table)
	}
	hr := sheet.AddRow()
	for _, h := range header {
		hr.AddCell().SetString(h)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			setCell(row.AddCell(), v)
		}
	}
	if err := f.Save(path); err != nil {
		return 0, eris.Wrapf(err, "medallion: save %s", path)
	}
	p.log.Info("gold table exported",
		zap.String("table", table),
		zap.String("path", path),
		zap.Int("rows", len(rows)),
	)
	return len(rows), nil
}

func setCell(c *xlsx.Cell, v any) {
	switch x := v.(type) {
	case nil:
		c.SetString("")
	case *float64:
		if x == nil {
			c.SetString("")
		} else {
			c.SetFloat(*x)
		}
	case *int:
		if x == nil {
			c.SetString("")
		} else {
			c.SetInt(*x)
		}
	case int:
		c.SetInt(x)
	case string:
		c.SetString(x)
	}
}

func (p *Pipeline) goldRows(ctx context.Context, table string) ([]string, [][]any, error) {
	key := p.Key(TierGold, table)
	switch table {
	case GenreMetricsTable:
		rows, err := ReadTable[GenreMetric](ctx, p.lake, key)
		if err != nil {
			return nil, nil, err
		}
		out := make([][]any, len(rows))
		for i, r := range rows {
			out[i] = []any{r.Genre, r.MovieCount, r.AvgBudget, r.AvgBoxOffice, r.AvgRating}
		}
		return []string{"genre", "movie_count", "avg_budget", "avg_box_office", "avg_rating"}, out, nil
	case StudioMetricsTable:
		rows, err := ReadTable[StudioMetric](ctx, p.lake, key)
		if err != nil {
			return nil, nil, err
		}
		out := make([][]any, len(rows))
		for i, r := range rows {
			out[i] = []any{r.Studio, r.MovieCount, r.AvgBudget, r.AvgBoxOffice, r.TotalBoxOffice}
		}
		return []string{"studio", "movie_count", "avg_budget", "avg_box_office", "total_box_office"}, out, nil
	case YearMetricsTable:
		rows, err := ReadTable[YearMetric](ctx, p.lake, key)
		if err != nil {
			return nil, nil, err
		}
		out := make([][]any, len(rows))
		for i, r := range rows {
			out[i] = []any{yearLabel(r.ReleaseYear), r.MovieCount, r.AvgBudget, r.AvgBoxOffice, r.AvgRating}
		}
		return []string{"release_year", "movie_count", "avg_budget", "avg_box_office", "avg_rating"}, out, nil
	default:
		return nil, nil, eris.Errorf("medallion: %q is not a gold table", table)
	}
}
