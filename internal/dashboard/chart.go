package dashboard

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
	"github.com/wcharczuk/go-chart/v2"
)

// RenderPriceChart renders a PNG line chart with one series per item.
// Items with fewer than two records are left out.
func RenderPriceChart(records []domain.Record) ([]byte, error) {
	byItem := make(map[string][]domain.Record)
	for _, r := range records {
		byItem[r.ItemID] = append(byItem[r.ItemID], r)
	}
	items := make([]string, 0, len(byItem))
	for id, rs := range byItem {
		if len(rs) >= 2 {
			items = append(items, id)
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("need at least 2 data points for one item")
	}
	sort.Strings(items)

	series := make([]chart.Series, 0, len(items))
	for i, id := range items {
		rs := byItem[id]
		sort.SliceStable(rs, func(a, b int) bool { return rs[a].CapturedAt.Before(rs[b].CapturedAt) })

		xValues := make([]time.Time, len(rs))
		yValues := make([]float64, len(rs))
		for j, r := range rs {
			xValues[j] = r.CapturedAt
			yValues[j] = r.Price.InexactFloat64()
		}
		series = append(series, chart.TimeSeries{
			Name: id,
			Style: chart.Style{
				StrokeColor: chart.GetDefaultColor(i),
				StrokeWidth: 2,
			},
			XValues: xValues,
			YValues: yValues,
		})
	}

	graph := chart.Chart{
		Title:  "Historical Price Tracking",
		Width:  1000,
		Height: 450,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("01-02 15:04"),
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("$%.2f", f)
				}
				return ""
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("rendering chart: %w", err)
	}
	return buf.Bytes(), nil
}
