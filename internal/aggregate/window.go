package aggregate

import (
	"sort"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
)

// DefaultWindow is the trailing span used when none is configured
const DefaultWindow = 48 * time.Hour

// Changes computes per-item price movement over the trailing window. The
// window ends at the newest timestamp in the whole dataset and its lower
// bound is inclusive. Items without records in the window are omitted.
// The result is sorted by item id.
func Changes(records []domain.Record, window time.Duration) []domain.WindowChange {
	if len(records) == 0 {
		return nil
	}
	if window <= 0 {
		window = DefaultWindow
	}

	anchor := records[0].CapturedAt
	for _, r := range records[1:] {
		if r.CapturedAt.After(anchor) {
			anchor = r.CapturedAt
		}
	}
	from := anchor.Add(-window)

	groups := make(map[string][]domain.Record)
	for _, r := range records {
		if r.CapturedAt.Before(from) {
			continue
		}
		groups[r.ItemID] = append(groups[r.ItemID], r)
	}

	out := make([]domain.WindowChange, 0, len(groups))
	for id, rs := range groups {
		sort.SliceStable(rs, func(i, j int) bool {
			return rs[i].CapturedAt.Before(rs[j].CapturedAt)
		})
		first, last := rs[0].Price, rs[len(rs)-1].Price
		out = append(out, domain.WindowChange{
			ItemID:     id,
			FirstPrice: first,
			LastPrice:  last,
			Delta:      last.Sub(first),
			Samples:    len(rs),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}
