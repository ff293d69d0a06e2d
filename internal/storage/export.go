package storage

import (
	"encoding/csv"
	"io"
	"sort"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
	"github.com/qepting91/price-tracker/internal/normalize"
)

var exportHeader = []string{"product_type", "item_id", "title", "price", "url", "timestamp"}

// WriteExport writes records as a categorised report with a merged
// timestamp column, sorted by product type, item and time.
func WriteExport(w io.Writer, records []domain.Record) error {
	rows := make([]domain.Record, len(records))
	copy(rows, records)
	for i := range rows {
		rows[i].Category = normalize.Category(rows[i].ItemID)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.ItemID != b.ItemID {
			return a.ItemID < b.ItemID
		}
		return a.CapturedAt.Before(b.CapturedAt)
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.Category,
			r.ItemID,
			r.Title,
			r.Price.String(),
			r.URL,
			r.CapturedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
