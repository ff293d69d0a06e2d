package storage

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
	"github.com/qepting91/price-tracker/internal/normalize"
	"github.com/shopspring/decimal"
)

var header = []string{"item_id", "title", "price", "url", "date", "time"}

// columnAliases maps header names written by older versions of the tracker.
var columnAliases = map[string]string{
	"nickname":  "item_id",
	"date_only": "date",
	"time_only": "time",
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

type loadResult struct {
	records []domain.Record
	skipped int  // rows whose price or time could not be read
	legacy  bool // header differs from the current layout
}

func readCSV(r io.Reader) (loadResult, error) {
	var res loadResult

	cr := csv.NewReader(normalize.StripBOM(r))
	cr.FieldsPerRecord = -1

	head, err := cr.Read()
	if err == io.EOF {
		return res, nil
	}
	if err != nil {
		return res, err
	}

	cols := make(map[string]int, len(head))
	for i, h := range head {
		name := strings.ToLower(strings.TrimSpace(h))
		if alias, ok := columnAliases[name]; ok {
			name = alias
		}
		cols[name] = i
	}
	if _, ok := cols["item_id"]; !ok {
		return res, fmt.Errorf("missing item_id column in header %v", head)
	}
	res.legacy = strings.Join(head, ",") != strings.Join(header, ",")

	get := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, err
		}

		price, err := decimal.NewFromString(get(row, "price"))
		if err != nil {
			res.skipped++
			continue
		}
		at, err := parseCaptured(get(row, "date"), get(row, "time"), get(row, "timestamp"))
		if err != nil {
			res.skipped++
			continue
		}
		res.records = append(res.records, domain.Record{
			ItemID:     get(row, "item_id"),
			Title:      get(row, "title"),
			Price:      price,
			URL:        get(row, "url"),
			CapturedAt: at,
		})
	}
	return res, nil
}

// parseCaptured accepts either separate date and time columns or one
// combined timestamp. Values without a zone are read as UTC.
func parseCaptured(date, clock, stamp string) (time.Time, error) {
	if date != "" {
		d, err := time.Parse(normalize.DateLayout, date)
		if err != nil {
			return time.Time{}, err
		}
		if clock == "" {
			return d, nil
		}
		for _, layout := range []string{"15:04:05", "15:04"} {
			if c, err := time.Parse(layout, clock); err == nil {
				return d.Add(time.Duration(c.Hour())*time.Hour +
					time.Duration(c.Minute())*time.Minute +
					time.Duration(c.Second())*time.Second +
					time.Duration(c.Nanosecond())), nil
			}
		}
		return time.Time{}, fmt.Errorf("unreadable time %q", clock)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, stamp); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unreadable timestamp %q", stamp)
}

func writeCSV(w io.Writer, records []domain.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		d, t := normalize.DateTime(r.CapturedAt)
		if err := cw.Write([]string{r.ItemID, r.Title, r.Price.String(), r.URL, d, t}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeAtomic writes records to a temp file next to path and renames it over
// path, so readers only ever see a complete file.
func writeAtomic(path string, records []domain.Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &domain.StoreIOError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".history-*.tmp")
	if err != nil {
		return &domain.StoreIOError{Op: "create temp", Path: path, Err: err}
	}
	tmpPath := tmp.Name()
	fail := func(op string, err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return &domain.StoreIOError{Op: op, Path: path, Err: err}
	}

	bw := bufio.NewWriter(tmp)
	if err := writeCSV(bw, records); err != nil {
		return fail("write", err)
	}
	if err := bw.Flush(); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &domain.StoreIOError{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &domain.StoreIOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
