package normalize

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultCategory is reported for items missing from the category table
const DefaultCategory = "Other"

// categories maps upper-cased item ids to a product type
var categories = map[string]string{
	"KEYBOARD": "Electronics",
	"CLOCK":    "Home Decor",
	"LION":     "Toys",
}

// Category returns the product type of an item, or DefaultCategory.
func Category(itemID string) string {
	if c, ok := categories[strings.ToUpper(strings.TrimSpace(itemID))]; ok {
		return c
	}
	return DefaultCategory
}

// Snapshot validates s and converts it into a Record. The returned error is
// always a *domain.ValidationError.
func Snapshot(s domain.Snapshot) (domain.Record, error) {
	id := strings.TrimSpace(s.ItemID)
	if id == "" {
		return domain.Record{}, &domain.ValidationError{Reason: domain.EmptyIdentifier}
	}
	if s.Price == nil {
		return domain.Record{}, &domain.ValidationError{ItemID: id, Reason: domain.MissingPrice}
	}
	if !s.Price.IsPositive() {
		return domain.Record{}, &domain.ValidationError{ItemID: id, Reason: domain.NonPositivePrice}
	}

	return domain.Record{
		ItemID:     id,
		Title:      strings.TrimSpace(s.Title),
		Price:      *s.Price,
		URL:        strings.TrimSpace(s.URL),
		CapturedAt: s.CapturedAt.UTC(),
		Category:   Category(id),
	}, nil
}

// Validate applies the snapshot rules to an already persisted record.
func Validate(r domain.Record) error {
	_, err := Snapshot(domain.Snapshot{
		ItemID:     r.ItemID,
		Title:      r.Title,
		Price:      &r.Price,
		URL:        r.URL,
		CapturedAt: r.CapturedAt,
	})
	return err
}

// Batch normalizes snapshots in order. Rejected snapshots are dropped and
// counted by reason.
func Batch(snaps []domain.Snapshot) ([]domain.Record, map[domain.RejectReason]int) {
	out := make([]domain.Record, 0, len(snaps))
	rejected := make(map[domain.RejectReason]int)
	for _, s := range snaps {
		rec, err := Snapshot(s)
		if err != nil {
			rejected[err.(*domain.ValidationError).Reason]++
			continue
		}
		out = append(out, rec)
	}
	return out, rejected
}

// DateTime splits t into the persisted date and time columns.
func DateTime(t time.Time) (string, string) {
	t = t.UTC()
	return t.Format(DateLayout), t.Format(TimeLayout)
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05.999999999"
)

// PriceKey is the canonical textual form of a price used in dedup keys.
func PriceKey(p decimal.Decimal) string {
	return p.String()
}

// StripBOM skips a leading UTF-8 byte order mark, as written by spreadsheet
// exports of the history and by some editors saving the registry.
func StripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	rdr, _, err := br.ReadRune()
	if err != nil {
		return br
	}
	if rdr != '\uFEFF' {
		br.UnreadRune()
	}
	return br
}
