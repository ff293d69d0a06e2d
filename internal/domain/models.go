package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Target is one entry of the tracked-item registry
type Target struct {
	ItemID string
	URL    string
}

// Snapshot is one raw observation returned by a Fetcher. Price is nil when
// the source page carried no price.
type Snapshot struct {
	ItemID     string
	Title      string
	Price      *decimal.Decimal
	URL        string
	CapturedAt time.Time
}

// Record is the validated, persisted unit of price history
type Record struct {
	ItemID     string          `json:"item_id"`
	Title      string          `json:"title"`
	Price      decimal.Decimal `json:"price"`
	URL        string          `json:"url"`
	CapturedAt time.Time       `json:"captured_at"`
	Category   string          `json:"category,omitempty"`
}

// WindowChange is the price movement of one item over the trailing window
type WindowChange struct {
	ItemID     string          `json:"item_id"`
	FirstPrice decimal.Decimal `json:"first_price"`
	LastPrice  decimal.Decimal `json:"last_price"`
	Delta      decimal.Decimal `json:"delta"`
	Samples    int             `json:"samples"`
}

// MergeResult reports what a HistoryStore merge did with a batch
type MergeResult struct {
	Accepted     int `json:"accepted"`
	DedupedCount int `json:"deduped_count"`
}

// Fetcher defines the interface for retrieving one item's current snapshot
type Fetcher interface {
	Fetch(ctx context.Context, target Target) (Snapshot, error)
}
