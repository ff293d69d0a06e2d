package collector

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// MockClient implements domain.Fetcher but returns fake data
type MockClient struct {
	Latency time.Duration
	now     func() time.Time
}

func NewMockClient() *MockClient {
	return &MockClient{Latency: 200 * time.Millisecond, now: time.Now}
}

func (mc *MockClient) Fetch(ctx context.Context, t domain.Target) (domain.Snapshot, error) {
	// Simulate network latency (nice for testing concurrency)
	select {
	case <-time.After(mc.Latency):
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	}

	// a stable base price per item with a few percent of jitter
	h := fnv.New32a()
	h.Write([]byte(t.ItemID))
	base := decimal.NewFromInt(int64(10 + h.Sum32()%190))
	jitter := decimal.NewFromFloat(0.95 + rand.Float64()*0.1)
	price := base.Mul(jitter).Round(2)

	return domain.Snapshot{
		ItemID:     t.ItemID,
		Title:      "Simulated listing for " + t.ItemID,
		Price:      &price,
		URL:        t.URL,
		CapturedAt: mc.now(),
	}, nil
}
