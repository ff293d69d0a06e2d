package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/qepting91/price-tracker/internal/domain"
)

const changesKey = "changes:latest"

// ChangeCache mirrors the latest window changes into Redis so other
// processes can read them without touching the history file.
type ChangeCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewChangeCache(addr, password string, db int, ttl time.Duration) *ChangeCache {
	return &ChangeCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: "pricetracker:",
		ttl:    ttl,
	}
}

// Ping checks the connection.
func (c *ChangeCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Publish stores the change set as JSON with the configured TTL.
func (c *ChangeCache) Publish(ctx context.Context, changes []domain.WindowChange) error {
	data, err := json.Marshal(changes)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+changesKey, data, c.ttl).Err()
}

// Latest returns the most recently published change set. A missing key
// yields an empty result.
func (c *ChangeCache) Latest(ctx context.Context) ([]domain.WindowChange, error) {
	data, err := c.client.Get(ctx, c.prefix+changesKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var changes []domain.WindowChange
	if err := json.Unmarshal(data, &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

func (c *ChangeCache) Close() error {
	return c.client.Close()
}
