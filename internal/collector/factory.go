package collector

import (
	"fmt"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
)

// Options carries the settings the fetcher implementations need
type Options struct {
	Mode       string
	UserAgent  string
	APIKey     string
	APIHost    string
	APIBaseURL string
	Timeout    time.Duration
}

// NewFetcher selects the correct implementation based on the mode
func NewFetcher(opts Options) (domain.Fetcher, error) {
	switch opts.Mode {
	case "page":
		return NewPageClient(opts.UserAgent, opts.Timeout)
	case "api":
		return NewAPIClient(opts.APIKey, opts.APIHost, opts.APIBaseURL, opts.Timeout)
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown collector mode: %s (use 'page', 'api', or 'mock')", opts.Mode)
	}
}
