package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

var asinRegex = regexp.MustCompile(`/dp/([A-Z0-9]{10})`)

// APIClient reads product details from the RapidAPI real-time catalog API
type APIClient struct {
	httpSource
	baseURL string
}

type productResponse struct {
	ASIN   string           `json:"asin"`
	Title  string           `json:"title"`
	Price  *decimal.Decimal `json:"price"`
	Prices []struct {
		Price *decimal.Decimal `json:"price"`
	} `json:"prices"`
}

func NewAPIClient(key, host, baseURL string, timeout time.Duration) (*APIClient, error) {
	if key == "" || host == "" {
		return nil, fmt.Errorf("api key and host are required for api mode")
	}
	if baseURL == "" {
		baseURL = "https://" + host
	}
	headers := http.Header{}
	headers.Set("X-RapidAPI-Key", key)
	headers.Set("X-RapidAPI-Host", host)

	return &APIClient{
		// API Rate Limit: ~60 reqs/min (safe buffer)
		httpSource: newHTTPSource(timeout, time.Second, headers),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}, nil
}

// ASIN extracts the catalog number from a product URL, falling back to the
// item id itself.
func ASIN(t domain.Target) string {
	if m := asinRegex.FindStringSubmatch(t.URL); m != nil {
		return m[1]
	}
	return t.ItemID
}

func (ac *APIClient) Fetch(ctx context.Context, t domain.Target) (domain.Snapshot, error) {
	endpoint := ac.baseURL + "/product?" + url.Values{"asin": {ASIN(t)}}.Encode()
	body, err := ac.get(ctx, endpoint)
	if err != nil {
		return domain.Snapshot{}, err
	}

	var pr productResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	if strings.TrimSpace(pr.Title) == "" {
		return domain.Snapshot{}, fmt.Errorf("%w: no title for %s", domain.ErrParse, ASIN(t))
	}

	price := pr.Price
	if price == nil && len(pr.Prices) > 0 {
		price = pr.Prices[0].Price
	}

	return domain.Snapshot{
		ItemID:     t.ItemID,
		Title:      pr.Title,
		Price:      price,
		URL:        t.URL,
		CapturedAt: ac.now(),
	}, nil
}
