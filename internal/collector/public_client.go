package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
)

// PageClient scrapes the product page behind each target URL
type PageClient struct {
	httpSource
}

func NewPageClient(userAgent string, timeout time.Duration) (*PageClient, error) {
	if userAgent == "" {
		return nil, fmt.Errorf("user agent is required for page mode")
	}
	headers := http.Header{}
	headers.Set("User-Agent", userAgent)
	headers.Set("Accept-Language", "en-US,en;q=0.9")

	return &PageClient{
		// Storefront pages: 1 req / 2 seconds
		httpSource: newHTTPSource(timeout, 2*time.Second, headers),
	}, nil
}

func (pc *PageClient) Fetch(ctx context.Context, t domain.Target) (domain.Snapshot, error) {
	body, err := pc.get(ctx, t.URL)
	if err != nil {
		return domain.Snapshot{}, err
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}

	title := textOf(findNode(doc, func(n *html.Node) bool {
		return attr(n, "id") == "productTitle"
	}))
	if title == "" {
		return domain.Snapshot{}, fmt.Errorf("%w: no product title on %s", domain.ErrParse, t.URL)
	}

	priceNode := findNode(doc, func(n *html.Node) bool {
		return n.Data == "span" && hasClass(n, "a-offscreen")
	})

	return domain.Snapshot{
		ItemID:     t.ItemID,
		Title:      title,
		Price:      parsePrice(textOf(priceNode)),
		URL:        t.URL,
		CapturedAt: pc.now(),
	}, nil
}

// parsePrice reads "$1,299.99" style text. Unreadable text yields nil.
func parsePrice(s string) *decimal.Decimal {
	s = strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
