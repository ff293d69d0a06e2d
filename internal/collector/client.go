package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qepting91/price-tracker/internal/domain"
	"golang.org/x/time/rate"
)

// maxBody caps how much of a response is read; product pages are large but
// never this large.
const maxBody = 8 << 20

// httpSource is the request plumbing shared by the page and API fetchers
type httpSource struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	headers    http.Header
	now        func() time.Time
}

func newHTTPSource(timeout, every time.Duration, headers http.Header) httpSource {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return httpSource{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(every), 1),
		headers:    headers,
		now:        time.Now,
	}
}

// get performs one rate-limited GET. Transport failures and non-2xx
// statuses are reported as domain.ErrFetch.
func (s *httpSource) get(ctx context.Context, url string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}
	for k, vs := range s.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d for %s", domain.ErrFetch, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", domain.ErrFetch, err)
	}
	return body, nil
}
