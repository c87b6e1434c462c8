package news

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"hightrade/internal/types"
)

// requestTimeout is the hard per-request budget for every news fetch.
const requestTimeout = 5 * time.Second

// ErrRateLimited marks an upstream 429 (or equivalent soft limit) so the
// aggregator can back off instead of treating it as a plain failure.
var ErrRateLimited = errors.New("news: upstream rate limited")

// Source fetches articles from one upstream. Implementations classify urgency
// and relevance before returning.
type Source interface {
	Name() string
	// LimiterKey is the rate-limiter bucket this source draws from; empty
	// means the source is unpaced (local or courtesy-limited upstreams).
	LimiterKey() string
	Fetch(ctx context.Context) ([]types.Article, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

// fetchBody issues a GET and returns the response body, mapping a 429 status
// to ErrRateLimited. Soft throttle bodies are left to the source's parser.
func fetchBody(ctx context.Context, client *http.Client, url, userAgent string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("news: %s returned status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
