// Package fetcher downloads per-ticker headline feeds and normalizes their entries into article records.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// DefaultTimeout bounds a single feed download.
const DefaultTimeout = 10 * time.Second

const maxBodySize = 5 * 1024 * 1024

// ErrMalformedFeed marks a payload that could not be parsed as a syndication feed.
var ErrMalformedFeed = errors.New("malformed feed")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses RSS and Atom feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: DefaultTimeout,
	}
}

// SetTimeout overrides the per-request timeout.
func (f *Fetcher) SetTimeout(d time.Duration) {
	if d > 0 {
		f.timeout = d
	}
}

// Fetch downloads and parses a feed from the given URL.
// Transport failures and non-2xx statuses are returned as plain errors;
// unparseable payloads wrap ErrMalformedFeed.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "NewsDigest/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		if feed != nil {
			// Keep whatever entries were recovered before the error.
			return feed, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}
	return feed, nil
}
