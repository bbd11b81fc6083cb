// Package fetcher retrieves raw feed documents over HTTP.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const requestTimeout = 30 * time.Second

// FetchError classifies a failure to reach or read a feed URL. StatusCode is
// set for HTTP-level failures, Err for transport-level ones.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher downloads feed documents with a fixed timeout. Redirects are
// followed; there is no caching or conditional GET, every fetch is full.
type Fetcher struct {
	client *http.Client
}

func New() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: requestTimeout}}
}

// Fetch downloads the document at the given URL. Failures are never retried
// here; the ingestion engine decides what to do with them.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	return body, nil
}
