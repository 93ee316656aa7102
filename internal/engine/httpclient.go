package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"

	stealth "github.com/anatolykoptev/go-stealth"
)

// UserAgentBot identifies plain API calls that need no browser disguise.
const UserAgentBot = "GoTranscript/1.0"

// maxPageBytes bounds how much of a fetched page is read.
const maxPageBytes = 6 * 1024 * 1024

// PageFetcher GETs a URL and returns the body and HTTP status.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, int, error)
}

// HTTPFetcher is a PageFetcher over net/http.
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// Re-export stealth types and helpers for engine consumers.
type BrowserClient = stealth.BrowserClient

func ChromeHeaders() map[string]string { return stealth.ChromeHeaders() }
func RandomUserAgent() string          { return stealth.RandomUserAgent() }
func IsRetryableStatus(code int) bool  { return stealth.IsRetryableStatus(code) }

// NewBrowserClient creates a Chrome-fingerprint client. Options carry the
// timeout and an optional proxy pool.
func NewBrowserClient(opts ...stealth.ClientOption) (*BrowserClient, error) {
	bc, err := stealth.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("stealth client init: %w", err)
	}
	return bc, nil
}

// BrowserFetcher is a PageFetcher over a stealth BrowserClient.
// The client takes no context, so a cancelled fetch returns at once and the
// request finishes in the background under the client's own timeout.
type BrowserFetcher struct {
	Client *BrowserClient
}

type fetchResult struct {
	data   []byte
	status int
	err    error
}

func (f BrowserFetcher) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	done := make(chan fetchResult, 1)
	go func() {
		data, _, status, err := f.Client.Do(http.MethodGet, url, headers, nil)
		done <- fetchResult{data: data, status: status, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.status, fmt.Errorf("browser fetch: %w", r.err)
		}
		if len(r.data) > maxPageBytes {
			r.data = r.data[:maxPageBytes]
		}
		return r.data, r.status, nil
	}
}
