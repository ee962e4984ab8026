package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/recallhq/recall/internal/retry"
)

const defaultMaxMediaBytes = 25 * 1024 * 1024

// Fetcher downloads a media payload and reports its content type.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// HTTPFetcherConfig configures the HTTP media fetcher.
type HTTPFetcherConfig struct {
	// Username and Password are sent as basic auth when set. Twilio
	// media URLs require the account credentials.
	Username string
	Password string

	// MaxBytes caps the downloaded payload (default: 25 MiB).
	MaxBytes int64

	// Timeout bounds each download attempt (default: 30s).
	Timeout time.Duration
}

// HTTPFetcher downloads media over HTTP. Client errors (4xx) are
// permanent; everything else is retryable by the caller.
type HTTPFetcher struct {
	username   string
	password   string
	maxBytes   int64
	httpClient *http.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a media fetcher.
func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxMediaBytes
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		username:   cfg.Username,
		password:   cfg.Password,
		maxBytes:   maxBytes,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch downloads one URL.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", retry.Permanent(err)
	}
	if f.username != "" {
		req.SetBasicAuth(f.username, f.password)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("media download: status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, "", retry.Permanent(err)
		}
		return nil, "", err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", retry.Permanent(fmt.Errorf("media payload exceeds %d bytes", f.maxBytes))
	}
	return data, resp.Header.Get("Content-Type"), nil
}
