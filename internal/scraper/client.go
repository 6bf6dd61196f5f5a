// Package scraper fetches product pages and extracts the current listing.
//
// Requests go through a token bucket limiter and, optionally, a rotating
// HTTP proxy. Only hosts on the allow list are contacted, redirects
// included. Retries are left to the caller's next run.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/albapepper/pricewise/internal/product"
)

// Error kinds returned by Fetch. Match with errors.Is.
var (
	ErrNotFound = errors.New("listing not found")
	ErrParse    = errors.New("listing parse failure")
	ErrNetwork  = errors.New("network error")

	// ErrHostNotAllowed marks a URL or redirect outside the allow list.
	ErrHostNotAllowed = errors.New("host not allowed")
)

const defaultMaxPageBytes = 8 << 20

// FetchError is the failure of a single fetch, tagged with its kind.
type FetchError struct {
	URL  string
	Kind error
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %v: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Config configures the HTTP client.
type Config struct {
	RequestsPerMinute int
	Timeout           time.Duration
	UserAgent         string
	ProxyURL          string // empty = direct

	// AllowedHosts limits which hosts are fetched; nil means any host.
	AllowedHosts []string

	// MaxPageBytes caps the page size read; larger pages fail with ErrParse.
	MaxPageBytes int64
}

// Client is the shared HTTP client for product pages.
type Client struct {
	httpClient *http.Client
	userAgent  string
	allowed    []string
	maxBytes   int64
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a rate-limited page client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxPageBytes <= 0 {
		cfg.MaxPageBytes = defaultMaxPageBytes
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	rps := float64(cfg.RequestsPerMinute) / 60.0
	c := &Client{
		userAgent: cfg.UserAgent,
		allowed:   cfg.AllowedHosts,
		maxBytes:  cfg.MaxPageBytes,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		logger:    logger,
	}
	c.httpClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			if !c.Allows(req.URL.String()) {
				return fmt.Errorf("redirect to %s: %w", req.URL.Host, ErrHostNotAllowed)
			}
			return nil
		},
	}
	return c, nil
}

// Allows reports whether rawURL may be fetched by this client.
func (c *Client) Allows(rawURL string) bool {
	if c.allowed == nil {
		return true
	}
	return HostAllowed(rawURL, c.allowed)
}

// Fetch downloads the page at rawURL and extracts its listing.
func (c *Client) Fetch(ctx context.Context, rawURL string) (product.Listing, error) {
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return product.Listing{}, err
	}

	listing, err := Parse(body)
	if err != nil {
		return product.Listing{}, &FetchError{URL: rawURL, Kind: ErrParse, Err: err}
	}
	listing.URL = rawURL
	c.logger.Debug("Fetched listing", "url", rawURL, "price", listing.CurrentPrice, "in_stock", listing.InStock)
	return listing, nil
}

// get performs a rate-limited GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if !c.Allows(rawURL) {
		return nil, &FetchError{URL: rawURL, Kind: ErrHostNotAllowed}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{URL: rawURL, Kind: ErrNetwork, Err: fmt.Errorf("rate limit wait: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Kind: ErrNetwork, Err: fmt.Errorf("create request: %w", err)}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.httpClient.Do(req)
	if errors.Is(err, ErrHostNotAllowed) {
		return nil, &FetchError{URL: rawURL, Kind: ErrHostNotAllowed, Err: err}
	}
	if err != nil {
		return nil, &FetchError{URL: rawURL, Kind: ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Kind: ErrNetwork, Err: fmt.Errorf("read response body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &FetchError{URL: rawURL, Kind: ErrNotFound, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &FetchError{URL: rawURL, Kind: ErrNetwork, Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200))}
	case int64(len(body)) > c.maxBytes:
		return nil, &FetchError{URL: rawURL, Kind: ErrParse, Err: fmt.Errorf("page larger than %d bytes", c.maxBytes)}
	}
	return body, nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
