// Package remote talks to the assembly repository over HTTPS. Every call is a
// single attempt; retry policy belongs to the caller.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/genome_downloader/internal/assembly"
)

// Common errors, carried inside assembly.NetworkError.
var (
	ErrNotFound     = errors.New("remote: resource not found")
	ErrForbidden    = errors.New("remote: access forbidden")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrServerError  = errors.New("remote: server error")
)

// Operation names used in NetworkError and spans.
const (
	OpFetchCatalog  = "fetch_catalog"
	OpFetchManifest = "fetch_manifest"
	OpFetchFile     = "fetch_file"
)

// Options configures the HTTP client.
type Options struct {
	// Timeout for an individual request, body included.
	// Default: 60s
	Timeout time.Duration

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:             60 * time.Second,
		MaxIdleConnsPerHost: 16,
		UserAgent:           "genome_downloader",
	}
}

// Client fetches catalogs, manifests and assembly files.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a Client. The transport is instrumented with otelhttp.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}

	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = DefaultOptions().MaxIdleConnsPerHost
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}

	return &Client{
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

// Open issues a GET and returns the response body with its advertised
// length (-1 when unknown). The caller must close the body.
func (c *Client) Open(ctx context.Context, operation, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, &assembly.NetworkError{Operation: operation, URL: url, Err: err}
	}

	if err := checkStatusCode(resp.StatusCode); err != nil {
		resp.Body.Close()

		return nil, 0, &assembly.NetworkError{Operation: operation, URL: url, StatusCode: resp.StatusCode, Err: err}
	}

	return resp.Body, resp.ContentLength, nil
}

// GetText fetches a whole text document.
func (c *Client) GetText(ctx context.Context, operation, url string) (string, error) {
	body, _, err := c.Open(ctx, operation, url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", &assembly.NetworkError{Operation: operation, URL: url, Err: err}
	}

	return string(data), nil
}

// Permanent reports whether retrying err cannot succeed: missing or
// forbidden resources and cancelled contexts.
func Permanent(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return true
	}

	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrUnauthorized)
}

func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return ErrServerError
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}
