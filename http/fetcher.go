// Package http provides the plain GET fetcher used to retrieve bundle
// manifests and download chunks.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"

	"github.com/meigma/bundle/internal/bundletype"
	"github.com/meigma/bundle/internal/sizing"
)

// DefaultMaxBytes bounds a single response body when no limit is configured.
const DefaultMaxBytes int64 = 1 << 30 // 1 GiB

// maxDrainBytes bounds how much of an unread body is discarded so the
// connection can be reused. Larger bodies close the connection instead.
const maxDrainBytes = 64 << 10

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// ErrResponseTooLarge is returned when a response body exceeds the limit.
var ErrResponseTooLarge = fmt.Errorf("%w: response body too large", bundletype.ErrSizeOverflow)

// Fetcher retrieves whole resources with simple GET requests.
type Fetcher struct {
	client   *nethttp.Client
	headers  nethttp.Header
	maxBytes int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(f *Fetcher) {
		if headers == nil {
			return
		}
		f.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		if f.headers == nil {
			f.headers = make(nethttp.Header)
		}
		f.headers.Set(key, value)
	}
}

// WithUserAgent sets the User-Agent header on each request.
func WithUserAgent(ua string) Option {
	return WithHeader("User-Agent", ua)
}

// WithMaxBytes bounds the size of a single response body.
// Use a negative value to disable the limit.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		f.maxBytes = n
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   nethttp.DefaultClient,
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = nethttp.DefaultClient
	}
	return f
}

// Get fetches url and returns the full response body.
// Any status outside 2xx yields a *StatusError.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := f.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, ErrResponseTooLarge
	}

	data, err := sizing.ReadAllWithLimit(resp.Body, f.maxBytes, ErrResponseTooLarge)
	if err != nil {
		if errors.Is(err, ErrResponseTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	return data, nil
}

func (f *Fetcher) newRequest(ctx context.Context, url string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range f.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return req, nil
}
