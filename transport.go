package condprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dgduncan/go-cond-provider/caches"
)

// Transport performs a single GET request. It only fails when the request could
// not be completed; status codes are not interpreted unless the implementation
// documents otherwise.
type Transport interface {
	Request(ctx context.Context, url string, headers map[string]string) (*Response, error)
}

// HTTPTransport implements Transport on top of an http.Client.
type HTTPTransport struct {
	// Client performs the requests. If nil, http.DefaultClient is used.
	Client *http.Client

	// ServerErrorsAsFailures turns 5xx responses into a *NetworkError so that a
	// stored response is served instead.
	ServerErrorsAsFailures bool
}

// NewHTTPTransport returns an HTTPTransport using client that treats server
// errors as failures.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	return &HTTPTransport{Client: client, ServerErrorsAsFailures: true}
}

// Request implements Transport.
func (t *HTTPTransport) Request(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("read response body: %w", err)}
	}

	resp := &Response{
		StatusCode: res.StatusCode,
		Headers:    flattenHeader(res.Header),
		Body:       string(body),
	}

	if t.ServerErrorsAsFailures && res.StatusCode >= http.StatusInternalServerError {
		return nil, &NetworkError{URL: url, StatusCode: res.StatusCode, Response: resp}
	}

	return resp, nil
}

// CacheTransport implements http.RoundTripper and routes GET requests through a
// Provider. Other methods go to Wrapped untouched.
type CacheTransport struct {
	Wrapped http.RoundTripper

	provider *Provider
}

// RoundTrip implements http.RoundTripper. Responses produced by the provider
// carry a Cache-Status header.
func (c *CacheTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Method != http.MethodGet {
		return c.Wrapped.RoundTrip(r)
	}

	resp, outcome, err := c.provider.FetchWithOutcome(r.Context(), r.URL.String(), RequestOptions{
		Headers: flattenHeader(r.Header),
	})
	if err != nil {
		// a server error without a stored fallback is still a response to the client
		var netErr *NetworkError
		if errors.As(err, &netErr) && netErr.Response != nil {
			cs := CacheStatus{FwdReason: FwdReasonURIMiss, FwdStatus: netErr.StatusCode}
			return toHTTPResponse(netErr.Response, r, cs), nil
		}
		return nil, err
	}

	return toHTTPResponse(resp, r, CacheStatusFromOutcome(outcome, resp.StatusCode)), nil
}

// New creates a transport middleware that adds conditional caching to an HTTP
// RoundTripper.
//
// The middleware uses the provided Store for cache entries and the wrapped
// RoundTripper for origin requests. Server errors are treated as failures so
// stored responses are served in their place.
// If the 'now' function is nil, time.Now will be used as the default time provider.
// If the 'logger' is nil, logging is disabled.
//
// The returned function wraps the given http.RoundTripper with caching functionality:
//   - Serves stored responses within cfg.TTLMinutes without a request
//   - Revalidates with If-None-Match and If-Modified-Since afterwards
//   - Skips storing Cache-Control: private responses unless configured otherwise
//   - Serves stored responses when the origin can not be reached
func New(
	store Store,
	cfg Config,
	now func() time.Time,
	logger *zerolog.Logger,
) (func(http.RoundTripper) http.RoundTripper, error) {
	if store == nil {
		return nil, caches.ValidationError{Reason: "nil store"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return func(rt http.RoundTripper) http.RoundTripper {
		if rt == nil {
			rt = http.DefaultTransport
		}
		// store and cfg are validated above
		p, err := NewProvider(store, NewHTTPTransport(&http.Client{Transport: rt}), cfg, now, logger)
		if err != nil {
			panic(err)
		}
		return &CacheTransport{Wrapped: rt, provider: p}
	}, nil
}

func toHTTPResponse(resp *Response, r *http.Request, cs CacheStatus) *http.Response {
	header := make(http.Header, len(resp.Headers)+1)
	for k, v := range resp.Headers {
		header.Set(k, v)
	}
	header.Add(headerCacheStatus, cs.String())

	// ContentLength is taken from the body
	header.Del("Content-Length")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       r,
	}
}

// flattenHeader joins repeated header values with ", ".
func flattenHeader(h http.Header) map[string]string {
	m := make(map[string]string, len(h))
	for k, vv := range h {
		m[k] = strings.Join(vv, ", ")
	}
	return m
}
