package condprovider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/dgduncan/go-cond-provider/caches"
)

// State is the freshness state a fetch ended in.
type State int

const (
	// StateNoEntry means nothing usable was stored and the origin could not be reached.
	StateNoEntry State = iota
	// StateFresh means the stored response was served without contacting the origin.
	StateFresh
	// StateStale means the stored response is older than TTLMinutes. It is the
	// state a fetch passes through before revalidating and is never final.
	StateStale
	// StateRevalidated means the origin answered, either 304 or a full response.
	StateRevalidated
	// StateFailedStaleServe means the origin could not be reached and the stored
	// response was served instead.
	StateFailedStaleServe
)

func (s State) String() string {
	switch s {
	case StateNoEntry:
		return "no_entry"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateRevalidated:
		return "revalidated"
	case StateFailedStaleServe:
		return "failed_stale_serve"
	default:
		return "unknown"
	}
}

// Outcome describes what a fetch did besides returning a response.
type Outcome struct {
	State State

	// EntryFound is set when a usable entry was read from the store.
	EntryFound bool

	// NotModified is set when the origin answered 304 and the stored body was served.
	NotModified bool

	// Stored is set when an entry was written to the store.
	Stored bool
}

// RequestOptions are per call request settings.
type RequestOptions struct {
	// Headers are sent with the request. Validators taken from a stored entry
	// replace If-None-Match and If-Modified-Since given here.
	Headers map[string]string
}

// Provider is the conditional cache provider. It serves stored responses within
// the soft TTL, revalidates them with their validators afterwards and falls back
// to them when the origin can not be reached.
//
// Concurrent fetches of the same URL are not coordinated; the last write wins.
// Wrap the provider in a Coalescer for single-flight behaviour.
type Provider struct {
	store     Store
	transport Transport

	logger zerolog.Logger
	now    func() time.Time

	c Config
}

// NewProvider creates a provider reading and writing store and fetching through
// transport.
//
// If 'now' is nil, time.Now is used. If 'logger' is nil, logging is disabled.
func NewProvider(
	store Store,
	transport Transport,
	cfg Config,
	now func() time.Time,
	logger *zerolog.Logger,
) (*Provider, error) {
	if store == nil {
		return nil, caches.ValidationError{Reason: "nil store"}
	}
	if transport == nil {
		return nil, caches.ValidationError{Reason: "nil transport"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if now == nil {
		now = time.Now
	}

	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}

	return &Provider{
		store:     store,
		transport: transport,
		logger:    l.With().Str("namespace", cfg.Namespace).Logger(),
		now:       now,
		c:         cfg,
	}, nil
}

// Config returns the provider configuration.
func (p *Provider) Config() Config {
	return p.c
}

// Fetch returns the response for url, from the store or the origin.
//
// Only a transport failure without a stored fallback is returned as an error;
// store failures degrade to a cache miss.
func (p *Provider) Fetch(ctx context.Context, url string, opts RequestOptions) (*Response, error) {
	resp, _, err := p.FetchWithOutcome(ctx, url, opts)
	return resp, err
}

// FetchWithOutcome is Fetch that also reports what happened.
//
// The process follows these steps:
// 1. Reads the entry for the normalized url
// 2. Returns it without a request while younger than TTLMinutes
// 3. Requests the url with the entry's validators
// 4. On 304 refreshes the entry timestamp and serves the stored response
// 5. On any other response stores it if the cache policy allows
// 6. On transport failure serves the stored response if there is one.
func (p *Provider) FetchWithOutcome(ctx context.Context, url string, opts RequestOptions) (*Response, Outcome, error) {
	key, err := caches.Key(url)
	if err != nil {
		return nil, Outcome{}, err
	}
	logger := p.logger.With().Str("url", key).Logger()

	entry := p.lookup(ctx, key, logger)

	if entry != nil && p.isFresh(entry, p.now(), logger) {
		logger.Debug().Str("timestamp", entry.Timestamp).Msg("cache entry fresh, skipping request")
		return entry.HTTPResponse, p.done(Outcome{State: StateFresh, EntryFound: true}), nil
	}

	headers := requestHeaders(opts.Headers, entry)
	if entry != nil && (entry.ETag != "" || entry.LastModified != "") {
		logger.Debug().
			Str("etag", entry.ETag).
			Str("last_modified", entry.LastModified).
			Msg("cache entry stale, attempting revalidation")
		ConditionalRequests.WithLabelValues(p.c.Namespace).Inc()
	}

	resp, transportErr := p.transport.Request(ctx, url, headers)
	if transportErr != nil {
		if entry == nil {
			logger.Debug().Err(transportErr).Msg("request failed without cache entry")
			return nil, p.done(Outcome{State: StateNoEntry}), transportErr
		}
		logger.Warn().Err(transportErr).Str("timestamp", entry.Timestamp).Msg("request failed, serving stale cache entry")
		return entry.HTTPResponse, p.done(Outcome{State: StateFailedStaleServe, EntryFound: true}), nil
	}

	if resp.StatusCode == http.StatusNotModified && entry == nil {
		// conditional headers came from the caller, there is nothing to refresh
		logger.Debug().Msg("not modified without cache entry, passing through")
		return resp, p.done(Outcome{State: StateRevalidated, NotModified: true}), nil
	}

	// re-validation successful
	if resp.StatusCode == http.StatusNotModified {
		NotModified.WithLabelValues(p.c.Namespace).Inc()
		logger.Debug().Msg("cache entry successfully revalidated")

		outcome := Outcome{State: StateRevalidated, EntryFound: true, NotModified: true}
		if p.isCacheable(resp) {
			revalidated := &CacheEntry{
				ETag:         firstNonEmpty(headerValue(resp.Headers, headerETag), entry.ETag),
				LastModified: firstNonEmpty(headerValue(resp.Headers, headerLastModified), entry.LastModified),
				HTTPResponse: entry.HTTPResponse,
				Timestamp:    FormatTimestamp(p.now()),
			}
			outcome.Stored = p.persist(ctx, key, revalidated, logger)
		}
		return entry.HTTPResponse, p.done(outcome), nil
	}

	outcome := Outcome{State: StateRevalidated, EntryFound: entry != nil}
	switch {
	case !p.isCacheable(resp):
		logger.Debug().Int("status_code", resp.StatusCode).Msg("response not cacheable")
	case !utf8.ValidString(resp.Body):
		// the stored layout keeps the body as a JSON string, which can not
		// carry arbitrary bytes
		logger.Debug().Int("status_code", resp.StatusCode).Msg("binary response body, not caching")
	default:
		outcome.Stored = p.persist(ctx, key, newEntry(resp, p.now()), logger)
	}

	return resp, p.done(outcome), nil
}

// lookup reads the entry for key. Misses, store failures and malformed entries
// all come back as nil.
func (p *Provider) lookup(ctx context.Context, key string, logger zerolog.Logger) *CacheEntry {
	entry, err := p.store.Get(ctx, p.c.Namespace, key)
	switch {
	case errors.Is(err, caches.ErrNoCacheItem):
		logger.Debug().Msg("cache item not found")
		return nil
	case errors.Is(err, caches.ErrMalformedEntry):
		logger.Warn().Err(err).Msg("ignoring malformed cache item")
		return nil
	case err != nil:
		StoreErrors.WithLabelValues(p.c.Namespace, "get").Inc()
		logger.Warn().Err(err).Msg("error reading cache, treating as miss")
		return nil
	}

	if err := entry.Validate(); err != nil {
		logger.Warn().Err(err).Msg("ignoring malformed cache item")
		return nil
	}
	return entry
}

func (p *Provider) isFresh(entry *CacheEntry, now time.Time, logger zerolog.Logger) bool {
	if p.c.TTLMinutes <= 0 {
		return false
	}
	writtenAt, err := entry.WrittenAt()
	if err != nil {
		logger.Debug().Err(err).Str("timestamp", entry.Timestamp).Msg("unreadable cache timestamp, revalidating")
		return false
	}
	return now.Sub(writtenAt) < time.Duration(p.c.TTLMinutes)*time.Minute
}

func (p *Provider) isCacheable(resp *Response) bool {
	return IsCacheable(resp.Headers, !p.c.IgnoreCacheControl, p.c.Settings.CachePrivatePackages())
}

// persist writes entry and reports whether it was stored. Failures are logged
// and swallowed.
func (p *Provider) persist(ctx context.Context, key string, entry *CacheEntry, logger zerolog.Logger) bool {
	if err := p.store.Set(ctx, p.c.Namespace, key, entry, p.c.storeTTLMinutes()); err != nil {
		StoreErrors.WithLabelValues(p.c.Namespace, "set").Inc()
		logger.Warn().Err(err).Msg("error caching response")
		return false
	}
	StoreWrites.WithLabelValues(p.c.Namespace).Inc()
	logger.Debug().Str("etag", entry.ETag).Str("timestamp", entry.Timestamp).Msg("cached response")
	return true
}

func (p *Provider) done(o Outcome) Outcome {
	FetchTotal.WithLabelValues(p.c.Namespace, o.State.String()).Inc()
	return o
}

// requestHeaders merges caller headers with the conditional headers of entry.
func requestHeaders(base map[string]string, entry *CacheEntry) map[string]string {
	headers := make(map[string]string, len(base)+2)
	for k, v := range base {
		headers[k] = v
	}
	if entry == nil {
		return headers
	}

	// Add ETag-based conditional header if available
	if entry.ETag != "" {
		setHeader(headers, headerIfNoneMatch, entry.ETag)
	}

	// Add Last-Modified-based conditional header if available
	if entry.LastModified != "" {
		setHeader(headers, headerIfModifiedSince, entry.LastModified)
	}
	return headers
}

// setHeader sets name, replacing any entry that differs only in case.
func setHeader(headers map[string]string, name, value string) {
	for k := range headers {
		if strings.EqualFold(k, name) {
			delete(headers, k)
		}
	}
	headers[name] = value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
