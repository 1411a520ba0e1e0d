package condprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgduncan/go-cond-provider/caches"
)

// TimestampFormat is the layout of CacheEntry.Timestamp, an ISO-8601 instant in
// UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Response is the status, headers and body of an HTTP exchange as seen by the
// provider and as persisted inside a CacheEntry.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body"`
}

// CacheEntry is the persisted record for one namespace and URL. Field names are
// part of the stored layout shared with other processes.
type CacheEntry struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"lastModified,omitempty"`
	HTTPResponse *Response `json:"httpResponse"`
	Timestamp    string    `json:"timestamp"`
}

// Store persists cache entries. Get returns caches.ErrNoCacheItem when the key
// is unknown. ttlMinutes is a hint for the store's own expiry.
type Store interface {
	Get(ctx context.Context, namespace, key string) (*CacheEntry, error)
	Set(ctx context.Context, namespace, key string, v *CacheEntry, ttlMinutes int) error
}

// Validate reports whether the entry has the shape required to be served.
func (e *CacheEntry) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", caches.ErrMalformedEntry)
	}
	if e.HTTPResponse == nil {
		return fmt.Errorf("%w: missing httpResponse", caches.ErrMalformedEntry)
	}
	return nil
}

// WrittenAt parses Timestamp.
func (e *CacheEntry) WrittenAt() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// FormatTimestamp renders t the way CacheEntry.Timestamp stores it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// EncodeEntry serializes an entry into its persisted JSON layout.
func EncodeEntry(e *CacheEntry) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeEntry parses a persisted entry. Anything that does not decode into a
// valid entry is reported as caches.ErrMalformedEntry.
func DecodeEntry(b []byte) (*CacheEntry, error) {
	var e CacheEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", caches.ErrMalformedEntry, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func newEntry(resp *Response, now time.Time) *CacheEntry {
	return &CacheEntry{
		ETag:         headerValue(resp.Headers, headerETag),
		LastModified: headerValue(resp.Headers, headerLastModified),
		HTTPResponse: resp,
		Timestamp:    FormatTimestamp(now),
	}
}
