package condprovider_test

import (
	"context"
	"sync"
	"time"

	condprovider "github.com/dgduncan/go-cond-provider"
	"github.com/dgduncan/go-cond-provider/caches/local"
)

func testTime() time.Time {
	return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// recordingStore wraps a BasicCache and counts calls. getErr and setErr make
// the corresponding call fail.
type recordingStore struct {
	*local.BasicCache

	mu     sync.Mutex
	gets   int
	sets   int
	ttls   []int
	getErr error
	setErr error
}

func newRecordingStore(now func() time.Time) *recordingStore {
	return &recordingStore{BasicCache: local.NewBasicCacheWithTimeFunc(now)}
}

func (s *recordingStore) Get(ctx context.Context, namespace, key string) (*condprovider.CacheEntry, error) {
	s.mu.Lock()
	s.gets++
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.BasicCache.Get(ctx, namespace, key)
}

func (s *recordingStore) Set(ctx context.Context, namespace, key string, v *condprovider.CacheEntry, ttlMinutes int) error {
	s.mu.Lock()
	s.sets++
	s.ttls = append(s.ttls, ttlMinutes)
	err := s.setErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.BasicCache.Set(ctx, namespace, key, v, ttlMinutes)
}

func (s *recordingStore) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

type transportCall struct {
	url     string
	headers map[string]string
}

// scriptedTransport answers with respond and records every call.
type scriptedTransport struct {
	mu      sync.Mutex
	calls   []transportCall
	respond func(call transportCall) (*condprovider.Response, error)
}

func (t *scriptedTransport) Request(_ context.Context, url string, headers map[string]string) (*condprovider.Response, error) {
	call := transportCall{url: url, headers: headers}
	t.mu.Lock()
	t.calls = append(t.calls, call)
	t.mu.Unlock()
	return t.respond(call)
}

func (t *scriptedTransport) Calls() []transportCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transportCall(nil), t.calls...)
}

func respondWith(resp *condprovider.Response, err error) func(transportCall) (*condprovider.Response, error) {
	return func(transportCall) (*condprovider.Response, error) {
		if err != nil {
			return nil, err
		}
		// hand out a copy so callers can not alias stored state
		cp := *resp
		if resp.Headers != nil {
			cp.Headers = make(map[string]string, len(resp.Headers))
			for k, v := range resp.Headers {
				cp.Headers[k] = v
			}
		}
		return &cp, nil
	}
}
