package condprovider_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	condprovider "github.com/dgduncan/go-cond-provider"
	"github.com/dgduncan/go-cond-provider/caches"
	"github.com/dgduncan/go-cond-provider/caches/local"
)

func newTestClient(t *testing.T, cache condprovider.Store, cfg condprovider.Config, now func() time.Time) *http.Client {
	t.Helper()

	logger := zerolog.New(io.Discard)
	middleware, err := condprovider.New(cache, cfg, now, &logger)
	if err != nil {
		t.Fatalf("creating middleware: %v", err)
	}
	return &http.Client{Transport: middleware(http.DefaultTransport)}
}

func get(t *testing.T, client *http.Client, url string, header http.Header) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, string(body)
}

func TestETagConditionalRequest(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == `"abc123"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("original content"))
	}))
	defer server.Close()

	clk := newClock(testTime())
	cache := local.NewBasicCacheWithTimeFunc(clk.Now)
	client := newTestClient(t, cache, condprovider.DefaultConfig("http"), clk.Now)

	resp, body := get(t, client, server.URL, nil)
	if body != "original content" {
		t.Fatalf("expected original content, got %q", body)
	}
	if got := resp.Header.Get("Cache-Status"); got != "condprovider; fwd=uri-miss; fwd-status=200; stored" {
		t.Errorf("unexpected Cache-Status %q", got)
	}

	// within the freshness window the origin is not contacted
	clk.Set(testTime().Add(5 * time.Minute))
	resp, body = get(t, client, server.URL, nil)
	if body != "original content" {
		t.Fatalf("expected cached content, got %q", body)
	}
	if got := resp.Header.Get("Cache-Status"); got != "condprovider; hit" {
		t.Errorf("unexpected Cache-Status %q", got)
	}
	if n := requests.Load(); n != 1 {
		t.Fatalf("expected 1 origin request, got %d", n)
	}

	clk.Set(testTime().Add(30 * time.Minute))
	resp, body = get(t, client, server.URL, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if body != "original content" {
		t.Fatalf("expected cached content after revalidation, got %q", body)
	}
	if got := resp.Header.Get("Cache-Status"); got != "condprovider; fwd=stale; fwd-status=304; stored" {
		t.Errorf("unexpected Cache-Status %q", got)
	}
	if n := requests.Load(); n != 2 {
		t.Fatalf("expected 2 origin requests, got %d", n)
	}

	key, err := caches.Key(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := cache.Get(context.Background(), "http", key)
	if err != nil {
		t.Fatalf("expected stored entry: %v", err)
	}
	if entry.Timestamp != "2020-01-01T00:30:00.000Z" {
		t.Errorf("expected refreshed timestamp, got %s", entry.Timestamp)
	}
}

func TestIfModifiedSinceConditionalRequest(t *testing.T) {
	t.Parallel()

	const lastModified = "Wed, 21 Oct 2015 07:28:00 GMT"

	var conditional atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Modified-Since") == lastModified {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Last-Modified", lastModified)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("content"))
	}))
	defer server.Close()

	clk := newClock(testTime())
	cache := local.NewBasicCacheWithTimeFunc(clk.Now)
	cfg := condprovider.DefaultConfig("http")
	cfg.TTLMinutes = 0
	client := newTestClient(t, cache, cfg, clk.Now)

	get(t, client, server.URL, nil)
	resp, body := get(t, client, server.URL, nil)

	if conditional.Load() != 1 {
		t.Fatalf("expected one conditional request, got %d", conditional.Load())
	}
	if resp.StatusCode != http.StatusOK || body != "content" {
		t.Errorf("expected stored 200 response, got %d %q", resp.StatusCode, body)
	}
	if resp.ContentLength != int64(len("content")) {
		t.Errorf("expected content length %d, got %d", len("content"), resp.ContentLength)
	}
}

func TestPrivateResponsesAreNotStored(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("ETag", `"private"`)
		w.Header().Set("Cache-Control", "private, max-age=60")
		w.Write([]byte("secret"))
	}))
	defer server.Close()

	cache := local.NewBasicCacheWithTimeFunc(testTime)
	client := newTestClient(t, cache, condprovider.DefaultConfig("http"), testTime)

	resp, _ := get(t, client, server.URL, nil)
	if got := resp.Header.Get("Cache-Status"); got != "condprovider; fwd=uri-miss; fwd-status=200" {
		t.Errorf("unexpected Cache-Status %q", got)
	}
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, got %d items", cache.Len())
	}
}

func TestBinaryResponsesSurviveRepeatedFetches(t *testing.T) {
	t.Parallel()

	payload := []byte("\x1f\x8b\xff\xfe\x00A")
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.Header().Set("ETag", `"gz"`)
		w.Header().Set("Content-Type", "application/gzip")
		w.Write(payload)
	}))
	defer server.Close()

	cache := local.NewBasicCacheWithTimeFunc(testTime)
	client := newTestClient(t, cache, condprovider.DefaultConfig("http"), testTime)

	for i := 0; i < 2; i++ {
		resp, body := get(t, client, server.URL, nil)
		if body != string(payload) {
			t.Fatalf("fetch %d: expected %q, got %q", i, payload, body)
		}
		if got := resp.Header.Get("Cache-Status"); got != "condprovider; fwd=uri-miss; fwd-status=200" {
			t.Errorf("fetch %d: unexpected Cache-Status %q", i, got)
		}
	}

	if n := requests.Load(); n != 2 {
		t.Errorf("expected 2 origin requests, got %d", n)
	}
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, got %d items", cache.Len())
	}
}

func TestServerErrorServesStoredResponse(t *testing.T) {
	t.Parallel()

	var failing atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if failing.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("v1"))
	}))
	defer server.Close()

	clk := newClock(testTime())
	cache := local.NewBasicCacheWithTimeFunc(clk.Now)
	client := newTestClient(t, cache, condprovider.DefaultConfig("http"), clk.Now)

	get(t, client, server.URL, nil)

	failing.Store(true)
	clk.Set(testTime().Add(time.Hour))
	resp, body := get(t, client, server.URL, nil)
	if resp.StatusCode != http.StatusOK || body != "v1" {
		t.Fatalf("expected stored response, got %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Cache-Status"); got != "condprovider; hit; detail=stale-on-error" {
		t.Errorf("unexpected Cache-Status %q", got)
	}
}

func TestServerErrorWithoutStoredResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	cache := local.NewBasicCacheWithTimeFunc(testTime)
	client := newTestClient(t, cache, condprovider.DefaultConfig("http"), testTime)

	resp, body := get(t, client, server.URL, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", resp.StatusCode)
	}
	if body != "broken\n" {
		t.Errorf("unexpected body %q", body)
	}
	if got := resp.Header.Get("Cache-Status"); got != "condprovider; fwd=uri-miss; fwd-status=500" {
		t.Errorf("unexpected Cache-Status %q", got)
	}
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, got %d items", cache.Len())
	}
}

func TestNonGETRequestsPassThrough(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("ETag", `"post"`)
		w.Write([]byte(r.Method))
	}))
	defer server.Close()

	cache := local.NewBasicCacheWithTimeFunc(testTime)
	client := newTestClient(t, cache, condprovider.DefaultConfig("http"), testTime)

	for i := 0; i < 2; i++ {
		resp, err := client.Post(server.URL, "text/plain", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.Header.Get("Cache-Status") != "" {
			t.Errorf("unexpected Cache-Status on POST")
		}
	}

	if requests.Load() != 2 {
		t.Errorf("expected 2 origin requests, got %d", requests.Load())
	}
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, got %d items", cache.Len())
	}
}

func TestRequestHeadersAreForwarded(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("Authorization")))
	}))
	defer server.Close()

	cache := local.NewBasicCacheWithTimeFunc(testTime)
	client := newTestClient(t, cache, condprovider.DefaultConfig("http"), testTime)

	_, body := get(t, client, server.URL, http.Header{"Authorization": {"Bearer token"}})
	if body != "Bearer token" {
		t.Errorf("expected forwarded header, got %q", body)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		store   condprovider.Store
		cfg     condprovider.Config
		wantErr string
	}{
		{
			name:    "nil store",
			cfg:     condprovider.DefaultConfig("http"),
			wantErr: "creation of cache failed for reason : nil store ",
		},
		{
			name:    "empty namespace",
			store:   local.NewBasicCache(),
			wantErr: "creation of cache failed for reason : namespace is required ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := condprovider.New(tt.store, tt.cfg, nil, nil)
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("expected error %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestHTTPTransport(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Add("Vary", "Accept")
			w.Header().Add("Vary", "Accept-Encoding")
			w.Write([]byte(r.Header.Get("If-None-Match")))
		case "/fail":
			w.WriteHeader(http.StatusBadGateway)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	transport := condprovider.NewHTTPTransport(server.Client())

	resp, err := transport.Request(ctx, server.URL+"/ok", map[string]string{"If-None-Match": `"x"`})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.Body != `"x"` {
		t.Errorf("expected request headers to be sent, got %q", resp.Body)
	}
	if resp.Headers["Vary"] != "Accept, Accept-Encoding" {
		t.Errorf("expected joined header values, got %q", resp.Headers["Vary"])
	}

	resp, err = transport.Request(ctx, server.URL+"/missing", nil)
	if err != nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 response, got %v %v", resp, err)
	}

	_, err = transport.Request(ctx, server.URL+"/fail", nil)
	var netErr *condprovider.NetworkError
	if !errors.As(err, &netErr) || netErr.StatusCode != http.StatusBadGateway || netErr.Response == nil {
		t.Fatalf("expected network error with response, got %v", err)
	}
	if !errors.Is(err, condprovider.ErrNetwork) {
		t.Errorf("expected ErrNetwork, got %v", err)
	}

	lenient := &condprovider.HTTPTransport{Client: server.Client()}
	resp, err = lenient.Request(ctx, server.URL+"/fail", nil)
	if err != nil || resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502 response, got %v %v", resp, err)
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	_, err = transport.Request(ctx, closed.URL, nil)
	if !errors.Is(err, condprovider.ErrNetwork) {
		t.Errorf("expected ErrNetwork for unreachable origin, got %v", err)
	}
}
