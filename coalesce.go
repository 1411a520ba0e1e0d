package condprovider

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/dgduncan/go-cond-provider/caches"
)

// Coalescer collapses concurrent fetches of the same URL with the same request
// headers into a single provider call. Callers of a collapsed fetch share the
// returned *Response and must not modify it.
type Coalescer struct {
	provider *Provider
	group    singleflight.Group
}

// NewCoalescer wraps p.
func NewCoalescer(p *Provider) *Coalescer {
	return &Coalescer{provider: p}
}

type coalescedResult struct {
	resp    *Response
	outcome Outcome
}

// Fetch behaves like Provider.Fetch. The context of the first caller is used
// for the shared call.
func (c *Coalescer) Fetch(ctx context.Context, url string, opts RequestOptions) (*Response, error) {
	resp, _, _, err := c.FetchWithOutcome(ctx, url, opts)
	return resp, err
}

// FetchWithOutcome behaves like Provider.FetchWithOutcome and additionally
// reports whether the result was shared with another caller.
func (c *Coalescer) FetchWithOutcome(ctx context.Context, url string, opts RequestOptions) (*Response, Outcome, bool, error) {
	key, err := caches.Key(url)
	if err != nil {
		return nil, Outcome{}, false, err
	}

	v, err, shared := c.group.Do(flightKey(key, opts.Headers), func() (interface{}, error) {
		resp, outcome, err := c.provider.FetchWithOutcome(ctx, url, opts)
		return coalescedResult{resp: resp, outcome: outcome}, err
	})
	res := v.(coalescedResult)
	return res.resp, res.outcome, shared, err
}

func flightKey(key string, headers map[string]string) string {
	if len(headers) == 0 {
		return key
	}
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(key)
	for _, k := range names {
		b.WriteString("\n")
		b.WriteString(strings.ToLower(k))
		b.WriteString(": ")
		b.WriteString(headers[k])
	}
	return b.String()
}
