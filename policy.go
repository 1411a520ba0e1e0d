package condprovider

import (
	"net/http"
	"strings"
)

const (
	headerCacheControl = "Cache-Control"
	headerETag         = "ETag"

	headerIfNoneMatch = "If-None-Match"

	headerLastModified    = "Last-Modified"
	headerIfModifiedSince = "If-Modified-Since"
)

const (
	directiveCacheControlPrivate = "private"
)

// IsCacheable decides whether a response with the given headers may be
// persisted. Only a Cache-Control private directive blocks caching, and only
// when checkCacheControl is set and cachePrivate is not.
func IsCacheable(headers map[string]string, checkCacheControl, cachePrivate bool) bool {
	if !checkCacheControl || cachePrivate {
		return true
	}
	return !HasCacheControlDirective(headerValue(headers, headerCacheControl), directiveCacheControlPrivate)
}

// HasCacheControlDirective reports whether the Cache-Control value carries the
// directive. Names compare case-insensitively, arguments are ignored and unknown
// directives are skipped. Commas inside quoted arguments such as
// no-cache="Set-Cookie, private" do not separate directives.
func HasCacheControlDirective(cacheControl, directive string) bool {
	for _, d := range splitDirectives(cacheControl) {
		name, _, _ := strings.Cut(strings.TrimSpace(d), "=")
		if strings.EqualFold(strings.TrimSpace(name), directive) {
			return true
		}
	}
	return false
}

// splitDirectives splits a Cache-Control value on commas outside of quoted
// strings. An unterminated quote runs to the end of the value.
func splitDirectives(cacheControl string) []string {
	var (
		parts   []string
		start   int
		quoted  bool
		escaped bool
	)
	for i := 0; i < len(cacheControl); i++ {
		switch c := cacheControl[i]; {
		case escaped:
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == ',' && !quoted:
			parts = append(parts, cacheControl[start:i])
			start = i + 1
		}
	}
	return append(parts, cacheControl[start:])
}

// headerValue looks a header up by case-insensitive name.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	if v, ok := headers[http.CanonicalHeaderKey(name)]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
