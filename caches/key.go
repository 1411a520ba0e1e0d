package caches

import (
	"fmt"
	"net/url"
	"strings"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Key returns the store key for a request URL. Two URLs that only differ in the
// case of scheme or host, an explicit default port or a fragment share a key.
func Key(rawURL string) (string, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// NormalizeURL parses rawURL and returns its canonical form.
func NormalizeURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPorts[u.Scheme] {
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		u.Host = host + ":" + port
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	return u, nil
}

// NamespaceSeparator joins namespace and key in NamespacedKey. Namespaces must
// not contain it.
const NamespaceSeparator = "#"

// NamespacedKey joins a namespace and a key for backends with a flat keyspace.
func NamespacedKey(namespace, key string) string {
	return namespace + NamespaceSeparator + key
}
