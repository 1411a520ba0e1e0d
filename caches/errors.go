package caches

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("creation of cache failed for reason : %s ", ve.Reason)
}

var (
	// ErrNoCacheItem is returned by stores when nothing is stored under a key or
	// the stored item outlived its TTL hint.
	ErrNoCacheItem = errors.New("no value found in cache")

	// ErrMalformedEntry is returned when a stored value can not be decoded into
	// a cache entry.
	ErrMalformedEntry = errors.New("malformed cache entry")

	// ErrInvalidURL is returned when a request URL can not be turned into a key.
	ErrInvalidURL = errors.New("invalid request url")
)
