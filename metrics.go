package condprovider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchTotal counts provider calls by the freshness state they ended in.
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "condprovider_fetch_total",
			Help: "Total number of provider fetches by final state",
		},
		[]string{"namespace", "state"},
	)

	// ConditionalRequests counts requests sent with If-None-Match or If-Modified-Since.
	ConditionalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "condprovider_conditional_requests_total",
			Help: "Total number of conditional requests sent to the origin",
		},
		[]string{"namespace"},
	)

	// NotModified counts 304 Not Modified responses.
	NotModified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "condprovider_not_modified_total",
			Help: "Total number of 304 Not Modified responses",
		},
		[]string{"namespace"},
	)

	// StoreWrites counts successful cache entry writes.
	StoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "condprovider_store_writes_total",
			Help: "Total number of cache entries written",
		},
		[]string{"namespace"},
	)

	// StoreErrors counts swallowed store failures by operation.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "condprovider_store_errors_total",
			Help: "Total number of cache store errors",
		},
		[]string{"namespace", "operation"}, // "get", "set"
	)
)
