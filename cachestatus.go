package condprovider

import (
	"fmt"
	"strings"
)

const (
	headerCacheStatus = "Cache-Status"

	cacheStatusName = "condprovider"
)

// Forward reasons used in the Cache-Status header.
const (
	FwdReasonURIMiss = "uri-miss"
	FwdReasonStale   = "stale"
)

// CacheStatus is a Cache-Status header member describing how a response was
// produced.
type CacheStatus struct {
	Hit       bool
	FwdReason string
	FwdStatus int
	Stored    bool
	Detail    string
}

// CacheStatusFromOutcome maps a fetch outcome to a Cache-Status member.
func CacheStatusFromOutcome(o Outcome, statusCode int) CacheStatus {
	switch o.State {
	case StateFresh:
		return CacheStatus{Hit: true}
	case StateFailedStaleServe:
		return CacheStatus{Hit: true, Detail: "stale-on-error"}
	}

	cs := CacheStatus{FwdReason: FwdReasonURIMiss, FwdStatus: statusCode, Stored: o.Stored}
	if o.EntryFound {
		cs.FwdReason = FwdReasonStale
	}
	if o.NotModified {
		cs.FwdStatus = 304
	}
	return cs
}

func (cs CacheStatus) String() string {
	parts := []string{cacheStatusName}
	if cs.Hit {
		parts = append(parts, "hit")
	} else if cs.FwdReason != "" {
		parts = append(parts, "fwd="+cs.FwdReason)
		if cs.FwdStatus != 0 {
			parts = append(parts, fmt.Sprintf("fwd-status=%d", cs.FwdStatus))
		}
	}
	if cs.Stored {
		parts = append(parts, "stored")
	}
	if cs.Detail != "" {
		parts = append(parts, "detail="+cs.Detail)
	}
	return strings.Join(parts, "; ")
}
