package condprovider

import (
	"errors"
	"fmt"
)

// ErrNetwork is matched by every error a Transport reports for a request that
// could not be completed.
var ErrNetwork = errors.New("network error")

// NetworkError describes a failed transport call. StatusCode and Response are
// set when the transport was configured to treat a server error status as a
// failure.
type NetworkError struct {
	URL        string
	StatusCode int
	Response   *Response
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request to %s failed with status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNetwork}
	}
	return []error{ErrNetwork, e.Err}
}
