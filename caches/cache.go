package caches

import "time"

var (
	// DefaultExpiredDuration the default expired duration
	DefaultExpiredDuration = 7 * 24 * time.Hour

	// DefaultExpiredTaskTimer is the default duration of the expired task timer
	DefaultExpiredTaskTimer = 10 * time.Minute
)

// TTL converts a store TTL hint in minutes into a duration. Non-positive hints
// fall back to DefaultExpiredDuration.
func TTL(ttlMinutes int) time.Duration {
	if ttlMinutes <= 0 {
		return DefaultExpiredDuration
	}
	return time.Duration(ttlMinutes) * time.Minute
}
