package models

import "time"

const (
	// DefaultStaleness is how long a cached availability snapshot is served
	// without refetching.
	DefaultStaleness = 30 * time.Second

	// DefaultRefreshInterval is the background availability poll period.
	DefaultRefreshInterval = 45 * time.Second

	// DefaultRequestTimeout bounds every server call.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultCacheMaxAge bounds entries in the persistent on-device cache.
	DefaultCacheMaxAge = 24 * time.Hour

	// DefaultFetchRetries is the bounded retry count before availability
	// falls back to last known-good data.
	DefaultFetchRetries = 3

	// DefaultBookingsTTL is how long the bookings projection is served from
	// cache between explicit refreshes.
	DefaultBookingsTTL = 5 * time.Minute
)
