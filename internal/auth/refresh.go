package auth

import "time"

// Refresh scheduling defaults.
const (
	DefaultRefreshMargin   = 60 * time.Second
	DefaultMinRefreshDelay = 5 * time.Second
	DefaultRefreshRetry    = 30 * time.Second
)

// refreshDelay is how long to wait before refreshing a session that expires
// at expiresAt: margin ahead of expiry, never sooner than minDelay.
func refreshDelay(expiresAt, now time.Time, margin, minDelay time.Duration) time.Duration {
	d := expiresAt.Sub(now) - margin
	if d < minDelay {
		return minDelay
	}
	return d
}
