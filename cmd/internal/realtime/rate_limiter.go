package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

// newEventLimiter returns a per-connection token bucket allowing limit events
// per window, with the whole window's worth available as burst.
func newEventLimiter(limit int, window time.Duration) *rate.Limiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
}
