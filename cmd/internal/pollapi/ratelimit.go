package pollapi

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"parley/cmd/internal/account"
	"parley/cmd/internal/httpapi"

	"golang.org/x/time/rate"
)

// LimiterConfig sets the per-user token bucket for polling endpoints.
type LimiterConfig struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
}

// DefaultLimiterConfig allows 120 requests per minute per user, enough for a
// 30s heartbeat plus typing updates from several tabs.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Rate:            rate.Limit(120.0 / 60.0),
		Burst:           30,
		CleanupInterval: 5 * time.Minute,
	}
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// UserLimiter rate-limits requests per authenticated user.
type UserLimiter struct {
	cfg LimiterConfig
	log *slog.Logger

	mu       sync.Mutex
	limiters map[string]*userLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewUserLimiter starts a background cleanup of idle entries; call Stop to end it.
func NewUserLimiter(log *slog.Logger, cfg LimiterConfig) *UserLimiter {
	def := DefaultLimiterConfig()
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	l := &UserLimiter{
		cfg:      cfg,
		log:      log,
		limiters: make(map[string]*userLimiter),
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *UserLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Middleware must run after account.Middleware.
func (l *UserLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := account.UserIDFrom(r.Context())
		if !ok {
			httpapi.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
			return
		}

		if !l.get(userID).Allow() {
			retry := int(math.Ceil(1.0 / float64(l.cfg.Rate)))
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			httpapi.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			l.log.Warn("poll.rate_limited", "user_id", userID, "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Len reports how many users currently hold a limiter.
func (l *UserLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *UserLimiter) get(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	ul, ok := l.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(l.cfg.Rate, l.cfg.Burst)}
		l.limiters[userID] = ul
	}
	ul.lastAccess = time.Now()
	return ul.limiter
}

func (l *UserLimiter) cleanupLoop() {
	t := time.NewTicker(l.cfg.CleanupInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			l.cleanup(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

func (l *UserLimiter) cleanup(now time.Time) {
	ttl := 2 * l.cfg.CleanupInterval

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, ul := range l.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(l.limiters, id)
		}
	}
}
