package handler

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goodeedhub/backend/internal/logging"
	"github.com/goodeedhub/backend/pkg/auth"
)

// SecurityHeaders sets response headers for a JSON-only API. Nothing here is
// rendered by a browser, so no content may load and responses are never cached.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// RateLimiter caps payment creation per caller over a sliding one-minute window.
// Authenticated requests are counted per principal so donors sharing an address
// do not throttle each other; anything else is counted per client IP.
type RateLimiter struct {
	maxPerMinute      int
	window            time.Duration
	trustedProxyCount int
	logger            *slog.Logger
	now               func() time.Time

	mu        sync.Mutex
	callers   map[string][]time.Time
	lastPrune time.Time
}

// NewRateLimiter creates a limiter allowing maxPerMinute requests per caller.
// Assumes a single trusted reverse proxy in front of the service.
func NewRateLimiter(maxPerMinute int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		maxPerMinute:      maxPerMinute,
		window:            time.Minute,
		trustedProxyCount: 1,
		logger:            logging.OrDefault(logger),
		now:               time.Now,
		callers:           make(map[string][]time.Time),
	}
}

// Middleware rejects callers over the limit with 429 and Retry-After.
// Mount it after the auth middleware so principals are visible.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.callerKey(r)
		ok, retryAfter := rl.allow(key)
		if !ok {
			rl.logger.Warn("rate limit exceeded", "caller", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow records a request for key and reports whether it fits in the window.
func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	now := rl.now()
	windowStart := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastPrune) > 5*rl.window {
		rl.pruneLocked(windowStart)
		rl.lastPrune = now
	}

	hits := recent(rl.callers[key], windowStart)
	if len(hits) >= rl.maxPerMinute {
		rl.callers[key] = hits
		return false, hits[0].Add(rl.window).Sub(now)
	}
	rl.callers[key] = append(hits, now)
	return true, 0
}

// pruneLocked drops callers with no request inside the window.
func (rl *RateLimiter) pruneLocked(windowStart time.Time) {
	for key, hits := range rl.callers {
		if hits = recent(hits, windowStart); len(hits) == 0 {
			delete(rl.callers, key)
		} else {
			rl.callers[key] = hits
		}
	}
}

// recent filters hits in place, keeping those after windowStart.
func recent(hits []time.Time, windowStart time.Time) []time.Time {
	kept := hits[:0]
	for _, ts := range hits {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	return kept
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (rl *RateLimiter) callerKey(r *http.Request) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		return "principal:" + p.ID
	}
	return "ip:" + rl.clientIP(r)
}

// clientIP extracts the real client IP, reading from the rightmost trusted
// proxy position in X-Forwarded-For to prevent spoofing.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" && rl.trustedProxyCount > 0 {
		parts := strings.Split(xff, ",")
		idx := len(parts) - rl.trustedProxyCount
		if idx >= 0 && idx < len(parts) {
			return strings.TrimSpace(parts[idx])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
