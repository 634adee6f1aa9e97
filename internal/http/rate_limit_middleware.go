package httpx

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimiter decides whether a keyed request fits its fixed window.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

func (d rateDecision) remaining(limit int) int {
	return max(limit-d.count, 0)
}

// retryAfter is the whole number of seconds until the window resets.
func (d rateDecision) retryAfter(now time.Time) int {
	if d.windowEnd.IsZero() {
		return 0
	}
	return max(int(math.Ceil(d.windowEnd.Sub(now).Seconds())), 0)
}

// handlerAuthRate authenticates, then applies the route's rate limit.
func (r *Router) handlerAuthRate(route string, limit int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.withRateLimit(route, limit, window, next))
}

func (r *Router) withRateLimit(route string, limit int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	if limit <= 0 || r.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, req *http.Request) {
		key := rateLimitKey(req)
		decision := r.limiter.Allow(route+"|"+key, limit, window)
		r.applyRateHeaders(w, limit, decision)
		if decision.allowed {
			next(w, req)
			return
		}
		r.recordRateLimitHit(route, rateKeyKind(key))
		if secs := decision.retryAfter(time.Now()); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	}
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(decision.remaining(limit)))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// rateLimitKey buckets token holders apart from anonymous callers sharing
// an address.
func rateLimitKey(req *http.Request) string {
	ip := clientIP(req)
	if ip == "" {
		ip = "unknown"
	}
	if _, ok := authInfoFromContext(req.Context()); ok {
		return "token:" + ip
	}
	return "ip:" + ip
}

// rateKeyKind is the bounded-cardinality prefix of a limiter key.
func rateKeyKind(key string) string {
	kind, _, found := strings.Cut(key, ":")
	if !found || kind == "" {
		return "unknown"
	}
	return kind
}
