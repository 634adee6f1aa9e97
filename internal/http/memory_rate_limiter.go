package httpx

import (
	"sync"
	"time"
)

// memorySweepEvery bounds how often expired windows are dropped.
const memorySweepEvery = 5 * time.Minute

type fixedWindow struct {
	hits int
	ends time.Time
}

// memoryRateLimiter keeps fixed windows in process memory. Expired windows
// are swept lazily from Allow.
type memoryRateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*fixedWindow
	now       func() time.Time
	nextSweep time.Time
}

// NewMemoryRateLimiter returns a process-local RateLimiter.
func NewMemoryRateLimiter() RateLimiter {
	return newMemoryRateLimiter(time.Now)
}

func newMemoryRateLimiter(now func() time.Time) *memoryRateLimiter {
	return &memoryRateLimiter{
		windows:   make(map[string]*fixedWindow),
		now:       now,
		nextSweep: now().Add(memorySweepEvery),
	}
}

func (rl *memoryRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = rateWindowDefault
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now.After(rl.nextSweep) {
		rl.sweep(now)
	}

	w, ok := rl.windows[key]
	if !ok || !now.Before(w.ends) {
		w = &fixedWindow{ends: now.Add(window)}
		rl.windows[key] = w
	}
	if w.hits >= limit {
		return rateDecision{allowed: false, count: w.hits, windowEnd: w.ends}
	}
	w.hits++
	return rateDecision{allowed: true, count: w.hits, windowEnd: w.ends}
}

// sweep drops expired windows. Callers hold mu.
func (rl *memoryRateLimiter) sweep(now time.Time) {
	for key, w := range rl.windows {
		if !now.Before(w.ends) {
			delete(rl.windows, key)
		}
	}
	rl.nextSweep = now.Add(memorySweepEvery)
}

func (rl *memoryRateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

func (rl *memoryRateLimiter) Close() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	clear(rl.windows)
}
