package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestMemoryRateLimiterFixedWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	limiter := newMemoryRateLimiter(clock.now)
	defer limiter.Close()

	for i := 1; i <= 2; i++ {
		if d := limiter.Allow("k", 2, time.Minute); !d.allowed || d.count != i {
			t.Fatalf("request %d: unexpected decision %+v", i, d)
		}
	}
	denied := limiter.Allow("k", 2, time.Minute)
	if denied.allowed || denied.remaining(2) != 0 {
		t.Fatalf("expected third request rejected, got %+v", denied)
	}
	if got := denied.retryAfter(clock.t.Add(15 * time.Second)); got != 45 {
		t.Fatalf("expected retry after 45s, got %d", got)
	}
	if d := limiter.Allow("other", 2, time.Minute); !d.allowed {
		t.Fatal("expected independent key to be allowed")
	}

	clock.t = clock.t.Add(time.Minute)
	if d := limiter.Allow("k", 2, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("expected fresh window, got %+v", d)
	}
}

func TestMemoryRateLimiterSweepsExpiredWindows(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	limiter := newMemoryRateLimiter(clock.now)
	limiter.Allow("a", 1, time.Second)
	limiter.Allow("b", 1, time.Second)
	if got := limiter.tracked(); got != 2 {
		t.Fatalf("expected 2 windows, got %d", got)
	}

	clock.t = clock.t.Add(memorySweepEvery + time.Second)
	limiter.Allow("c", 1, time.Second)
	if got := limiter.tracked(); got != 1 {
		t.Fatalf("expected expired windows swept, %d left", got)
	}
}

func TestMemoryRateLimiterUnlimited(t *testing.T) {
	limiter := NewMemoryRateLimiter()
	defer limiter.Close()
	for i := 0; i < 5; i++ {
		if d := limiter.Allow("k", 0, time.Minute); !d.allowed {
			t.Fatalf("zero limit must not reject: %+v", d)
		}
	}
}

func TestRateLimitKey(t *testing.T) {
	anon := httptest.NewRequest(http.MethodGet, "/runs", nil)
	anon.RemoteAddr = "192.0.2.1:1234"
	if got := rateLimitKey(anon); got != "ip:192.0.2.1" {
		t.Fatalf("unexpected anonymous key %q", got)
	}

	forwarded := httptest.NewRequest(http.MethodGet, "/runs", nil)
	forwarded.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	authed := forwarded.WithContext(withAuthInfo(forwarded.Context(), authInfo{Subject: "api-token"}))
	if got := rateLimitKey(authed); got != "token:203.0.113.7" {
		t.Fatalf("unexpected token key %q", got)
	}

	for key, want := range map[string]string{"token:1.2.3.4": "token", "ip:::1": "ip", "": "unknown", "bare": "unknown"} {
		if got := rateKeyKind(key); got != want {
			t.Errorf("rateKeyKind(%q) = %q, want %q", key, got, want)
		}
	}
}
