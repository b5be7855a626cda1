package server

import (
	"testing"
	"time"

	"github.com/plumbrhq/plumbr/internal/config"
)

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{Enabled: false})

	for i := 0; i < 100; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("Disabled limiter rejected request %d", i)
		}
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             3,
	})

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("Request %d within burst was rejected", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("Request beyond burst was allowed")
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             1,
	})

	if !rl.Allow("10.0.0.1") {
		t.Fatal("First client first request rejected")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("First client exceeded its bucket but was allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("Second client was throttled by the first client's bucket")
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		rpm  int
		want int
	}{
		{rpm: 600, want: 1},
		{rpm: 60, want: 1},
		{rpm: 30, want: 2},
		{rpm: 7, want: 9},
		{rpm: 0, want: 60},
	}

	for _, tt := range tests {
		rl := NewRateLimiter(&config.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: tt.rpm,
		})
		if got := rl.RetryAfterSeconds(); got != tt.want {
			t.Errorf("RetryAfterSeconds(rpm=%d) = %d, want %d", tt.rpm, got, tt.want)
		}
	}
}

func TestCleanupStale(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             1,
	})

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")

	rl.mu.Lock()
	rl.clients["10.0.0.1"].lastSeen = time.Now().Add(-2 * time.Hour)
	rl.mu.Unlock()

	rl.CleanupStale(time.Hour)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.clients["10.0.0.1"]; ok {
		t.Error("Stale bucket survived cleanup")
	}
	if _, ok := rl.clients["10.0.0.2"]; !ok {
		t.Error("Live bucket was dropped by cleanup")
	}
}
