package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/plumbrhq/plumbr/internal/config"
)

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	config  *config.RateLimitConfig
	clients map[string]*clientLimiter
	mu      sync.Mutex
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter for the configured per-minute rate.
func NewRateLimiter(cfg *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:  cfg,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow checks if a request from the given client IP is allowed.
func (r *RateLimiter) Allow(clientIP string) bool {
	if !r.config.Enabled {
		return true
	}
	return r.getLimiter(clientIP).Allow()
}

// RetryAfterSeconds estimates how long a limited client should wait before
// the next token becomes available.
func (r *RateLimiter) RetryAfterSeconds() int {
	rpm := r.config.RequestsPerMinute
	if rpm >= 60 {
		return 1
	}
	if rpm <= 0 {
		return 60
	}
	return (60 + rpm - 1) / rpm
}

// getLimiter gets or creates the bucket for a client IP and marks it live.
func (r *RateLimiter) getLimiter(clientIP string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cl, ok := r.clients[clientIP]; ok {
		cl.lastSeen = time.Now()
		return cl.limiter
	}

	cl := &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(float64(r.config.RequestsPerMinute)/60.0), r.config.Burst),
		lastSeen: time.Now(),
	}
	r.clients[clientIP] = cl
	return cl.limiter
}

// CleanupStale removes buckets idle past the cutoff to bound memory.
func (r *RateLimiter) CleanupStale(maxIdle time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for ip, cl := range r.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(r.clients, ip)
		}
	}
}

// StartCleanupRoutine starts a background routine that drops idle buckets.
func (r *RateLimiter) StartCleanupRoutine() {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			r.CleanupStale(time.Hour)
		}
	}()
}
