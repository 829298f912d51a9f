package api

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter()
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("k1", 3) {
			t.Fatalf("request %d: denied under limit", i)
		}
	}
	if rl.Allow("k1", 3) {
		t.Fatal("request over limit allowed")
	}
	// Separate keys count separately.
	if !rl.Allow("k2", 3) {
		t.Fatal("fresh key denied")
	}
}

func TestRateLimiterStop(t *testing.T) {
	rl := NewRateLimiter()
	rl.Stop()
	rl.Stop() // idempotent

	if !rl.Allow("k1", 1) {
		t.Fatal("denied after stop")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter()
	defer rl.Stop()

	rl.Allow("stale", 10)
	rl.Allow("fresh", 10)
	rl.mu.Lock()
	rl.buckets["stale"].windowAt = time.Now().Add(-3 * time.Minute)
	rl.mu.Unlock()

	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets["stale"]; ok {
		t.Fatal("stale bucket survived cleanup")
	}
	if _, ok := rl.buckets["fresh"]; !ok {
		t.Fatal("fresh bucket removed by cleanup")
	}
}
