package api

import (
	"testing"
	"time"

	"livesession/internal/clock"
)

func TestRateLimiter_WindowReset(t *testing.T) {
	fake := clock.NewFake(epoch)
	rl := NewRateLimiter(3, fake)

	for i := 0; i < 3; i++ {
		if !rl.Allow("teacher1") {
			t.Fatalf("Request %d should be allowed", i)
		}
	}
	if rl.Allow("teacher1") {
		t.Error("Fourth request in the window should be rejected")
	}
	if !rl.Allow("teacher2") {
		t.Error("Callers are limited independently")
	}

	fake.Advance(40 * time.Second)
	if wait := rl.RetryAfter("teacher1"); wait != 20*time.Second {
		t.Errorf("Expected 20s retry, got %v", wait)
	}

	fake.Advance(20 * time.Second)
	if !rl.Allow("teacher1") {
		t.Error("New window should allow requests")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	fake := clock.NewFake(epoch)
	rl := NewRateLimiter(10, fake)

	rl.Allow("teacher1")
	rl.Allow("teacher2")
	fake.Advance(3 * time.Minute)
	rl.Allow("teacher2")

	fake.Advance(3 * time.Minute)
	rl.Cleanup()
	if rl.Size() != 1 {
		t.Errorf("Expected only the recently active caller to remain, got %d", rl.Size())
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, nil)
	for i := 0; i < DefaultRequestsPerMinute; i++ {
		if !rl.Allow("teacher1") {
			t.Fatalf("Request %d should be allowed under the default limit", i)
		}
	}
	if rl.Allow("teacher1") {
		t.Error("Default limit should cap at DefaultRequestsPerMinute")
	}
}
