package dispatcher

import (
	"testing"
	"time"
)

func TestRateLimiter_ImmediateBurst(t *testing.T) {
	rl := NewRateLimiter(5, 60.0)
	for i := 0; i < 5; i++ {
		if !rl.Allow("slack:U1") {
			t.Fatalf("burst token %d refused", i)
		}
	}
	if rl.Allow("slack:U1") {
		t.Fatal("expected sixth event to be throttled")
	}
}

func TestRateLimiter_KeysIndependent(t *testing.T) {
	rl := NewRateLimiter(1, 1.0)
	if !rl.Allow("slack:U1") || !rl.Allow("slack:U2") {
		t.Fatal("first event per key should pass")
	}
	if rl.Allow("slack:U1") {
		t.Fatal("U1 should be throttled")
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(1, 60.0) // one per second
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("k") {
		t.Fatal("first event refused")
	}
	if rl.Allow("k") {
		t.Fatal("second event should be throttled")
	}
	now = now.Add(1100 * time.Millisecond)
	if !rl.Allow("k") {
		t.Fatal("bucket did not refill")
	}
}

func TestRateLimiter_EvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(1, 60.0)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	rl.Allow("b")
	now = now.Add(2 * limiterIdleTTL)
	rl.Allow("c")
	if rl.Len() != 1 {
		t.Fatalf("expected idle keys evicted, have %d", rl.Len())
	}
}

func TestRateLimiter_DisabledAllowsAll(t *testing.T) {
	rl := NewRateLimiter(1, 0)
	if rl != nil {
		t.Fatal("expected nil limiter when disabled")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow("k") {
			t.Fatal("nil limiter refused")
		}
	}
}
