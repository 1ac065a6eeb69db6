package server

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateLimiterBurstAndRefill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := newRateLimiterWithClock(3, 3*time.Second, clock.now)

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("message %d rejected inside burst", i)
		}
	}
	if rl.allow() {
		t.Fatal("message allowed after burst was spent")
	}

	clock.advance(time.Second)
	if !rl.allow() {
		t.Error("expected one token after one refill step")
	}
	if rl.allow() {
		t.Error("expected bucket to be empty again")
	}

	clock.advance(time.Hour)
	allowed := 0
	for rl.allow() {
		allowed++
	}
	if allowed != 3 {
		t.Errorf("allowed %d after long idle, want capacity 3", allowed)
	}
}

func TestRateLimiterInvalidSettings(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	rl := newRateLimiterWithClock(0, 0, clock.now)

	if !rl.allow() {
		t.Fatal("first message rejected")
	}
	if rl.allow() {
		t.Fatal("capacity should fall back to one")
	}
	clock.advance(time.Second)
	if !rl.allow() {
		t.Error("interval should fall back to one second")
	}
}
