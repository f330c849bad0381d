package ratelimit

import (
	"testing"
	"time"

	"OtcPull/internal/service/clock"
)

func TestLimiterRefills(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC))
	l := New(fc, 2, time.Minute)

	if !l.Allow("op") || !l.Allow("op") {
		t.Fatal("burst of 2 denied")
	}
	if l.Allow("op") {
		t.Fatal("third call allowed")
	}
	if !l.Allow("other") {
		t.Fatal("keys share a bucket")
	}

	fc.Advance(30 * time.Second)
	if !l.Allow("op") {
		t.Fatal("no refill after half a window")
	}
	if l.Allow("op") {
		t.Fatal("refilled more than one token")
	}

	fc.Advance(10 * time.Minute)
	if !l.Allow("op") || !l.Allow("op") || l.Allow("op") {
		t.Fatal("refill not capped at limit")
	}
}
