package clock

import (
	"context"
	"testing"
	"time"
)

func TestFloorAndNextMinute(t *testing.T) {
	ts := time.Date(2025, 3, 4, 9, 30, 12, 345, time.UTC)
	if got := FloorMinute(ts); !got.Equal(time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("floor: %v", got)
	}
	if got := NextMinute(ts); !got.Equal(time.Date(2025, 3, 4, 9, 31, 0, 0, time.UTC)) {
		t.Fatalf("next: %v", got)
	}
	exact := time.Date(2025, 3, 4, 9, 31, 0, 0, time.UTC)
	if got := NextMinute(exact); !got.Equal(exact.Add(time.Minute)) {
		t.Fatalf("next of boundary must be strictly later: %v", got)
	}
}

func TestSystemSleepUntilPast(t *testing.T) {
	if err := New().SleepUntil(context.Background(), time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("unexpected err %v", err)
	}
}

func TestSystemSleepUntilPrecision(t *testing.T) {
	target := time.Now().Add(150 * time.Millisecond)
	if err := New().SleepUntil(context.Background(), target); err != nil {
		t.Fatalf("unexpected err %v", err)
	}
	late := time.Since(target)
	if late < 0 {
		t.Fatalf("woke early by %v", -late)
	}
	if late > 50*time.Millisecond {
		t.Fatalf("woke too late: %v", late)
	}
}

func TestSystemSleepUntilCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New().SleepUntil(ctx, time.Now().Add(time.Hour)); err == nil {
		t.Fatalf("expected ctx error")
	}
}

func TestFakeWakesSleepers(t *testing.T) {
	start := time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC)
	f := NewFake(start)
	done := make(chan error, 1)
	go func() { done <- f.SleepUntil(context.Background(), start.Add(time.Minute)) }()

	if !f.WaitForSleepers(1, time.Second) {
		t.Fatalf("sleeper never registered")
	}
	f.Advance(30 * time.Second)
	select {
	case <-done:
		t.Fatalf("woke before target")
	case <-time.After(20 * time.Millisecond):
	}
	f.Advance(30 * time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected err %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sleeper not woken")
	}
	if f.NowMinute() != start.Add(time.Minute) {
		t.Fatalf("now minute %v", f.NowMinute())
	}
}
