package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually driven clock for tests. Sleepers wake when Set or
// Advance moves the time to or past their target.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters map[*fakeWaiter]struct{}
}

type fakeWaiter struct {
	until time.Time
	ch    chan struct{}
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now, waiters: make(map[*fakeWaiter]struct{})}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NowMinute() time.Time { return FloorMinute(f.Now()) }

func (f *Fake) SleepUntil(ctx context.Context, t time.Time) error {
	f.mu.Lock()
	if !f.now.Before(t) {
		f.mu.Unlock()
		return nil
	}
	w := &fakeWaiter{until: t, ch: make(chan struct{})}
	f.waiters[w] = struct{}{}
	f.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		f.mu.Lock()
		delete(f.waiters, w)
		f.mu.Unlock()
		return ctx.Err()
	}
}

// Set moves the clock to t, backwards included, and wakes due sleepers.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
	for w := range f.waiters {
		if !f.now.Before(w.until) {
			close(w.ch)
			delete(f.waiters, w)
		}
	}
}

func (f *Fake) Advance(d time.Duration) { f.Set(f.Now().Add(d)) }

// Sleepers returns the number of goroutines blocked in SleepUntil.
func (f *Fake) Sleepers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// WaitForSleepers polls until at least n goroutines sleep or timeout passes.
func (f *Fake) WaitForSleepers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.Sleepers() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return f.Sleepers() >= n
}
