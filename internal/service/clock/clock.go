package clock

import (
	"context"
	"time"

	"OtcPull/pkg/util"
)

const (
	// coarse sleeps stop this far before the target; the rest is polled
	busyWindow = 100 * time.Millisecond
	busyStep   = 10 * time.Millisecond
	finalStep  = time.Millisecond
)

// System is the wall clock.
type System struct{}

// New returns the wall clock.
func New() System { return System{} }

func (System) Now() time.Time { return time.Now() }

// NowMinute returns the current time truncated to second zero of its minute.
func (s System) NowMinute() time.Time { return FloorMinute(s.Now()) }

// SleepUntil blocks until t with a 10ms busy-check inside the last 100ms.
// Returns ctx.Err() if ctx ends first.
func (System) SleepUntil(ctx context.Context, t time.Time) error {
	for {
		d := time.Until(t)
		if d <= 0 {
			return nil
		}
		step := finalStep
		switch {
		case d > busyWindow:
			step = d - busyWindow
		case d > busyStep:
			step = busyStep
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// FloorMinute truncates t to the start of its minute.
func FloorMinute(t time.Time) time.Time { return util.FloorMinute(t) }

// NextMinute returns the first minute boundary strictly after t.
func NextMinute(t time.Time) time.Time { return util.NextMinute(t) }
