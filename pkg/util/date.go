package util

import (
	"strconv"
	"time"
)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// FloorMinute truncates t to second zero of its minute.
func FloorMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// NextMinute returns the first minute boundary strictly after t.
func NextMinute(t time.Time) time.Time {
	return FloorMinute(t).Add(time.Minute)
}

// ExpiryUnix is the broker expiry for an option opened at t: the next
// integral minute as unix seconds.
func ExpiryUnix(t time.Time) int64 {
	return NextMinute(t).Unix()
}
