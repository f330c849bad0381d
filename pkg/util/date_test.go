package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeRejects(t *testing.T) {
	for _, s := range []string{"", "yesterday", "-5", "0"} {
		if _, ok := ParseTime(s); ok {
			t.Fatalf("%q parsed", s)
		}
	}
}

func TestNextMinuteStrictlyAfter(t *testing.T) {
	on := time.Date(2025, 3, 4, 9, 31, 0, 0, time.UTC)
	if got := NextMinute(on); !got.Equal(on.Add(time.Minute)) {
		t.Fatalf("on boundary: %v", got)
	}
	if got := FloorMinute(on.Add(59 * time.Second)); !got.Equal(on) {
		t.Fatalf("floor: %v", got)
	}
}

func TestExpiryUnix(t *testing.T) {
	fire := time.Date(2025, 3, 4, 9, 31, 0, 0, time.UTC)
	if got, want := ExpiryUnix(fire), fire.Add(time.Minute).Unix(); got != want {
		t.Fatalf("expiry at boundary: got %d want %d", got, want)
	}
	mid := time.Date(2025, 3, 4, 9, 30, 59, 900_000_000, time.UTC)
	if got, want := ExpiryUnix(mid), fire.Unix(); got != want {
		t.Fatalf("expiry mid-minute: got %d want %d", got, want)
	}
}
