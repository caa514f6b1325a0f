package ratelimit

import (
	"testing"
	"time"
)

func TestWindowRetryAfterNeverNegative(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 59, 0, time.UTC)
	window := now.Truncate(time.Minute)
	retryAfter := int(window.Add(time.Minute).Sub(now).Seconds())
	if retryAfter < 0 || retryAfter > 60 {
		t.Fatalf("retry_after out of [0,60] bound: %d", retryAfter)
	}
}

func TestWindowKeyStableWithinSameMinute(t *testing.T) {
	a := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC).Truncate(time.Minute)
	b := time.Date(2026, 1, 1, 0, 0, 59, 0, time.UTC).Truncate(time.Minute)
	if a.Unix() != b.Unix() {
		t.Fatalf("expected same window for two instants within the same minute")
	}
}

func TestWindowKeyChangesAcrossMinuteBoundary(t *testing.T) {
	a := time.Date(2026, 1, 1, 0, 0, 59, 0, time.UTC).Truncate(time.Minute)
	b := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC).Truncate(time.Minute)
	if a.Unix() == b.Unix() {
		t.Fatalf("expected distinct windows across a minute boundary")
	}
}
