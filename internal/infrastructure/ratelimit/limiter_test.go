package ratelimit

import (
	"testing"
	"time"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(3, time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d denied under limit", i+1)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Fatalf("request over limit allowed")
	}
	// Other keys have their own window.
	if !l.Allow("5.6.7.8") {
		t.Fatalf("unrelated key denied")
	}

	// The window resets after it elapses.
	now = now.Add(time.Minute)
	if !l.Allow("1.2.3.4") {
		t.Fatalf("request denied after window reset")
	}
}

func TestMemoryLimiterDefaults(t *testing.T) {
	l := NewMemoryLimiter(0, 0)
	if l.Limit != 10 || l.Window != time.Minute {
		t.Fatalf("defaults = %d/%v", l.Limit, l.Window)
	}
}
