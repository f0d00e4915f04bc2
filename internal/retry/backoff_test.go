package retry

import (
	"testing"
	"time"
)

func TestBackoff_Growth(t *testing.T) {
	b := &Backoff{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second, // capped
		10 * time.Second,
	}
	for i, expected := range want {
		if got := b.Next(); got != expected {
			t.Errorf("attempt %d: expected %v, got %v", i+1, expected, got)
		}
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := &Backoff{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0}

	b.Next()
	b.Next()
	if b.Failures() != 2 {
		t.Fatalf("expected 2 failures, got %d", b.Failures())
	}

	b.Reset()
	if b.Failures() != 0 {
		t.Errorf("expected 0 failures after reset, got %d", b.Failures())
	}
	if got := b.Next(); got != time.Second {
		t.Errorf("expected initial delay after reset, got %v", got)
	}
}

func TestBackoff_Defaults(t *testing.T) {
	b := &Backoff{}
	if got := b.Next(); got != time.Second {
		t.Errorf("expected 1s default initial delay, got %v", got)
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := &Backoff{InitialDelay: 4 * time.Second, MaxDelay: time.Minute, Jitter: true}

	for i := 0; i < 100; i++ {
		b.Reset()
		got := b.Next()
		if got < 3*time.Second || got > 5*time.Second {
			t.Fatalf("jittered delay %v outside ±25%% of 4s", got)
		}
	}
}
