package fsm

import (
	"testing"
	"time"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
)

func TestAllowedTransitions(t *testing.T) {
	cases := []struct {
		old, new domain.Status
		want     bool
	}{
		{domain.StatusPending, domain.StatusReady, true},
		{domain.StatusPending, domain.StatusScheduled, true},
		{domain.StatusScheduled, domain.StatusReady, true},
		{domain.StatusReady, domain.StatusRunning, true},
		{domain.StatusRunning, domain.StatusSuspended, true},
		{domain.StatusRunning, domain.StatusBackingOff, true},
		{domain.StatusRunning, domain.StatusCompleted, true},
		{domain.StatusSuspended, domain.StatusRunning, true},
		{domain.StatusBackingOff, domain.StatusReady, true},
		{domain.StatusBackingOff, domain.StatusRunning, true},
		{domain.StatusBackingOff, domain.StatusPaused, true},
		{domain.StatusBackingOff, domain.StatusCompleted, true},
		{domain.StatusPaused, domain.StatusRunning, true},
		{domain.StatusPending, domain.StatusRunning, false},
		{domain.StatusCompleted, domain.StatusRunning, false},
		{domain.StatusRunning, domain.StatusPending, false},
		{domain.StatusPaused, domain.StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := Allowed(tc.old, tc.new); got != tc.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", tc.old, tc.new, got, tc.want)
		}
	}
}

func TestValidateRejectsUnchangedOnFailure(t *testing.T) {
	if err := Validate(domain.StatusCompleted, domain.StatusRunning); err == nil {
		t.Fatal("expected error for completed -> running")
	}
	if err := Validate(domain.StatusPending, domain.StatusReady); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBackoffMonotonicAndCapped(t *testing.T) {
	p := RetryPolicy{Base: 100 * time.Millisecond, Factor: 2, Cap: time.Second, Jitter: 0}
	prev := time.Duration(0)
	for i := 1; i <= 6; i++ {
		d := p.Backoff(i)
		if d < prev {
			t.Fatalf("backoff not monotonic at retry %d: %v < %v", i, d, prev)
		}
		if d > p.Cap {
			t.Fatalf("backoff %v exceeds cap %v at retry %d", d, p.Cap, i)
		}
		prev = d
	}
	if prev != p.Cap {
		t.Fatalf("expected backoff to saturate at cap, got %v", prev)
	}
}

func TestBackoffJitterBounded(t *testing.T) {
	p := RetryPolicy{Base: time.Second, Factor: 1, Cap: 0, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := p.Backoff(1)
		if d < 400*time.Millisecond || d > 1600*time.Millisecond {
			t.Fatalf("jittered backoff out of expected range: %v", d)
		}
	}
}
