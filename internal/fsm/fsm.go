// Package fsm is the pure, store-independent lifecycle state machine: the
// exhaustive transition table shared by jobs and tasks, and the
// retry-backoff math the worker pool uses to set next_retry_at when a task
// enters backing-off. It intentionally has
// no database dependency so its invariants (FSM closure, backoff monotonicity)
// can be tested as ordinary value-level unit tests.
package fsm

import (
	"math"
	"math/rand"
	"time"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
)

// transitions is the exhaustive table of allowed lifecycle moves. Any pair
// not present here is rejected.
var transitions = map[domain.Status]map[domain.Status]bool{
	domain.StatusPending:    {domain.StatusReady: true, domain.StatusScheduled: true},
	domain.StatusScheduled:  {domain.StatusReady: true},
	domain.StatusReady:      {domain.StatusRunning: true},
	domain.StatusRunning:    {domain.StatusSuspended: true, domain.StatusBackingOff: true, domain.StatusCompleted: true},
	domain.StatusSuspended:  {domain.StatusRunning: true},
	domain.StatusBackingOff: {domain.StatusReady: true, domain.StatusRunning: true, domain.StatusPaused: true, domain.StatusCompleted: true},
	domain.StatusPaused:     {domain.StatusRunning: true},
}

// Allowed reports whether old -> new is a valid transition.
func Allowed(old, new domain.Status) bool {
	next, ok := transitions[old]
	if !ok {
		return false
	}
	return next[new]
}

// Validate returns a NonDeterminism-free ValidationError describing why a
// transition is rejected, or nil if it's allowed. The original state is left
// untouched by callers on error — this function never mutates anything.
func Validate(old, new domain.Status) error {
	if Allowed(old, new) {
		return nil
	}
	return apperr.Validation("invalid transition %s -> %s", old, new)
}

// RetryPolicy is the caller-configured backoff shape: next_retry_at
// = now + base * factor^(retry_count-1), capped, with proportional jitter.
type RetryPolicy struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
	Jitter float64 // fraction of the computed delay, e.g. 0.2 = ±20%
}

// NextRetryAt computes the next retry deadline for the given 1-based retry
// count (the count after incrementing on this failure).
func (p RetryPolicy) NextRetryAt(now time.Time, retryCount int) time.Time {
	return now.Add(p.Backoff(retryCount))
}

// Backoff computes the (jittered, capped) delay for the given retry count.
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2.0
	}
	raw := float64(base) * math.Pow(factor, float64(retryCount-1))
	if p.Cap > 0 && raw > float64(p.Cap) {
		raw = float64(p.Cap)
	}
	if p.Jitter > 0 {
		delta := raw * p.Jitter
		raw += (rand.Float64()*2 - 1) * delta
	}
	if raw < 0 {
		raw = 0
	}
	return time.Duration(raw)
}
