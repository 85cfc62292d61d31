package proposer

import (
	"context"
	"fmt"
	"time"
)

// Retrying wraps a backend with a bounded retry budget and a fixed
// inter-attempt delay. Exhausting the budget escalates to
// ErrBackendUnavailable; no partial state leaks to the caller. The global
// inter-call rate limit is the orchestrator's job, not this wrapper's.
type Retrying struct {
	backend  Proposer
	attempts int
	delay    time.Duration
	sleep    func(time.Duration) // replaceable for tests
}

// NewRetrying wraps backend with the given attempt budget and delay.
func NewRetrying(backend Proposer, attempts int, delay time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{backend: backend, attempts: attempts, delay: delay, sleep: time.Sleep}
}

// Propose tries the backend up to the configured number of attempts.
func (r *Retrying) Propose(ctx context.Context, req Request) (*Proposal, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			r.sleep(r.delay)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := r.backend.Propose(ctx, req)
		if err == nil {
			return p, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrBackendUnavailable, r.attempts, lastErr)
}

// Health passes through to the wrapped backend when it supports pinging.
func (r *Retrying) Health(ctx context.Context) error {
	if h, ok := r.backend.(HealthChecker); ok {
		return h.Health(ctx)
	}
	return nil
}
