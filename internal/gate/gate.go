// Package gate bounds outbound aggregator traffic: a weighted semaphore
// caps how many account syncs fetch concurrently, and a token bucket keeps
// the request rate under the provider limit for one credential set.
package gate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// SaturatedError is returned when a permit could not be obtained within the
// wait budget. It is temporary: the caller may retry later.
type SaturatedError struct {
	reason string
}

func (e *SaturatedError) Error() string {
	return fmt.Sprintf("gate: saturated (%s)", e.reason)
}

// Temporary marks the error as retryable.
func (e *SaturatedError) Temporary() bool { return true }

// Config sizes a Gate.
type Config struct {
	// MaxConcurrent caps concurrent permit holders across all accounts.
	MaxConcurrent int64

	// RequestsPerSecond is the sustained request rate for the credential set.
	RequestsPerSecond float64

	// Burst is the token-bucket burst size.
	Burst int

	// MaxWait bounds how long Acquire blocks before rejecting. Zero means
	// reject immediately when saturated.
	MaxWait time.Duration
}

// Gate is the combined concurrency and rate limit for one aggregator
// credential set.
type Gate struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	maxWait time.Duration
}

// Permit is proof of admission. Release it when the sync's outbound
// requests are done.
type Permit struct {
	gate      *Gate
	accountID string
	released  bool
}

// AccountID returns the account the permit was issued for.
func (p *Permit) AccountID() string { return p.accountID }

// New creates a Gate from config, applying sane floors.
func New(cfg Config) *Gate {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	return &Gate{
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		maxWait: cfg.MaxWait,
	}
}

// Acquire admits one account sync. It waits up to MaxWait for a concurrency
// slot, then returns a Permit. Callers must Release the permit.
// A saturated gate returns *SaturatedError, never busy-spins.
func (g *Gate) Acquire(ctx context.Context, accountID string) (*Permit, error) {
	acquireCtx := ctx
	if g.maxWait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, g.maxWait)
		defer cancel()
	} else {
		// Zero wait budget: only take a free slot.
		if !g.sem.TryAcquire(1) {
			return nil, &SaturatedError{reason: "no free slot"}
		}
		return &Permit{gate: g, accountID: accountID}, nil
	}

	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &SaturatedError{reason: "concurrency slot wait exceeded"}
	}
	return &Permit{gate: g, accountID: accountID}, nil
}

// Wait blocks until the token bucket admits one outbound request, bounded
// by MaxWait. Call it before every aggregator request made under a permit.
func (g *Gate) Wait(ctx context.Context) error {
	waitCtx := ctx
	if g.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.maxWait)
		defer cancel()
	}
	if err := g.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &SaturatedError{reason: "rate budget wait exceeded"}
	}
	return nil
}

// Release frees the permit's concurrency slot. Safe to call once per permit;
// double release panics the semaphore, so Permit guards against it.
func (g *Gate) Release(p *Permit) {
	if p == nil || p.released {
		return
	}
	p.released = true
	g.sem.Release(1)
}
