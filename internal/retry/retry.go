// Package retry runs calls to external collaborators with bounded
// exponential backoff. The loop is explicit: an attempt counter and a delay
// from the backoff schedule, never recursion.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// MaxInterval caps any single delay.
	MaxInterval time.Duration
	// Multiplier grows the delay after each retry.
	Multiplier float64
	// RandomizationFactor jitters each delay by this fraction.
	RandomizationFactor float64
}

// DefaultPolicy returns three attempts starting at 500ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.RandomizationFactor < 0 || p.RandomizationFactor >= 1 {
		p.RandomizationFactor = d.RandomizationFactor
	}
	return p
}

func (p Policy) schedule() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: p.RandomizationFactor,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
	}
	b.Reset()
	return b
}

// ExternalServiceFailure reports that a collaborator kept failing after the
// retry budget was spent, or failed with a permanent error.
type ExternalServiceFailure struct {
	Service   string
	Operation string
	Attempts  int
	Err       error
}

func (e *ExternalServiceFailure) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Service, e.Operation, e.Attempts, e.Err)
}

func (e *ExternalServiceFailure) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Notify is called before each retry with the attempt that failed, its
// error and the delay about to be slept.
type Notify func(attempt int, err error, delay time.Duration)

// Do calls fn until it succeeds, returns a permanent error, the attempt
// budget runs out or ctx is done. Exhaustion and permanent errors are
// returned as *ExternalServiceFailure; cancellation returns ctx.Err().
func Do(ctx context.Context, p Policy, service, operation string, fn func(ctx context.Context, attempt int) error, notify Notify) error {
	p = p.normalized()
	schedule := p.schedule()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return &ExternalServiceFailure{Service: service, Operation: operation, Attempts: attempt, Err: perm.Unwrap()}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt >= p.MaxAttempts {
			return &ExternalServiceFailure{Service: service, Operation: operation, Attempts: attempt, Err: err}
		}

		delay := schedule.NextBackOff()
		if notify != nil {
			notify(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
