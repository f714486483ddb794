// Package backoff computes retry delays for failed attempts and decides
// between retrying and dead-lettering. Policies are values with no hidden
// state and are safe for concurrent use.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Mode selects how the delay grows with the attempt count.
type Mode string

const (
	// Fixed waits the base delay before every retry.
	Fixed Mode = "fixed"
	// Linear waits base * attempts.
	Linear Mode = "linear"
	// Exponential waits base * 2^(attempts-1).
	Exponential Mode = "exponential"
)

// ParseMode parses a mode name. The empty string is Fixed.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", Fixed:
		return Fixed, nil
	case Linear, Exponential:
		return Mode(s), nil
	}
	return "", fmt.Errorf("backoff: unknown mode %q", s)
}

// Decision is the resolution of a failed attempt.
type Decision int

const (
	// Retry schedules another attempt.
	Retry Decision = iota
	// Dead moves the job to the dead-letter state.
	Dead
)

func (d Decision) String() string {
	if d == Dead {
		return "dead"
	}
	return "retry"
}

// ──────────────────────────────────────────────────
// Policy
// ──────────────────────────────────────────────────

// Policy maps an attempt count and a per-job base delay to the delay before
// the next attempt.
type Policy struct {
	Mode Mode

	// Max caps linear and exponential delays. Zero means no cap.
	Max time.Duration

	// Jitter, when set, picks a uniformly random delay in [0, computed].
	Jitter bool
}

// Default returns the fixed-delay policy.
func Default() Policy { return Policy{Mode: Fixed} }

// Delay returns the wait before the attempt following attempts, which is
// the number of attempts already made (at least 1).
func (p Policy) Delay(attempts int, base time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		return 0
	}

	var d time.Duration
	switch p.Mode {
	case Linear:
		d = p.capped(float64(base) * float64(attempts))
	case Exponential:
		d = p.capped(float64(base) * math.Pow(2, float64(attempts-1)))
	default:
		d = base
	}

	if p.Jitter && d > 0 {
		d = time.Duration(rand.Float64() * float64(d)) //nolint:gosec // jitter does not need crypto rand
	}
	return d
}

func (p Policy) capped(f float64) time.Duration {
	if p.Max > 0 && f > float64(p.Max) {
		return p.Max
	}
	if f > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

// Decide reports whether a job that failed its attempts-th attempt should be
// retried.
func Decide(attempts, maxAttempts int) Decision {
	if attempts >= maxAttempts {
		return Dead
	}
	return Retry
}

// ──────────────────────────────────────────────────
// Operation retry
// ──────────────────────────────────────────────────

// Do runs op until it succeeds or ctx is done, sleeping between failures
// according to p with base as the first delay. It returns the last error
// when ctx ends first. onErr, if non-nil, observes every failure.
func Do(ctx context.Context, p Policy, base time.Duration, op func(context.Context) error, onErr func(attempt int, err error)) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if onErr != nil {
			onErr(attempt, err)
		}

		timer := time.NewTimer(p.Delay(attempt, base))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
