// Package retry provides exponential backoff for startup connections.
// Steady-state loops do not retry beyond their fixed cadence; this is
// only used to ride out a slow broker or API during process start.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts  int           // total attempts, minimum 1
	InitialDelay time.Duration // delay after the first failure
	MaxDelay     time.Duration // delay ceiling
	Multiplier   float64       // backoff multiplier, typically 2.0
	AddJitter    bool          // randomize delays to avoid thundering herd
}

// DefaultConfig returns the schedule used for broker and bot connects:
// five attempts over roughly thirty seconds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// PermanentError wraps errors that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks an error as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether an error is marked as not retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Do runs fn until it succeeds, the attempts are exhausted, the error is
// permanent, or ctx is cancelled. The last error is returned on failure.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		if cfg.AddJitter {
			// up to 25% extra
			wait += time.Duration(rand.Int63n(int64(delay)/4 + 1))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("retry: %d attempts exhausted: %w", cfg.MaxAttempts, lastErr)
}
