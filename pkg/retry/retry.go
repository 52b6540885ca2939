// Package retry runs operations with bounded exponential backoff on top of
// cenkalti/backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is wrapped by the error Do returns when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts. Values <= 0 mean one.
	MaxAttempts int

	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts. Zero means InitialDelay.
	MaxDelay time.Duration

	// Multiplier grows the delay after each attempt. Values < 1 mean 2.
	Multiplier float64
}

// NewBackOff returns a deterministic exponential backoff: initial, then
// initial*multiplier and so on, capped at max. It never gives up by itself.
func NewBackOff(initial, max time.Duration, multiplier float64) *backoff.ExponentialBackOff {
	if multiplier < 1 {
		multiplier = 2
	}
	if max < initial {
		max = initial
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Multiplier = multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls fn until it succeeds, ctx is done, or MaxAttempts is reached.
// fn receives the 1-based attempt number.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	attempts := max(cfg.MaxAttempts, 1)
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = cfg.InitialDelay
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(NewBackOff(cfg.InitialDelay, maxDelay, cfg.Multiplier), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	permanent := false
	err := backoff.Retry(func() error {
		attempt++
		err := fn(attempt)
		var perm *backoff.PermanentError
		permanent = errors.As(err, &perm)
		return err
	}, b)

	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
	}
}
