// Package retry implements the backoff policy used by the network
// client: context-aware retries with exponential, linear, or constant
// delay growth.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Strategy defines the backoff algorithm.
type Strategy int

const (
	// Exponential doubles the delay each retry: initDelay * 2^(attempt-1)
	// for the 1-indexed attempt number.
	Exponential Strategy = iota
	// Linear grows the delay linearly with the attempt number.
	Linear
	// Constant sleeps the same delay between every attempt.
	Constant
)

// Config controls retry behaviour.
type Config struct {
	MaxAttempts int           // total attempts including the first; 0 means no-op
	InitDelay   time.Duration // base delay before the first retry
	MaxDelay    time.Duration // cap on any single delay; 0 means uncapped
	Strategy    Strategy
	Jitter      bool // add ±25% random jitter to each delay
}

// DefaultConfig matches the scanner defaults: two attempts with a one
// second exponential base.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 2,
		InitDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Strategy:    Exponential,
	}
}

// StopError marks an error as permanent so Do stops retrying.
type StopError struct {
	Err error
}

func (e *StopError) Error() string { return e.Err.Error() }
func (e *StopError) Unwrap() error { return e.Err }

// Stop wraps err so that Do returns it without further attempts.
func Stop(err error) error {
	return &StopError{Err: err}
}

// sleeper abstracts waiting so tests can skip real delays.
type sleeper interface {
	sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn up to cfg.MaxAttempts times, sleeping the strategy delay
// between failures. It returns nil on the first success, ctx.Err() on
// cancellation, the wrapped error immediately for StopError, and the
// last error otherwise.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	return doWithSleeper(ctx, cfg, fn, realSleeper{})
}

func doWithSleeper(ctx context.Context, cfg Config, fn func() error, s sleeper) error {
	if cfg.MaxAttempts <= 0 {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var stop *StopError
		if errors.As(lastErr, &stop) {
			return stop.Err
		}
		if attempt < cfg.MaxAttempts {
			if err := s.sleep(ctx, CalcDelay(cfg, attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// CalcDelay computes the sleep before the retry following the given
// 1-indexed attempt.
func CalcDelay(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var delay time.Duration
	switch cfg.Strategy {
	case Exponential:
		delay = cfg.InitDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	case Linear:
		delay = cfg.InitDelay * time.Duration(attempt)
	case Constant:
		delay = cfg.InitDelay
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter && delay > 0 {
		quarter := int64(delay) / 4
		if quarter > 0 {
			j := time.Duration(rand.Int63n(quarter))
			if rand.Intn(2) == 0 {
				delay += j
			} else {
				delay -= j
			}
		}
	}
	return delay
}
