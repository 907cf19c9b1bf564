// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience guards calls to unreliable dependencies, mainly the
// language model, with retries, timeouts and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	agerr "github.com/synthagora/agora/pkg/errors"
)

// RetryConfig is an exponential backoff policy. The zero value makes a
// single attempt.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Multiplier grows the delay between attempts. Zero means 2.
	Multiplier float64
	// Jitter randomises each delay by up to this fraction either way.
	Jitter float64

	// IsRecoverable decides whether a failure is retried. Nil means the
	// package IsRecoverable.
	IsRecoverable func(error) bool
	// OnRetry runs before each retry with the number of the attempt about
	// to start, counting from 1.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig makes three attempts starting at 200ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2,
		Jitter:        0.1,
		IsRecoverable: IsRecoverable,
	}
}

func (rc RetryConfig) WithMaxAttempts(n int) RetryConfig {
	rc.MaxAttempts = n
	return rc
}

func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

func (rc RetryConfig) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rc.InitialDelay
	b.RandomizationFactor = rc.Jitter
	b.Multiplier = rc.Multiplier
	if b.Multiplier <= 0 {
		b.Multiplier = 2
	}
	b.MaxInterval = rc.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(1<<63 - 1)
	}
	b.Reset()
	return b
}

// Retry runs fn until it succeeds, fails with an unrecoverable error or
// runs out of attempts. Cancelling ctx while waiting between attempts
// returns a CodeContextLost error.
func Retry[T any](ctx context.Context, rc RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(rc.MaxAttempts, 1)
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = IsRecoverable
	}
	delays := rc.backoff()

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt == attempts || !recoverable(err) {
			return zero, err
		}

		delay := delays.NextBackOff()
		if rc.OnRetry != nil {
			rc.OnRetry(attempt+1, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, agerr.New(agerr.CodeContextLost, "context canceled during retry", err).
				WithContext("attempt", attempt).
				WithContext("max_attempts", attempts)
		}
	}
}

// Do is Retry for functions without a result.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, rc, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsRecoverable reports whether err is worth retrying. An AgoraError carries
// its own flag and bare context errors are final. Anything else is assumed
// transient.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var ae *agerr.AgoraError
	if errors.As(err, &ae) {
		return ae.Recoverable
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
