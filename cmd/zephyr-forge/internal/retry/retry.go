// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry wraps operations with bounded, backed-off retries.
//
// A Policy allows Retries re-invocations after the first attempt, so an
// operation runs at most Retries+1 times. Delays grow exponentially from
// MinDelay and never exceed MaxDelay. Errors classified as permanent by
// IsPermanent stop the loop immediately and are returned as-is; running out
// of attempts returns *RetryExhausted wrapping the last error.
//
//	out, err := retry.Do(ctx, func(ctx context.Context) (string, error) {
//	    return inspect(ctx, "zephyr-redis-dev")
//	}, retry.Policy{Retries: 3, IsPermanent: process.IsPermanent})
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Defaults for Policy fields left at zero.
const (
	DefaultMinDelay = 1 * time.Second
	DefaultMaxDelay = 5 * time.Second
)

// Policy describes how an operation is retried.
type Policy struct {
	// Retries is the number of re-invocations after the first attempt.
	// Zero means the operation runs once.
	Retries int

	// MinDelay is the first delay. Default: DefaultMinDelay.
	MinDelay time.Duration

	// MaxDelay caps every delay. Default: DefaultMaxDelay.
	MaxDelay time.Duration

	// IsPermanent classifies errors that must not be retried. May be nil.
	IsPermanent func(error) bool

	// OnRetry is called before each re-invocation with the error that caused
	// it and the number of the attempt that failed (1-based). May be nil.
	OnRetry func(err error, attempt int)
}

// RetryExhausted is returned when every attempt failed.
type RetryExhausted struct {
	// Attempts is the number of times the operation ran.
	Attempts int

	// Last is the error of the final attempt.
	Last error
}

func (e *RetryExhausted) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last attempt's error.
func (e *RetryExhausted) Unwrap() error {
	return e.Last
}

// Do runs op until it succeeds, a permanent error occurs, ctx is done, or
// the attempts run out.
//
// # Outputs
//
//   - op's value on success
//   - the permanent error itself, unwrapped, when IsPermanent matched
//   - *RetryExhausted when all Retries+1 attempts failed
//   - ctx's error when ctx ended while waiting between attempts
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), p Policy) (T, error) {
	maxTries := p.Retries + 1
	if maxTries < 1 {
		maxTries = 1
	}

	attempts := 0
	var lastErr error
	operation := func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err != nil {
			lastErr = err
			if p.IsPermanent != nil && p.IsPermanent(err) {
				return v, backoff.Permanent(err)
			}
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, _ time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(err, attempts)
			}
		}),
	)
	if err == nil {
		return v, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return v, perm.Err
	}
	if p.IsPermanent != nil && p.IsPermanent(err) {
		return v, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, lastErr) {
		return v, ctxErr
	}
	if attempts >= maxTries {
		return v, &RetryExhausted{Attempts: attempts, Last: lastErr}
	}
	return v, err
}

// Void is Do for operations that only return an error.
func Void(ctx context.Context, op func(ctx context.Context) error, p Policy) error {
	_, err := Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, p)
	return err
}

// backOff builds the exponential schedule between attempts.
func (p Policy) backOff() backoff.BackOff {
	minDelay := p.MinDelay
	if minDelay <= 0 {
		minDelay = DefaultMinDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minDelay
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	return &capped{b: b, max: maxDelay}
}

// capped keeps jittered delays within MaxDelay. ExponentialBackOff caps the
// interval before randomization, so a jittered value can overshoot it.
type capped struct {
	b   *backoff.ExponentialBackOff
	max time.Duration
}

func (c *capped) NextBackOff() time.Duration {
	d := c.b.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if d > c.max {
		return c.max
	}
	return d
}

func (c *capped) Reset() {
	c.b.Reset()
}
