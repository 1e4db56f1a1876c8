// Package retry ...
// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package retry

import (
	"context"
	"errors"
	"time"
)

// RetriableFunc is a function to be retried in order to get a successful
// execution. In general this are functions which success depend on external
// conditions that can eventually be met.
type RetriableFunc func() error

// OnRetryFunc is executed after a RetriableFunc fails and before it is run
// again. It receives the retry number, starting at 1, and the returned error.
type OnRetryFunc func(retry int, err error)

type config struct {
	delay      time.Duration
	maxRetries int
	onRetry    OnRetryFunc
}

// Option to be applied to the retry config.
type Option func(*config)

// Delay is the fixed time to wait after a failed execution before retrying.
func Delay(delay time.Duration) Option {
	return func(c *config) {
		c.delay = delay
	}
}

// MaxRetries sets how many times the function is run again after the first
// failed execution.
func MaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// OnRetry sets a new function to be applied to the error returned by the
// function execution.
func OnRetry(fn OnRetryFunc) Option {
	return func(c *config) {
		c.onRetry = fn
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do stops retrying and returns err right away.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it returns a nil error, a Permanent error, the maximum
// number of retries is reached or ctx is done. The last error returned by fn
// is returned, unwrapped from Permanent.
//
// The wait between executions is fixed; there is no backoff.
func Do(ctx context.Context, fn RetriableFunc, opts ...Option) error {
	c := &config{
		delay:      2 * time.Second,
		maxRetries: 5,
		onRetry:    func(int, error) {},
	}
	for _, opt := range opts {
		opt(c)
	}

	for nRetries := 0; ; nRetries++ {
		lastError := fn()
		if lastError == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastError, &perm) {
			return perm.err
		}
		if nRetries >= c.maxRetries {
			return lastError
		}

		if c.delay > 0 {
			t := time.NewTimer(c.delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		c.onRetry(nRetries+1, lastError)
	}
}
