// Package breaker keeps the failure budget shared by every delivery channel
// of a run.
// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package breaker

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultMaxFailCount is the number of consecutive failed sends tolerated
// before the run is aborted.
const DefaultMaxFailCount = 10

var blog = logrus.WithField("component", "breaker")

// ResponseInfo describes the last failed response, kept for diagnostics.
type ResponseInfo struct {
	StatusCode int
	Reason     string
	Body       string
}

// CircuitOpenError is returned by Check once the failure budget is spent.
type CircuitOpenError struct {
	Failures int
	Last     ResponseInfo
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf(
		"too many consecutive failed API calls (%d): last response was %d %s: %s",
		e.Failures, e.Last.StatusCode, e.Last.Reason, e.Last.Body,
	)
}

// Breaker counts consecutive failed sends across all channels. A successful
// send from any channel resets the count. Once the count reaches the
// configured maximum the breaker stays open until RecordSuccess is called.
//
// A single Breaker is meant to be created per run and handed to every
// channel. It is safe for concurrent use.
type Breaker struct {
	mtx sync.Mutex

	consecutiveFails int
	maxAllowed       int
	abort            bool
	last             ResponseInfo
}

// New returns a closed breaker tripping after maxAllowed consecutive
// failures. A maxAllowed of zero or less never trips.
func New(maxAllowed int) *Breaker {
	return &Breaker{maxAllowed: maxAllowed}
}

// SetMaxFailCount changes the abort threshold.
func (b *Breaker) SetMaxFailCount(n int) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.maxAllowed = n
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.abort {
		blog.Info("circuit closed after a successful send")
	}
	b.consecutiveFails = 0
	b.abort = false
	breakerOpenMetric.Set(0)
	consecutiveFailuresMetric.Set(0)
}

// RecordFailure adds increment to the failure count and opens the breaker
// when the count reaches the threshold.
func (b *Breaker) RecordFailure(info ResponseInfo, increment int) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.consecutiveFails += increment
	b.last = info
	consecutiveFailuresMetric.Set(float64(b.consecutiveFails))

	if b.maxAllowed > 0 && b.consecutiveFails >= b.maxAllowed && !b.abort {
		b.abort = true
		breakerOpenMetric.Set(1)
		blog.WithFields(logrus.Fields{
			"failures": b.consecutiveFails,
			"status":   info.StatusCode,
		}).Error("circuit opened, aborting further sends")
	}
}

// Check returns a *CircuitOpenError when the breaker is open.
func (b *Breaker) Check() error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if !b.abort {
		return nil
	}
	return &CircuitOpenError{Failures: b.consecutiveFails, Last: b.last}
}

// ConsecutiveFailures returns the current failure count.
func (b *Breaker) ConsecutiveFailures() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.consecutiveFails
}

// Open reports whether the breaker has tripped.
func (b *Breaker) Open() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.abort
}
