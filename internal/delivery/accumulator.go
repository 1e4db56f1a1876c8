// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"sync"

	"github.com/newrelic/nri-forwarder/internal/pkg/record"
)

// Accumulator keeps the records of one channel until they are drained for
// sending. It reports a flush is due once it holds maxCount records.
type Accumulator struct {
	mtx      sync.Mutex
	records  []record.Record
	maxCount int
}

// NewAccumulator returns an empty Accumulator. A maxCount of zero or less
// never asks for a flush.
func NewAccumulator(maxCount int) *Accumulator {
	return &Accumulator{maxCount: maxCount}
}

// Add appends r and reports whether the batch should now be flushed.
func (a *Accumulator) Add(r record.Record) bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.records = append(a.records, r)
	return a.shouldFlush()
}

// ShouldFlush reports whether the batch reached its count threshold.
func (a *Accumulator) ShouldFlush() bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.shouldFlush()
}

func (a *Accumulator) shouldFlush() bool {
	return a.maxCount > 0 && len(a.records) >= a.maxCount
}

// Drain removes and returns every pending record.
func (a *Accumulator) Drain() []record.Record {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	drained := a.records
	a.records = nil
	return drained
}

// Len returns the number of pending records.
func (a *Accumulator) Len() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return len(a.records)
}
