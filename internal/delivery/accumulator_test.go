// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/newrelic/nri-forwarder/internal/pkg/record"
)

func TestAccumulatorFlushThreshold(t *testing.T) {
	t.Parallel()

	a := NewAccumulator(3)
	assert.False(t, a.Add(record.Record{"n": 1}))
	assert.False(t, a.Add(record.Record{"n": 2}))
	assert.False(t, a.ShouldFlush())
	assert.True(t, a.Add(record.Record{"n": 3}))
	assert.Equal(t, 3, a.Len())

	drained := a.Drain()
	assert.Equal(t, []record.Record{{"n": 1}, {"n": 2}, {"n": 3}}, drained)
	assert.Equal(t, 0, a.Len())
	assert.Empty(t, a.Drain())
}

func TestAccumulatorWithoutThreshold(t *testing.T) {
	t.Parallel()

	a := NewAccumulator(0)
	for i := 0; i < 100; i++ {
		assert.False(t, a.Add(record.Record{}))
	}
}
