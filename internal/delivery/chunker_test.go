// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(n int) int { return n }

func collect(sizes []int, maxBytes, maxCount int) ([][]int, []int) {
	var dropped []int
	var chunks [][]int
	for c := range Chunks(sizes, identity, maxBytes, maxCount, func(item, size int) {
		dropped = append(dropped, item)
	}) {
		chunks = append(chunks, c)
	}
	return chunks, dropped
}

func TestChunksByBytes(t *testing.T) {
	t.Parallel()

	chunks, dropped := collect([]int{100, 100, 100}, 250, 10)

	assert.Equal(t, [][]int{{100, 100}, {100}}, chunks)
	assert.Empty(t, dropped)
}

func TestChunksByCount(t *testing.T) {
	t.Parallel()

	chunks, _ := collect([]int{1, 1, 1, 1, 1}, 1000, 2)

	assert.Equal(t, [][]int{{1, 1}, {1, 1}, {1}}, chunks)
}

func TestChunksDropOversize(t *testing.T) {
	t.Parallel()

	chunks, dropped := collect([]int{10, 300, 20}, 250, 10)

	assert.Equal(t, [][]int{{10, 20}}, chunks)
	assert.Equal(t, []int{300}, dropped)
}

func TestChunksItemFittingAloneStartsNewChunk(t *testing.T) {
	t.Parallel()

	// 240 fits alone but not next to 20: it starts a chunk, it is not dropped
	chunks, dropped := collect([]int{20, 240, 250}, 250, 10)

	assert.Equal(t, [][]int{{20}, {240}, {250}}, chunks)
	assert.Empty(t, dropped)
}

func TestChunksEmpty(t *testing.T) {
	t.Parallel()

	chunks, dropped := collect(nil, 250, 10)
	assert.Empty(t, chunks)
	assert.Empty(t, dropped)

	chunks, dropped = collect([]int{500}, 250, 10)
	assert.Empty(t, chunks)
	assert.Equal(t, []int{500}, dropped)
}

func TestChunksUnlimited(t *testing.T) {
	t.Parallel()

	chunks, _ := collect([]int{100, 100, 100}, 0, 0)
	assert.Equal(t, [][]int{{100, 100, 100}}, chunks)
}

func TestChunksStopEarly(t *testing.T) {
	t.Parallel()

	seen := 0
	for range Chunks([]int{1, 1, 1}, identity, 1, 10, nil) {
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestChunksRespectCeilings(t *testing.T) {
	t.Parallel()

	rnd := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		sizes := make([]int, rnd.Intn(50))
		for i := range sizes {
			sizes[i] = 1 + rnd.Intn(120)
		}
		maxBytes := 50 + rnd.Intn(150)
		maxCount := 1 + rnd.Intn(10)

		chunks, dropped := collect(sizes, maxBytes, maxCount)

		var flattened []int
		for _, c := range chunks {
			require.NotEmpty(t, c)
			require.LessOrEqual(t, len(c), maxCount)
			total := 0
			for _, s := range c {
				total += s
			}
			require.LessOrEqual(t, total, maxBytes)
			flattened = append(flattened, c...)
		}

		var expected []int
		for _, s := range sizes {
			if s <= maxBytes {
				expected = append(expected, s)
			} else {
				assert.Contains(t, dropped, s)
			}
		}
		require.Equal(t, expected, flattened, "order is kept and only oversized items are removed")
	}
}
