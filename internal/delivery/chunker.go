// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import "iter"

// Chunks lazily splits items, in order, into consecutive chunks holding at
// most maxCount items whose sizes add up to at most maxBytes. A limit of
// zero or less is not enforced.
//
// An item that fits alone but not next to the items already in the current
// chunk starts a new chunk. An item bigger than maxBytes is never emitted:
// it is passed to drop, when not nil, and skipped.
func Chunks[T any](items []T, size func(T) int, maxBytes, maxCount int, drop func(item T, size int)) iter.Seq[[]T] {
	return func(yield func([]T) bool) {
		var current []T
		currentSize := 0
		for _, item := range items {
			s := size(item)
			if maxBytes > 0 && s > maxBytes {
				if drop != nil {
					drop(item, s)
				}
				continue
			}

			full := (maxBytes > 0 && currentSize+s > maxBytes) || (maxCount > 0 && len(current) >= maxCount)
			if len(current) > 0 && full {
				if !yield(current) {
					return
				}
				current = nil
				currentSize = 0
			}
			current = append(current, item)
			currentSize += s
		}
		if len(current) > 0 {
			yield(current)
		}
	}
}
