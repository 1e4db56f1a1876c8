// Package record ...
// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package record

import (
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"
)

// Record is one telemetry item as produced by the extraction layer: the
// fields of a log line, the properties of an event or a metric datum.
// Channels never modify a Record handed to them.
type Record map[string]interface{}

// Copy returns a (shallow) copy of r.
func (r Record) Copy() Record {
	duplicate := make(Record, len(r))
	for k, v := range r {
		duplicate[k] = v
	}
	return duplicate
}

// Without returns a copy of r without the given keys.
func (r Record) Without(keys ...string) Record {
	ret := r.Copy()
	for _, k := range keys {
		delete(ret, k)
	}
	return ret
}

// String returns the value under key formatted as a string, and whether it
// was present and non-nil.
func (r Record) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprintf("%v", v), true
}

// Float returns the value under key as a float64.
func (r Record) Float(key string) (float64, bool) {
	switch n := r[key].(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Time returns the value under key as a time. Numbers are read as unix
// milliseconds, strings as RFC3339.
func (r Record) Time(key string) (time.Time, bool) {
	switch v := r[key].(type) {
	case time.Time:
		return v, !v.IsZero()
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	}
	ms, ok := r.Float(key)
	if !ok || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)), true
}

// Merge returns a new Record containing the keys of every set. Later sets
// win over earlier ones.
func Merge(sets ...Record) Record {
	size := 0
	for _, s := range sets {
		size += len(s)
	}
	ret := make(Record, size)
	for _, s := range sets {
		for k, v := range s {
			ret[k] = v
		}
	}
	return ret
}

// TruncateStrings returns a copy of r where every string value, including
// the ones in nested records, is cut to at most maxChars characters.
func TruncateStrings(r Record, maxChars int) Record {
	ret := make(Record, len(r))
	for k, v := range r {
		ret[k] = truncateValue(v, maxChars)
	}
	return ret
}

func truncateValue(v interface{}, maxChars int) interface{} {
	switch val := v.(type) {
	case string:
		return Truncate(val, maxChars)
	case Record:
		return TruncateStrings(val, maxChars)
	case map[string]interface{}:
		return TruncateStrings(val, maxChars)
	case []interface{}:
		ret := make([]interface{}, len(val))
		for i, item := range val {
			ret[i] = truncateValue(item, maxChars)
		}
		return ret
	default:
		return v
	}
}

// Truncate cuts s to at most maxChars characters without splitting runes.
func Truncate(s string, maxChars int) string {
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}
