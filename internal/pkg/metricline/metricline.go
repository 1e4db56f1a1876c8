// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package metricline renders metric data points in the plain text line
// protocol accepted by the metrics ingest API:
//
//	metric.key,dim1=value1,dim2="value 2" gauge,12.5 1700000000000
//	metric.key count,delta=3
//	#metric.key gauge dt.meta.description="what it measures"
//
// Lines starting with '#' carry metadata and are not data points.
package metricline

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind is the payload type of a metric line.
type Kind int

const (
	// Gauge is a sampled value.
	Gauge Kind = iota
	// Count is a delta since the previous report.
	Count
)

func (k Kind) String() string {
	if k == Count {
		return "count"
	}
	return "gauge"
}

// Line is one data point.
type Line struct {
	Key        string
	Dimensions map[string]string
	Kind       Kind
	Value      float64
	// Timestamp is optional, the backend uses the reception time when zero.
	Timestamp time.Time
}

var (
	invalidKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._:\-]+`)
	leadingNonAlpha = regexp.MustCompile(`^[^a-zA-Z]+`)
)

// NormalizeKey makes key acceptable as a metric or dimension key.
func NormalizeKey(key string) string {
	k := invalidKeyChars.ReplaceAllString(key, "_")
	k = leadingNonAlpha.ReplaceAllString(k, "")
	return strings.Trim(k, ".")
}

// lineBreaks are replaced by spaces since a newline ends a line.
var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func quote(v string) string {
	v = lineBreaks.Replace(v)
	if !strings.ContainsAny(v, ` ,="\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// isNaNOrInfinity reports values the ingest API rejects.
func isNaNOrInfinity(f float64) bool {
	return math.IsInf(f, 0) || math.IsNaN(f)
}

// String renders l. Dimensions are sorted to keep the output stable.
func (l Line) String() string {
	var sb strings.Builder
	sb.WriteString(NormalizeKey(l.Key))

	dims := make(map[string]string, len(l.Dimensions))
	keys := make([]string, 0, len(l.Dimensions))
	for name, value := range l.Dimensions {
		key := strings.ToLower(NormalizeKey(name))
		if key == "" {
			continue
		}
		if _, dup := dims[key]; !dup {
			keys = append(keys, key)
		}
		dims[key] = value
	}
	sort.Strings(keys)
	for _, key := range keys {
		sb.WriteByte(',')
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(quote(dims[key]))
	}

	sb.WriteByte(' ')
	if l.Kind == Count {
		sb.WriteString("count,delta=")
	} else {
		sb.WriteString("gauge,")
	}
	sb.WriteString(formatValue(l.Value))

	if !l.Timestamp.IsZero() {
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatInt(l.Timestamp.UnixMilli(), 10))
	}
	return sb.String()
}

// Metadata renders the description line for key.
func Metadata(key string, kind Kind, description string) string {
	return "#" + NormalizeKey(key) + " " + kind.String() + " dt.meta.description=" + quote(description)
}

// IsDataLine reports whether line is a data point, as opposed to a blank or
// a metadata line.
func IsDataLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed != "" && !strings.HasPrefix(trimmed, "#")
}

// CountDataLines returns the number of data points in a newline separated
// blob.
func CountDataLines(blob string) int {
	n := 0
	for _, line := range strings.Split(blob, "\n") {
		if IsDataLine(line) {
			n++
		}
	}
	return n
}
