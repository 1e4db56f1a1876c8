// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package metricline

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/newrelic/newrelic-telemetry-sdk-go/cumulative"
	"github.com/pkg/errors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"

	"github.com/newrelic/nri-forwarder/internal/pkg/record"
)

const (
	defaultDeltaExpirationAge           = 5 * time.Minute
	defaultDeltaExpirationCheckInterval = 5 * time.Minute
)

// Record keys read by FromRecord.
const (
	KeyMetric      = "metric"
	KeyValue       = "value"
	KeyType        = "type"
	KeyDimensions  = "dimensions"
	KeyTimestamp   = "timestamp"
	KeyDescription = "description"
)

// Record metric types.
const (
	TypeGauge      = "gauge"
	TypeCount      = "count"
	TypeCumulative = "cumulative"
)

// Builder turns metric records and Prometheus metric families into lines.
// Cumulative values are converted to deltas, so the first sample of a
// cumulative series produces no line at all. Descriptions are emitted once
// per metric key, next to its first data line.
type Builder struct {
	mtx             sync.Mutex
	deltaCalculator *cumulative.DeltaCalculator
	described       map[string]struct{}
}

// NewBuilder returns a Builder with an empty delta state.
func NewBuilder() *Builder {
	dc := cumulative.NewDeltaCalculator()
	dc.SetExpirationAge(defaultDeltaExpirationAge)
	dc.SetExpirationCheckInterval(defaultDeltaExpirationCheckInterval)
	return &Builder{
		deltaCalculator: dc,
		described:       map[string]struct{}{},
	}
}

// FromRecord renders a metric record. The record must carry KeyMetric and
// a numeric KeyValue. It returns no lines, and no error, for NaN and
// infinite values.
func (b *Builder) FromRecord(r record.Record) ([]string, error) {
	key, ok := r.String(KeyMetric)
	if !ok || NormalizeKey(key) == "" {
		return nil, fmt.Errorf("metric record without a valid %q key", KeyMetric)
	}
	value, ok := r.Float(KeyValue)
	if !ok {
		return nil, fmt.Errorf("metric %q without a numeric %q", key, KeyValue)
	}
	if isNaNOrInfinity(value) {
		logrus.Debugf("Ignoring NaN or infinite value for metric: %s", key)
		return nil, nil
	}

	dims := map[string]string{}
	switch d := r[KeyDimensions].(type) {
	case map[string]interface{}:
		for k, v := range d {
			dims[k] = fmt.Sprintf("%v", v)
		}
	case record.Record:
		for k, v := range d {
			dims[k] = fmt.Sprintf("%v", v)
		}
	case map[string]string:
		for k, v := range d {
			dims[k] = v
		}
	}

	ts, _ := r.Time(KeyTimestamp)
	metricType, _ := r.String(KeyType)

	var line Line
	switch metricType {
	case "", TypeGauge:
		line = Line{Key: key, Dimensions: dims, Kind: Gauge, Value: value, Timestamp: ts}
	case TypeCount:
		line = Line{Key: key, Dimensions: dims, Kind: Count, Value: value, Timestamp: ts}
	case TypeCumulative:
		var valid bool
		line, valid = b.delta(key, dims, value, ts)
		if !valid {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("metric %q has unknown type %q", key, metricType)
	}

	return append(b.describe(nil, key, line.Kind, r), line.String()), nil
}

func (b *Builder) describe(lines []string, key string, kind Kind, r record.Record) []string {
	description, ok := r.String(KeyDescription)
	if !ok || description == "" {
		return lines
	}
	return b.metadata(lines, key, kind, description)
}

func (b *Builder) metadata(lines []string, key string, kind Kind, description string) []string {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	normalized := NormalizeKey(key)
	if _, done := b.described[normalized]; done {
		return lines
	}
	b.described[normalized] = struct{}{}
	return append(lines, Metadata(key, kind, description))
}

func (b *Builder) delta(key string, dims map[string]string, value float64, ts time.Time) (Line, bool) {
	now := ts
	if now.IsZero() {
		now = time.Now()
	}
	attrs := make(map[string]interface{}, len(dims))
	for k, v := range dims {
		attrs[k] = v
	}
	count, ok := b.deltaCalculator.CountMetric(key, attrs, value, now)
	if !ok {
		return Line{}, false
	}
	return Line{Key: key, Dimensions: dims, Kind: Count, Value: count.Value, Timestamp: ts}, true
}

// FromFamilies renders Prometheus metric families. Counters are treated as
// cumulative, gauges and untyped metrics as gauges, and summaries and
// histograms are reduced to their _sum and _count series.
func (b *Builder) FromFamilies(mfs []*dto.MetricFamily, now time.Time) []string {
	sort.Slice(mfs, func(i, j int) bool { return mfs[i].GetName() < mfs[j].GetName() })

	var lines []string
	for _, mf := range mfs {
		name := mf.GetName()
		for _, m := range mf.GetMetric() {
			dims := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				dims[lp.GetName()] = lp.GetValue()
			}
			ts := now
			if m.TimestampMs != nil {
				ts = time.UnixMilli(m.GetTimestampMs())
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				lines = b.cumulativeLine(lines, mf, name, dims, m.GetCounter().GetValue(), ts)
			case dto.MetricType_GAUGE:
				lines = b.gaugeLine(lines, mf, name, dims, m.GetGauge().GetValue(), ts)
			case dto.MetricType_UNTYPED:
				lines = b.gaugeLine(lines, mf, name, dims, m.GetUntyped().GetValue(), ts)
			case dto.MetricType_SUMMARY:
				s := m.GetSummary()
				lines = b.cumulativeLine(lines, mf, name+"_sum", dims, s.GetSampleSum(), ts)
				lines = b.cumulativeLine(lines, mf, name+"_count", dims, float64(s.GetSampleCount()), ts)
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				lines = b.cumulativeLine(lines, mf, name+"_sum", dims, h.GetSampleSum(), ts)
				lines = b.cumulativeLine(lines, mf, name+"_count", dims, float64(h.GetSampleCount()), ts)
			default:
				logrus.Debugf("Unexpected metric type for %s: %v", name, mf.GetType())
			}
		}
	}
	return lines
}

func (b *Builder) gaugeLine(lines []string, mf *dto.MetricFamily, key string, dims map[string]string, value float64, ts time.Time) []string {
	if isNaNOrInfinity(value) {
		return lines
	}
	if mf.GetHelp() != "" {
		lines = b.metadata(lines, key, Gauge, mf.GetHelp())
	}
	return append(lines, Line{Key: key, Dimensions: dims, Kind: Gauge, Value: value, Timestamp: ts}.String())
}

func (b *Builder) cumulativeLine(lines []string, mf *dto.MetricFamily, key string, dims map[string]string, value float64, ts time.Time) []string {
	if isNaNOrInfinity(value) {
		return lines
	}
	line, ok := b.delta(key, dims, value, ts)
	if !ok {
		return lines
	}
	if mf.GetHelp() != "" {
		lines = b.metadata(lines, key, Count, mf.GetHelp())
	}
	return append(lines, line.String())
}

// ParseExposition decodes Prometheus text exposition format.
func ParseExposition(r io.Reader) ([]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	byName, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, errors.Wrap(err, "parsing exposition text")
	}
	mfs := make([]*dto.MetricFamily, 0, len(byName))
	for _, mf := range byName {
		mfs = append(mfs, mf)
	}
	return mfs, nil
}
