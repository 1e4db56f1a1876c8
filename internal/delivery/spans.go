// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/newrelic/nri-forwarder/internal/pkg/record"
)

// TelemetryExporter is the contract of the batching exporter owning the logs
// and spans pipeline. It keeps its own queue: Send only enqueues.
type TelemetryExporter interface {
	Send(ctx context.Context, r record.Record) error
	Flush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

var _ TelemetryExporter = (*SpanExporter)(nil)

// Record keys read by the span exporter.
const (
	KeySpanName = "name"
)

const instrumentationName = "github.com/newrelic/nri-forwarder"

type flusher interface {
	ForceFlush(ctx context.Context) error
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// SpanExporter turns records into spans of an OpenTelemetry tracer provider.
// The provider batches and exports them; Flush and Shutdown are forwarded
// when the provider supports them.
type SpanExporter struct {
	provider trace.TracerProvider
	tracer   trace.Tracer
	now      func() time.Time
}

// NewSpanExporter returns a SpanExporter recording on tp.
func NewSpanExporter(tp trace.TracerProvider) *SpanExporter {
	return &SpanExporter{
		provider: tp,
		tracer:   tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(Version)),
		now:      time.Now,
	}
}

// Send records r as a span named after its KeySpanName field. The other
// fields become span attributes.
func (e *SpanExporter) Send(ctx context.Context, r record.Record) error {
	name, ok := r.String(KeySpanName)
	if !ok || name == "" {
		name = "record"
	}
	start, ok := r.Time(KeyStartTime)
	if !ok {
		start = e.now()
	}
	end, ok := r.Time(KeyEndTime)
	if !ok || end.Before(start) {
		end = start
	}

	_, span := e.tracer.Start(ctx, name,
		trace.WithTimestamp(start),
		trace.WithAttributes(attributes(r.Without(KeySpanName, KeyStartTime, KeyEndTime))...),
	)
	span.End(trace.WithTimestamp(end))
	return nil
}

// Flush asks the provider to export every queued span.
func (e *SpanExporter) Flush(ctx context.Context) error {
	if f, ok := e.provider.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// Shutdown flushes and stops the provider.
func (e *SpanExporter) Shutdown(ctx context.Context) error {
	if s, ok := e.provider.(shutdowner); ok {
		return s.Shutdown(ctx)
	}
	return e.Flush(ctx)
}

func attributes(r record.Record) []attribute.KeyValue {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := r[k].(type) {
		case nil:
			continue
		case string:
			attrs = append(attrs, attribute.String(k, v))
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case int64:
			attrs = append(attrs, attribute.Int64(k, v))
		case float64:
			attrs = append(attrs, attribute.Float64(k, v))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", v)))
		}
	}
	return attrs
}
