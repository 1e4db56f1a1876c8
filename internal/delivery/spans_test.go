// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/newrelic/nri-forwarder/internal/pkg/record"
)

type recordingSpan struct {
	noop.Span

	name  string
	start time.Time
	end   time.Time
	attrs []attribute.KeyValue
}

func (s *recordingSpan) End(opts ...trace.SpanEndOption) {
	cfg := trace.NewSpanEndConfig(opts...)
	s.end = cfg.Timestamp()
}

type recordingTracer struct {
	noop.Tracer
	p *recordingProvider
}

func (t recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	span := &recordingSpan{name: name, start: cfg.Timestamp(), attrs: cfg.Attributes()}

	t.p.mtx.Lock()
	t.p.spans = append(t.p.spans, span)
	t.p.mtx.Unlock()
	return ctx, span
}

type recordingProvider struct {
	noop.TracerProvider

	mtx     sync.Mutex
	spans   []*recordingSpan
	flushes int
}

func (p *recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return recordingTracer{p: p}
}

func (p *recordingProvider) ForceFlush(context.Context) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.flushes++
	return nil
}

func TestSpanExporterSend(t *testing.T) {
	t.Parallel()

	tp := &recordingProvider{}
	e := NewSpanExporter(tp)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	err := e.Send(context.Background(), record.Record{
		KeySpanName:  "query",
		KeyStartTime: start,
		KeyEndTime:   start.Add(2 * time.Second),
		"db":         "prod",
		"rows":       int64(12),
		"cached":     true,
		"elapsed":    1.5,
		"tags":       []interface{}{"a", "b"},
	})
	require.NoError(t, err)

	require.Len(t, tp.spans, 1)
	span := tp.spans[0]
	assert.Equal(t, "query", span.name)
	assert.Equal(t, start, span.start)
	assert.Equal(t, start.Add(2*time.Second), span.end)
	assert.Equal(t, []attribute.KeyValue{
		attribute.Bool("cached", true),
		attribute.String("db", "prod"),
		attribute.Float64("elapsed", 1.5),
		attribute.Int64("rows", 12),
		attribute.String("tags", "[a b]"),
	}, span.attrs)
}

func TestSpanExporterDefaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tp := &recordingProvider{}
	e := NewSpanExporter(tp)
	e.now = func() time.Time { return now }

	require.NoError(t, e.Send(context.Background(), record.Record{}))

	require.Len(t, tp.spans, 1)
	assert.Equal(t, "record", tp.spans[0].name)
	assert.Equal(t, now, tp.spans[0].start)
	assert.Equal(t, now, tp.spans[0].end)
	assert.Empty(t, tp.spans[0].attrs)
}

func TestSpanExporterFlush(t *testing.T) {
	t.Parallel()

	tp := &recordingProvider{}
	e := NewSpanExporter(tp)

	require.NoError(t, e.Flush(context.Background()))
	require.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, 2, tp.flushes, "shutdown flushes providers that can not be shut down")

	// a provider without flush support is a no-op
	require.NoError(t, NewSpanExporter(noop.NewTracerProvider()).Flush(context.Background()))
}
