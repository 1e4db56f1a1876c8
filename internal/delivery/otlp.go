// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/newrelic/nri-forwarder/internal/pkg/record"
)

// SpansPath is the default path of the OTLP/HTTP traces endpoint.
const SpansPath = "/api/v2/otlp/v1/traces"

// NewOTLPTracerProvider returns a tracer provider batching spans to the
// OTLP/HTTP traces endpoint at baseURL joined with path. Requests go through
// client, so they carry the API token. attrs describe the resource emitting
// the spans.
func NewOTLPTracerProvider(ctx context.Context, client *http.Client, baseURL, path string, compress bool, attrs record.Record) (*sdktrace.TracerProvider, error) {
	if path == "" {
		path = SpansPath
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(joinURL(baseURL, path)),
		otlptracehttp.WithHTTPClient(client),
	}
	if compress {
		opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating OTLP span exporter")
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attributes(attrs)...))
	if err != nil {
		res = resource.Default()
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}
