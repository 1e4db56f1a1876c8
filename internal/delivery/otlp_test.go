// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic/nri-forwarder/internal/pkg/record"
)

func TestOTLPTracerProviderExportsSpans(t *testing.T) {
	t.Parallel()

	// Given a span exporter backed by the OTLP provider
	srv := newIngestServer(t, always(http.StatusOK))
	ctx := context.Background()
	tp, err := NewOTLPTracerProvider(ctx, srv.Client(), srv.URL, "", false, record.Record{"host": "h1"})
	require.NoError(t, err)
	exporter := NewSpanExporter(tp)

	// When a record is sent and the exporter shut down
	require.NoError(t, exporter.Send(ctx, record.Record{KeySpanName: "query", "warehouse": "wh1"}))
	require.NoError(t, exporter.Shutdown(ctx))

	// Then the span is posted to the traces endpoint
	reqs := srv.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, SpansPath, reqs[0].path)
	assert.Equal(t, "application/x-protobuf", reqs[0].header.Get("Content-Type"))
	assert.Contains(t, reqs[0].body, "query")
	assert.Contains(t, reqs[0].body, "wh1")
}
