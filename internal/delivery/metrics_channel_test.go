// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic/nri-forwarder/internal/breaker"
)

func newTestMetricsChannel(t *testing.T, srv *ingestServer, maxBytes int) *MetricsChannel {
	t.Helper()

	cfg := testConfig(Metrics, 0)
	cfg.MaxPayloadBytes = maxBytes
	return NewMetricsChannel(cfg, testOptions(srv, breaker.New(5)))
}

func TestMetricsChannelFlushesBeforeOverflow(t *testing.T) {
	t.Parallel()

	// Given a metrics channel taking up to 30 bytes per batch
	srv := newIngestServer(t, always(http.StatusAccepted))
	ch := newTestMetricsChannel(t, srv, 30)
	ctx := context.Background()

	// When a payload that does not fit with the cached one is added
	first := "a.metric gauge,1"   // 16 bytes
	second := "b.metric gauge,22" // 17 bytes
	n, err := ch.Accumulate(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = ch.Accumulate(ctx, second)
	require.NoError(t, err)

	// Then the first payload is sent alone
	assert.Equal(t, 1, n)
	reqs := srv.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, first, reqs[0].body)
	assert.Equal(t, Metrics.Path, reqs[0].path)
	assert.Equal(t, Metrics.ContentType, reqs[0].header.Get("Content-Type"))

	// and the second one waits for the next flush
	assert.Equal(t, len(second), ch.Pending())
	n, err = ch.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, second, srv.received()[1].body)
}

func TestMetricsChannelJoinsLines(t *testing.T) {
	t.Parallel()

	srv := newIngestServer(t, always(http.StatusAccepted))
	ch := newTestMetricsChannel(t, srv, 1000)
	ctx := context.Background()

	_, err := ch.Accumulate(ctx, "#m gauge dt.meta.description=temperature\nm gauge,1\n")
	require.NoError(t, err)
	_, err = ch.Accumulate(ctx, "m gauge,2")
	require.NoError(t, err)

	n, err := ch.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "metadata lines are not counted")

	reqs := srv.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "#m gauge dt.meta.description=temperature\nm gauge,1\nm gauge,2", reqs[0].body)
	assert.Equal(t, 0, ch.Pending())
}

func TestMetricsChannelEmptyFlush(t *testing.T) {
	t.Parallel()

	srv := newIngestServer(t, always(http.StatusAccepted))
	ch := newTestMetricsChannel(t, srv, 1000)

	_, err := ch.Accumulate(context.Background(), "  \n")
	require.NoError(t, err)
	n, err := ch.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, srv.received())
}

func TestMetricsChannelSplitsBigPayload(t *testing.T) {
	t.Parallel()

	srv := newIngestServer(t, always(http.StatusAccepted))
	ch := newTestMetricsChannel(t, srv, 40)
	ctx := context.Background()

	lines := []string{"one gauge,1", "two gauge,2", "three gauge,3", "four gauge,4"}
	n, err := ch.Accumulate(ctx, strings.Join(lines, "\n"))
	require.NoError(t, err)
	m, err := ch.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n+m)

	for _, r := range srv.received() {
		assert.LessOrEqual(t, len(r.body), 40)
	}
}

func TestMetricsChannelDropsOversizeLine(t *testing.T) {
	t.Parallel()

	srv := newIngestServer(t, always(http.StatusAccepted))
	ch := newTestMetricsChannel(t, srv, 20)
	ctx := context.Background()

	_, err := ch.Accumulate(ctx, "a.very.long.metric.key gauge,1")
	require.NoError(t, err)
	assert.Equal(t, 0, ch.Pending())

	n, err := ch.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, srv.received())
}

func TestMetricsChannelFailedFlush(t *testing.T) {
	t.Parallel()

	srv := newIngestServer(t, always(http.StatusBadRequest))
	cb := breaker.New(5)
	cfg := testConfig(Metrics, 0)
	ch := NewMetricsChannel(cfg, testOptions(srv, cb))

	_, err := ch.Accumulate(context.Background(), "m gauge,1")
	require.NoError(t, err)
	n, err := ch.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, ch.Pending())
	assert.Equal(t, 1, cb.ConsecutiveFailures())
}
