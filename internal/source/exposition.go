// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	dto "github.com/prometheus/client_model/go"

	"github.com/newrelic/nri-forwarder/internal/pkg/metricline"
	"github.com/newrelic/nri-forwarder/internal/pkg/prometheus"
)

// MetricsChannel is the channel receiving metric lines.
const MetricsChannel = "metrics"

// Exposition reads a Prometheus text exposition and hands it over as metric
// lines. Counters only produce lines from their second sample, so a single
// exposition yields gauges only.
type Exposition struct {
	fetch   func(ctx context.Context) ([]*dto.MetricFamily, error)
	close   func() error
	builder *metricline.Builder
	now     func() time.Time
}

// NewExposition returns a source reading the exposition in rc.
func NewExposition(rc io.ReadCloser) *Exposition {
	return &Exposition{
		fetch: func(context.Context) ([]*dto.MetricFamily, error) {
			return metricline.ParseExposition(rc)
		},
		close:   rc.Close,
		builder: metricline.NewBuilder(),
		now:     time.Now,
	}
}

// NewScrape returns a source scraping the exposition served at url.
func NewScrape(client prometheus.HTTPDoer, url string) *Exposition {
	if client == nil {
		client = http.DefaultClient
	}
	return &Exposition{
		fetch: func(ctx context.Context) ([]*dto.MetricFamily, error) {
			return prometheus.Get(ctx, client, url)
		},
		close:   func() error { return nil },
		builder: metricline.NewBuilder(),
		now:     time.Now,
	}
}

// Read parses the whole input and calls handle once with its lines.
func (e *Exposition) Read(ctx context.Context, handle HandleFunc) error {
	mfs, err := e.fetch(ctx)
	if err != nil {
		return errors.Wrap(err, "reading exposition")
	}
	lines := e.builder.FromFamilies(mfs, e.now())
	if len(lines) == 0 {
		return nil
	}
	blob := strings.Join(lines, "\n")
	recordsReadMetric.WithLabelValues(MetricsChannel).Add(float64(metricline.CountDataLines(blob)))
	return handle(ctx, Entry{Channel: MetricsChannel, Lines: blob})
}

// Close closes the input.
func (e *Exposition) Close() error {
	return e.close()
}

func isURL(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}
