// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/newrelic/nri-forwarder/internal/pkg/metricline"
)

// MetricsChannel batches metric lines into a single newline separated text
// blob bounded by MaxPayloadBytes, and sends it to the metrics endpoint.
type MetricsChannel struct {
	mtx          sync.Mutex
	blob         strings.Builder
	maxBatchSize int
	sender       *Sender
	log          *logrus.Entry
}

// NewMetricsChannel returns the metrics channel.
func NewMetricsChannel(cfg ChannelConfig, opts Options) *MetricsChannel {
	cfg = cfg.withDefaults(Metrics)
	return &MetricsChannel{
		maxBatchSize: cfg.MaxPayloadBytes,
		sender:       NewSender(opts.Client, Metrics, cfg, opts.BaseURL, opts.Compress, opts.Breaker),
		log:          logrus.WithField("component", "channel").WithField("channel", Metrics.Name),
	}
}

// Name of the channel protocol.
func (m *MetricsChannel) Name() string {
	return Metrics.Name
}

// Pending returns the size in bytes of the cached blob.
func (m *MetricsChannel) Pending() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.blob.Len()
}

// Accumulate appends payload, one or more metric lines, to the cached blob.
// When the blob can not take payload without growing over the batch size it
// is sent first. A payload bigger than the batch size is accumulated line by
// line, and a line bigger than the batch size is dropped.
//
// It returns the number of data lines sent by the flushes it triggered.
func (m *MetricsChannel) Accumulate(ctx context.Context, payload string) (int, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.accumulate(ctx, strings.TrimRight(payload, "\n"))
}

func (m *MetricsChannel) accumulate(ctx context.Context, payload string) (int, error) {
	if strings.TrimSpace(payload) == "" {
		return 0, nil
	}

	if len(payload) > m.maxBatchSize {
		if !strings.Contains(payload, "\n") {
			droppedOversizeMetric.WithLabelValues(Metrics.Name).Inc()
			m.log.WithError(&OversizeRecordError{
				Channel: Metrics.Name,
				Size:    len(payload),
				Limit:   m.maxBatchSize,
			}).Warn("dropping oversized metric line")
			return 0, nil
		}
		total := 0
		for _, line := range strings.Split(payload, "\n") {
			n, err := m.accumulate(ctx, line)
			total += n
			if err != nil {
				return total, err
			}
		}
		return total, nil
	}

	sent := 0
	if m.blob.Len() > 0 && m.blob.Len()+1+len(payload) > m.maxBatchSize {
		var err error
		if sent, err = m.flush(ctx); err != nil {
			return sent, err
		}
	}
	if m.blob.Len() > 0 {
		m.blob.WriteByte('\n')
	}
	m.blob.WriteString(payload)
	return sent, nil
}

// Flush sends the cached blob, if any, and resets it. It returns the number
// of data lines sent; metadata and blank lines are not counted.
func (m *MetricsChannel) Flush(ctx context.Context) (int, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.flush(ctx)
}

func (m *MetricsChannel) flush(ctx context.Context) (int, error) {
	if m.blob.Len() == 0 {
		return 0, nil
	}
	blob := m.blob.String()
	m.blob.Reset()

	res, err := m.sender.Send(ctx, []Item{{Payload: []byte(blob)}})
	if res.Sent == 0 {
		m.log.WithField("lines", metricline.CountDataLines(blob)).Debug("metric lines not sent")
		return 0, err
	}
	lines := metricline.CountDataLines(blob)
	m.log.WithField("lines", lines).Debug("metric lines sent")
	return lines, err
}
