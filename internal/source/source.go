// Package source reads the telemetry records forwarded by a run.
// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package source

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/newrelic/nri-forwarder/internal/pkg/jsoncodec"
	"github.com/newrelic/nri-forwarder/internal/pkg/prometheus"
	"github.com/newrelic/nri-forwarder/internal/pkg/record"
)

// KeyChannel is the record key naming the channel a record is routed to.
// It is removed from the record before it is handed over.
const KeyChannel = "channel"

// DefaultChannel receives the records without a KeyChannel field.
const DefaultChannel = "events"

// Stdin is the input name reading from the standard input.
const Stdin = "-"

// Format of the input.
type Format string

const (
	// FormatNDJSON is one JSON object per line.
	FormatNDJSON Format = "ndjson"
	// FormatPrometheus is the Prometheus text exposition format.
	FormatPrometheus Format = "prometheus"
)

var slog = logrus.WithField("component", "source")

// Entry is one unit read from the input.
type Entry struct {
	Channel string
	Record  record.Record
	// Lines holds metric lines in the ingest line protocol, ready to be
	// accumulated by the metrics channel. Record is nil when it is set.
	Lines string
}

// HandleFunc processes an entry. Returning an error stops the reading and
// the error is returned by Read.
type HandleFunc func(ctx context.Context, e Entry) error

// Source produces entries until its input ends.
type Source interface {
	Read(ctx context.Context, handle HandleFunc) error
	Close() error
}

// Config selects and configures a source.
type Config struct {
	Input  string
	Format Format
	Follow bool
	// IdleTimeout stops following a file after that long without new
	// lines. Zero follows until the context is done.
	IdleTimeout time.Duration
	// TickInterval and OnTick let the caller act periodically while a
	// followed file has no new lines.
	TickInterval time.Duration
	OnTick       HandleTickFunc
	// Client scrapes http(s) inputs in the prometheus format.
	Client prometheus.HTTPDoer
}

// HandleTickFunc is called every TickInterval by following sources.
type HandleTickFunc func(ctx context.Context) error

// Open returns the source described by cfg. stdin is used when the input
// is Stdin. An http(s) input in the prometheus format is scraped once.
func Open(cfg Config, stdin io.Reader) (Source, error) {
	if cfg.Format == "" {
		cfg.Format = FormatNDJSON
	}
	if cfg.Input == "" {
		cfg.Input = Stdin
	}

	if cfg.Follow {
		if cfg.Format != FormatNDJSON {
			return nil, errors.Errorf("follow mode only supports the %s format", FormatNDJSON)
		}
		if cfg.Input == Stdin {
			return nil, errors.New("follow mode needs a file input")
		}
		return NewFollower(cfg.Input, cfg.IdleTimeout, cfg.TickInterval, cfg.OnTick)
	}

	if cfg.Format == FormatPrometheus && isURL(cfg.Input) {
		return NewScrape(cfg.Client, cfg.Input), nil
	}

	var (
		rc  io.ReadCloser
		err error
	)
	if cfg.Input == Stdin {
		rc = io.NopCloser(stdin)
	} else if rc, err = os.Open(cfg.Input); err != nil {
		return nil, errors.Wrapf(err, "opening input %s", cfg.Input)
	}

	switch cfg.Format {
	case FormatNDJSON:
		return NewNDJSON(rc), nil
	case FormatPrometheus:
		return NewExposition(rc), nil
	default:
		_ = rc.Close()
		return nil, errors.Errorf("unknown input format %q", cfg.Format)
	}
}

// decodeLine turns one NDJSON line into an entry. Blank lines yield false
// and no error.
func decodeLine(line []byte) (Entry, bool, error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return Entry{}, false, nil
	}
	var r record.Record
	if err := jsoncodec.Unmarshal(line, &r); err != nil {
		return Entry{}, false, errors.Wrap(err, "decoding record")
	}
	if r == nil {
		return Entry{}, false, errors.New("record is not a JSON object")
	}

	channel := DefaultChannel
	if c, ok := r.String(KeyChannel); ok && c != "" {
		channel = c
	}
	return Entry{Channel: channel, Record: r.Without(KeyChannel)}, true, nil
}

// handleLine decodes and dispatches one line. Malformed lines are logged
// and skipped.
func handleLine(ctx context.Context, line []byte, handle HandleFunc) error {
	e, ok, err := decodeLine(line)
	if err != nil {
		malformedLinesMetric.Inc()
		slog.WithError(err).Warn("skipping malformed line")
		return nil
	}
	if !ok {
		return nil
	}
	recordsReadMetric.WithLabelValues(e.Channel).Inc()
	return handle(ctx, e)
}
