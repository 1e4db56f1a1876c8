// Package forwarder routes the records of an input to the delivery channels
// of a run and tears them down when the input ends.
// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package forwarder

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/newrelic/nri-forwarder/internal/breaker"
	"github.com/newrelic/nri-forwarder/internal/delivery"
	"github.com/newrelic/nri-forwarder/internal/pkg/metricline"
	"github.com/newrelic/nri-forwarder/internal/pkg/record"
	"github.com/newrelic/nri-forwarder/internal/source"
)

// Channel names used to route records.
const (
	ChannelEvents    = "events"
	ChannelBizEvents = "bizevents"
	ChannelDavis     = "davis"
	ChannelMetrics   = "metrics"
	ChannelSpans     = "spans"
)

// selfMetricsPrefix selects the gathered families forwarded as
// self-monitoring metrics.
const selfMetricsPrefix = "nr_stats_"

var flog = logrus.WithField("component", "forwarder")

// channelSummary counts the outcome of a run for one channel.
type channelSummary struct {
	sent    int
	failed  int
	skipped int
}

// Forwarder routes records to the delivery channels of a run. Every channel
// shares the run breaker: once it opens, the first channel noticing it
// returns a *breaker.CircuitOpenError and the run must stop.
type Forwarder struct {
	events    *delivery.EventChannel
	bizEvents *delivery.EventChannel
	davis     *delivery.EventChannel
	metrics   *delivery.MetricsChannel
	spans     delivery.TelemetryExporter

	breaker        *breaker.Breaker
	builder        *metricline.Builder
	selfBuilder    *metricline.Builder
	gatherer       prometheus.Gatherer
	selfMonitoring bool
	flushInterval  time.Duration
	lastFlush      time.Time
	now            func() time.Time

	summary map[string]*channelSummary
}

// Options are the collaborators of a Forwarder.
type Options struct {
	Client  delivery.HTTPDoer
	Breaker *breaker.Breaker
	// TracerProvider exports the records of the spans channel. Without it
	// span records are skipped.
	TracerProvider trace.TracerProvider
	Gatherer       prometheus.Gatherer
}

// New returns a Forwarder sending through the channels configured in cfg.
func New(cfg *Config, opts Options) *Forwarder {
	if opts.Breaker == nil {
		opts.Breaker = breaker.New(cfg.MaxConsecutiveAPIFails)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	chOpts := delivery.Options{
		BaseURL:    cfg.APIURL,
		Client:     opts.Client,
		Breaker:    opts.Breaker,
		Compress:   cfg.Compress,
		Attributes: record.Record(cfg.ResourceAttributes),
	}
	f := &Forwarder{
		events:         delivery.NewEventsChannel(cfg.Channels.Events, chOpts),
		bizEvents:      delivery.NewBizEventsChannel(cfg.Channels.BizEvents, chOpts),
		davis:          delivery.NewDavisEventsChannel(cfg.Channels.Davis, chOpts),
		metrics:        delivery.NewMetricsChannel(cfg.Channels.Metrics, chOpts),
		breaker:        opts.Breaker,
		builder:        metricline.NewBuilder(),
		selfBuilder:    metricline.NewBuilder(),
		gatherer:       opts.Gatherer,
		selfMonitoring: cfg.SelfMonitoring,
		flushInterval:  cfg.FlushInterval,
		now:            time.Now,
		summary:        map[string]*channelSummary{},
	}
	if opts.TracerProvider != nil {
		f.spans = delivery.NewSpanExporter(opts.TracerProvider)
	}
	f.lastFlush = f.now()
	if f.selfMonitoring {
		// counters only produce deltas from their second sample
		_ = f.selfMetrics(true)
	}
	return f
}

func (f *Forwarder) channel(name string) *channelSummary {
	s, ok := f.summary[name]
	if !ok {
		s = &channelSummary{}
		f.summary[name] = s
	}
	return s
}

func (f *Forwarder) account(name string, res delivery.SendResult) {
	s := f.channel(name)
	s.sent += res.Sent
	s.failed += len(res.Residual)
	if len(res.Residual) > 0 {
		flog.WithFields(logrus.Fields{
			"channel": name,
			"records": len(res.Residual),
		}).Warn("records not delivered")
	}
}

// Handle routes e to its channel. Records of unknown channels and metric
// records that can not be converted are skipped with a warning. The only
// errors returned are the breaker and context ones.
func (f *Forwarder) Handle(ctx context.Context, e source.Entry) error {
	var ch *delivery.EventChannel
	switch e.Channel {
	case ChannelEvents:
		ch = f.events
	case ChannelBizEvents:
		ch = f.bizEvents
	case ChannelDavis:
		ch = f.davis
	case ChannelMetrics:
		return f.handleMetrics(ctx, e)
	case ChannelSpans:
		if f.spans == nil {
			flog.Warn("skipping span record, no span exporter configured")
			f.channel(ChannelSpans).skipped++
			return nil
		}
		if err := f.spans.Send(ctx, e.Record); err != nil {
			flog.WithError(err).Warn("sending span")
			f.channel(ChannelSpans).failed++
			return nil
		}
		f.channel(ChannelSpans).sent++
		return nil
	default:
		flog.WithField("channel", e.Channel).Warn("skipping record of unknown channel")
		f.channel(e.Channel).skipped++
		return nil
	}

	res, err := ch.Accumulate(ctx, e.Record)
	f.account(e.Channel, res)
	return err
}

func (f *Forwarder) handleMetrics(ctx context.Context, e source.Entry) error {
	payload := e.Lines
	if e.Record != nil {
		lines, err := f.builder.FromRecord(e.Record)
		if err != nil {
			flog.WithError(err).Warn("skipping invalid metric record")
			f.channel(ChannelMetrics).skipped++
			return nil
		}
		payload = strings.Join(lines, "\n")
	}
	n, err := f.metrics.Accumulate(ctx, payload)
	f.channel(ChannelMetrics).sent += n
	return err
}

// Tick flushes every channel once the flush interval has elapsed since the
// last flush. Following sources call it while waiting for new records.
func (f *Forwarder) Tick(ctx context.Context) error {
	if f.flushInterval <= 0 || f.now().Sub(f.lastFlush) < f.flushInterval {
		return nil
	}
	return f.Flush(ctx)
}

// Flush sends everything accumulated by the event and metrics channels,
// followed by the self-monitoring metrics when enabled. It stops at the
// first channel finding the breaker open.
func (f *Forwarder) Flush(ctx context.Context) error {
	f.lastFlush = f.now()
	for _, ch := range []*delivery.EventChannel{f.events, f.bizEvents, f.davis} {
		res, err := ch.Flush(ctx)
		f.account(ch.Name(), res)
		if err != nil {
			return err
		}
	}

	if f.selfMonitoring {
		if lines := f.selfMetrics(false); len(lines) > 0 {
			if _, err := f.metrics.Accumulate(ctx, strings.Join(lines, "\n")); err != nil {
				return err
			}
		}
	}
	n, err := f.metrics.Flush(ctx)
	f.channel(ChannelMetrics).sent += n
	if err != nil || f.spans == nil {
		return err
	}
	return f.spans.Flush(ctx)
}

// selfMetrics renders the forwarder own metrics as metric lines. Priming
// only records the current value of cumulative metrics.
func (f *Forwarder) selfMetrics(prime bool) []string {
	mfs, err := f.gatherer.Gather()
	if err != nil {
		flog.WithError(err).Warn("gathering self-monitoring metrics")
	}
	own := mfs[:0]
	for _, mf := range mfs {
		if !strings.HasPrefix(mf.GetName(), selfMetricsPrefix) {
			continue
		}
		if prime && (mf.GetType() == dto.MetricType_GAUGE || mf.GetType() == dto.MetricType_UNTYPED) {
			continue
		}
		own = append(own, mf)
	}
	return f.selfBuilder.FromFamilies(own, f.now())
}

// Close flushes the channels and shuts the span exporter down. The span
// exporter is shut down even when flushing fails.
func (f *Forwarder) Close(ctx context.Context) error {
	flushErr := f.Flush(ctx)
	f.shutdownSpans(ctx)
	return flushErr
}

func (f *Forwarder) shutdownSpans(ctx context.Context) {
	if f.spans == nil {
		return
	}
	if err := f.spans.Shutdown(ctx); err != nil {
		flog.WithError(err).Warn("shutting down span exporter")
	}
}

// LogSummary logs the outcome of the run per channel.
func (f *Forwarder) LogSummary() {
	names := make([]string, 0, len(f.summary))
	for name := range f.summary {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := f.summary[name]
		flog.WithFields(logrus.Fields{
			"channel": name,
			"sent":    s.sent,
			"failed":  s.failed,
			"skipped": s.skipped,
		}).Info("run summary")
	}
	if f.breaker.Open() {
		flog.WithField("consecutive_failures", f.breaker.ConsecutiveFailures()).Error("run aborted by too many failed API calls")
	}
}

// NewHTTPClient returns the client used to reach the ingest API.
func NewHTTPClient(cfg *Config) (*http.Client, error) {
	var proxyURL *url.URL
	if cfg.ProxyURL != "" {
		var err error
		if proxyURL, err = url.Parse(cfg.ProxyURL); err != nil {
			return nil, errors.Wrap(err, "parsing proxy_url")
		}
	}
	var tlsConfig *tls.Config
	if cfg.InsecureSkipVerify {
		tlsConfig = &tls.Config{InsecureSkipVerify: true} // nolint: gosec
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: delivery.NewTransport(nil, cfg.APIToken, tlsConfig, proxyURL),
	}, nil
}

// Run forwards the records of the configured input until it ends, the
// context is done or the breaker opens. Channels are always flushed and
// torn down before returning. A *breaker.CircuitOpenError is returned when
// the run was aborted.
func Run(ctx context.Context, cfg *Config, stdin io.Reader) error {
	logrus.Infof("Starting %s version %s", delivery.Name, delivery.Version)
	if cfg.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.Debugf("Config: %#v", redacted(cfg))

	if err := validateConfig(cfg); err != nil {
		return errors.Wrap(err, "while validating configuration options")
	}

	if cfg.SelfMetricsListen != "" {
		srv := selfMetricsServer(cfg.SelfMetricsListen, cfg.Debug)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				flog.WithError(err).Error("self metrics server stopped")
			}
		}()
		defer func() {
			_ = srv.Close()
		}()
	}

	client, err := NewHTTPClient(cfg)
	if err != nil {
		return err
	}
	tp, err := delivery.NewOTLPTracerProvider(ctx, client, cfg.APIURL, cfg.SpansPath, cfg.Compress, record.Record(cfg.ResourceAttributes))
	if err != nil {
		return err
	}
	fwd := New(cfg, Options{
		Client:         client,
		Breaker:        breaker.New(cfg.MaxConsecutiveAPIFails),
		TracerProvider: tp,
	})

	src, err := source.Open(source.Config{
		Input:        cfg.Input,
		Format:       source.Format(cfg.InputFormat),
		Follow:       cfg.Follow,
		IdleTimeout:  cfg.FollowIdleTimeout,
		TickInterval: time.Second,
		OnTick:       fwd.Tick,
		Client:       &http.Client{Timeout: client.Timeout},
	}, stdin)
	if err != nil {
		fwd.shutdownSpans(context.WithoutCancel(ctx))
		return err
	}
	defer func() {
		_ = src.Close()
	}()

	readErr := src.Read(ctx, fwd.Handle)
	if errors.Is(readErr, context.Canceled) {
		flog.Info("run canceled, flushing pending records")
		readErr = nil
	}

	var closeErr error
	if !isCircuitOpen(readErr) {
		closeErr = fwd.Close(context.WithoutCancel(ctx))
	} else {
		fwd.shutdownSpans(context.WithoutCancel(ctx))
	}
	fwd.LogSummary()

	if readErr != nil {
		return readErr
	}
	return closeErr
}

func isCircuitOpen(err error) bool {
	var open *breaker.CircuitOpenError
	return errors.As(err, &open)
}

func selfMetricsServer(addr string, debug bool) *http.Server {
	r := http.NewServeMux()
	r.Handle("/metrics", promhttp.Handler())
	if debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func redacted(cfg *Config) Config {
	c := *cfg
	if c.APIToken != "" {
		c.APIToken = "<redacted>"
	}
	return c
}
