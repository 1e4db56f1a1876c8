// Package delivery turns streams of telemetry records into bounded HTTP
// payloads, sends them with per channel retry policies and keeps the shared
// failure budget of the run up to date.
// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package delivery

import (
	"net/http"
	"strings"
	"time"
)

const (
	// Name of the forwarder
	Name = "nri-forwarder"
)

var (
	// Version of the forwarder
	Version = "dev"
)

// Framing is how a chunk of batched items is laid out in a request body.
type Framing int

const (
	// FramingJSONArray sends the items as a JSON array.
	FramingJSONArray Framing = iota
	// FramingLines joins the items with newlines.
	FramingLines
)

// Protocol describes the ingest endpoint of one channel kind.
type Protocol struct {
	Name        string
	Path        string
	ContentType string
	SuccessCode int
	// Batchable is false when the endpoint takes a single item per call.
	Batchable bool
	Framing   Framing
}

var (
	// GenericEvents ingests structured events.
	GenericEvents = Protocol{
		Name:        "events",
		Path:        "/platform/ingest/v1/events",
		ContentType: "application/json; charset=utf-8",
		SuccessCode: http.StatusAccepted,
		Batchable:   true,
		Framing:     FramingJSONArray,
	}
	// BizEvents ingests business events as CloudEvents batches.
	BizEvents = Protocol{
		Name:        "bizevents",
		Path:        "/api/v2/bizevents/ingest",
		ContentType: "application/cloudevent-batch+json",
		SuccessCode: http.StatusAccepted,
		Batchable:   true,
		Framing:     FramingJSONArray,
	}
	// DavisEvents is the legacy events endpoint, one event per call.
	DavisEvents = Protocol{
		Name:        "davis",
		Path:        "/api/v2/events/ingest",
		ContentType: "application/json; charset=utf-8",
		SuccessCode: http.StatusCreated,
		Batchable:   false,
		Framing:     FramingJSONArray,
	}
	// Metrics ingests metric lines as plain text.
	Metrics = Protocol{
		Name:        "metrics",
		Path:        "/api/v2/metrics/ingest",
		ContentType: "text/plain; charset=utf-8",
		SuccessCode: http.StatusAccepted,
		Batchable:   true,
		Framing:     FramingLines,
	}
)

// Retry defaults shared by every channel.
const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 10 * time.Second
)

// DefaultRetryOnStatus are the response codes retried when a channel does
// not configure its own set.
var DefaultRetryOnStatus = []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable}

// ChannelConfig stores the configurable values of a channel.
type ChannelConfig struct {
	// Path overrides the protocol endpoint path.
	Path          string        `mapstructure:"path"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	RetryOnStatus []int         `mapstructure:"retry_on_status"`
	// MaxPayloadBytes bounds the body of a single request. For the metrics
	// channel it is the maximum size of a batch of lines.
	MaxPayloadBytes int `mapstructure:"max_payload_bytes"`
	// MaxEventCount bounds the number of items per request and the number
	// of records kept before a flush is triggered.
	MaxEventCount int `mapstructure:"max_event_count"`
	// EventType is the default event type of event channels.
	EventType string `mapstructure:"event_type"`
	// Source is the CloudEvents source of business events.
	Source string `mapstructure:"source"`
}

// DefaultChannelConfig returns the defaults of the channel speaking p.
func DefaultChannelConfig(p Protocol) ChannelConfig {
	cfg := ChannelConfig{
		Path:          p.Path,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		RetryOnStatus: append([]int(nil), DefaultRetryOnStatus...),
	}
	switch p.Name {
	case GenericEvents.Name:
		cfg.MaxPayloadBytes = 5_000_000
		cfg.MaxEventCount = 1000
		cfg.EventType = "CUSTOM_INFO"
	case BizEvents.Name:
		cfg.MaxPayloadBytes = 5_000_000
		cfg.MaxEventCount = 400
		cfg.EventType = Name + ".event"
		cfg.Source = Name
	case DavisEvents.Name:
		cfg.MaxPayloadBytes = 1_000_000
		cfg.MaxEventCount = 100
		cfg.EventType = "CUSTOM_INFO"
	case Metrics.Name:
		cfg.MaxPayloadBytes = 1_000_000
	}
	return cfg
}

// withDefaults fills the fields where zero means unset. Retry counts and
// delays are taken as given since zero is meaningful for them.
func (c ChannelConfig) withDefaults(p Protocol) ChannelConfig {
	def := DefaultChannelConfig(p)
	if c.Path == "" {
		c.Path = def.Path
	}
	if len(c.RetryOnStatus) == 0 {
		c.RetryOnStatus = def.RetryOnStatus
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = def.MaxPayloadBytes
	}
	if c.MaxEventCount == 0 {
		c.MaxEventCount = def.MaxEventCount
	}
	if c.EventType == "" {
		c.EventType = def.EventType
	}
	if c.Source == "" {
		c.Source = def.Source
	}
	return c
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
