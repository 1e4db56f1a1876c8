// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"time"

	"github.com/newrelic/nri-forwarder/internal/pkg/ids"
	"github.com/newrelic/nri-forwarder/internal/pkg/record"
)

// cloudEventsSpecVersion is the CloudEvents specification implemented.
const cloudEventsSpecVersion = "1.0"

// Record keys read by the business events channel.
const (
	KeyCloudEventType = "type"
	KeyCloudEventTime = "time"
)

// cloudEvent is a CloudEvents v1.0 envelope.
type cloudEvent struct {
	SpecVersion     string        `json:"specversion"`
	ID              string        `json:"id"`
	Source          string        `json:"source"`
	Time            string        `json:"time"`
	Type            string        `json:"type"`
	DataContentType string        `json:"datacontenttype,omitempty"`
	Data            record.Record `json:"data"`
}

type bizEvents struct {
	eventType  string
	source     string
	attributes record.Record
	now        func() time.Time
}

// NewBizEventsPacker returns the Packer of the business events channel.
func NewBizEventsPacker(eventType, source string, attributes record.Record) Packer {
	return &bizEvents{
		eventType:  eventType,
		source:     source,
		attributes: attributes,
		now:        time.Now,
	}
}

func (b *bizEvents) Protocol() Protocol {
	return BizEvents
}

func (b *bizEvents) Pack(r record.Record) (interface{}, error) {
	eventType := b.eventType
	if t, ok := r.String(KeyCloudEventType); ok && t != "" {
		eventType = t
	}
	ts, ok := r.Time(KeyCloudEventTime)
	if !ok {
		ts = b.now()
	}
	return cloudEvent{
		SpecVersion:     cloudEventsSpecVersion,
		ID:              ids.New(),
		Source:          b.source,
		Time:            ts.UTC().Format(time.RFC3339Nano),
		Type:            eventType,
		DataContentType: "application/json",
		Data:            record.Merge(b.attributes, r.Without(KeyCloudEventType, KeyCloudEventTime)),
	}, nil
}

// NewBizEventsChannel returns the business events channel.
func NewBizEventsChannel(cfg ChannelConfig, opts Options) *EventChannel {
	cfg = cfg.withDefaults(BizEvents)
	return NewEventChannel(NewBizEventsPacker(cfg.EventType, cfg.Source, opts.Attributes), cfg, opts)
}
