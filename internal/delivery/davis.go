// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"github.com/newrelic/nri-forwarder/internal/pkg/record"
)

// maxDavisStringLength is the longest string value the legacy events API
// accepts.
const maxDavisStringLength = 4096

// davisEvent is the body of a legacy events API call.
type davisEvent struct {
	EventType  string        `json:"eventType"`
	Title      string        `json:"title"`
	StartTime  int64         `json:"startTime,omitempty"`
	EndTime    int64         `json:"endTime,omitempty"`
	Timeout    interface{}   `json:"timeout,omitempty"`
	Properties record.Record `json:"properties"`
}

type davisEvents struct {
	eventType  string
	attributes record.Record
}

// NewDavisEventsPacker returns the Packer of the legacy events channel. It
// truncates every string to the length accepted by the API.
func NewDavisEventsPacker(eventType string, attributes record.Record) Packer {
	return &davisEvents{eventType: eventType, attributes: attributes}
}

func (d *davisEvents) Protocol() Protocol {
	return DavisEvents
}

func (d *davisEvents) Pack(r record.Record) (interface{}, error) {
	h := readHeader(r, d.eventType)
	event := davisEvent{
		EventType:  h.eventType,
		Title:      record.Truncate(h.title, maxDavisStringLength),
		Timeout:    h.timeout,
		Properties: record.TruncateStrings(record.Merge(d.attributes, r.Without(eventKeys...)), maxDavisStringLength),
	}
	if !h.start.IsZero() {
		event.StartTime = h.start.UnixMilli()
	}
	if !h.end.IsZero() {
		event.EndTime = h.end.UnixMilli()
	}
	return event, nil
}

// NewDavisEventsChannel returns the legacy events channel. Records failing
// after the last retry are reported in the flush result and not kept for a
// later flush.
func NewDavisEventsChannel(cfg ChannelConfig, opts Options) *EventChannel {
	cfg = cfg.withDefaults(DavisEvents)
	return NewEventChannel(NewDavisEventsPacker(cfg.EventType, opts.Attributes), cfg, opts)
}
