// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"time"

	"github.com/newrelic/nri-forwarder/internal/pkg/record"
)

// Record keys with a meaning for event channels. They are moved out of the
// event properties into the fields of the event itself.
const (
	KeyEventType = "eventType"
	KeyTitle     = "title"
	KeyStartTime = "startTime"
	KeyEndTime   = "endTime"
	KeyTimeout   = "timeout"
)

var eventKeys = []string{KeyEventType, KeyTitle, KeyStartTime, KeyEndTime, KeyTimeout}

// eventHeader holds the reserved fields of an event record.
type eventHeader struct {
	eventType string
	title     string
	start     time.Time
	end       time.Time
	timeout   interface{}
}

func readHeader(r record.Record, defaultType string) eventHeader {
	h := eventHeader{eventType: defaultType}
	if t, ok := r.String(KeyEventType); ok && t != "" {
		h.eventType = t
	}
	h.title = h.eventType
	if t, ok := r.String(KeyTitle); ok && t != "" {
		h.title = t
	}
	h.start, _ = r.Time(KeyStartTime)
	h.end, _ = r.Time(KeyEndTime)
	if v, ok := r[KeyTimeout]; ok && v != nil {
		h.timeout = v
	}
	return h
}

// genericEvents packs records as flat events: the attributes of the run,
// then the record fields, next to the event type and title.
type genericEvents struct {
	eventType  string
	attributes record.Record
}

// NewGenericEventsPacker returns the Packer of the generic events channel.
func NewGenericEventsPacker(eventType string, attributes record.Record) Packer {
	return &genericEvents{eventType: eventType, attributes: attributes}
}

func (g *genericEvents) Protocol() Protocol {
	return GenericEvents
}

func (g *genericEvents) Pack(r record.Record) (interface{}, error) {
	h := readHeader(r, g.eventType)
	event := record.Merge(g.attributes, r.Without(eventKeys...))
	event[KeyEventType] = h.eventType
	event[KeyTitle] = h.title
	if !h.start.IsZero() {
		event[KeyStartTime] = h.start.UnixMilli()
	}
	if !h.end.IsZero() {
		event[KeyEndTime] = h.end.UnixMilli()
	}
	if h.timeout != nil {
		event[KeyTimeout] = h.timeout
	}
	return event, nil
}

// NewEventsChannel returns the generic events channel.
func NewEventsChannel(cfg ChannelConfig, opts Options) *EventChannel {
	cfg = cfg.withDefaults(GenericEvents)
	return NewEventChannel(NewGenericEventsPacker(cfg.EventType, opts.Attributes), cfg, opts)
}
