// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/newrelic/nri-forwarder/internal/breaker"
	"github.com/newrelic/nri-forwarder/internal/pkg/jsoncodec"
	"github.com/newrelic/nri-forwarder/internal/pkg/record"
)

// Packer shapes a record into the wire item of one events protocol.
type Packer interface {
	Protocol() Protocol
	Pack(r record.Record) (interface{}, error)
}

// Options are the collaborators shared by the channels of a run.
type Options struct {
	BaseURL  string
	Client   HTTPDoer
	Breaker  *breaker.Breaker
	Compress bool
	// Attributes are merged into every event, below the record fields.
	Attributes record.Record
}

// EventChannel accumulates records of one events protocol and sends them in
// chunks bounded by the channel payload size and event count.
type EventChannel struct {
	packer   Packer
	cfg      ChannelConfig
	batch    *Accumulator
	sender   *Sender
	protocol Protocol
	log      *logrus.Entry
}

// NewEventChannel returns a channel sending the records packed by p.
func NewEventChannel(p Packer, cfg ChannelConfig, opts Options) *EventChannel {
	protocol := p.Protocol()
	cfg = cfg.withDefaults(protocol)
	return &EventChannel{
		packer:   p,
		cfg:      cfg,
		batch:    NewAccumulator(cfg.MaxEventCount),
		sender:   NewSender(opts.Client, protocol, cfg, opts.BaseURL, opts.Compress, opts.Breaker),
		protocol: protocol,
		log:      logrus.WithField("component", "channel").WithField("channel", protocol.Name),
	}
}

// Name of the channel protocol.
func (c *EventChannel) Name() string {
	return c.protocol.Name
}

// Pending returns the number of records waiting for a flush.
func (c *EventChannel) Pending() int {
	return c.batch.Len()
}

// Accumulate caches r and flushes the channel once it holds MaxEventCount
// records. The result is empty unless a flush happened.
func (c *EventChannel) Accumulate(ctx context.Context, r record.Record) (SendResult, error) {
	if !c.batch.Add(r) {
		return SendResult{}, nil
	}
	return c.Flush(ctx)
}

// Flush sends every cached record. Flushing an empty channel performs no
// request. Sending stops at the first chunk that finds the breaker open.
func (c *EventChannel) Flush(ctx context.Context) (SendResult, error) {
	var result SendResult
	records := c.batch.Drain()
	if len(records) == 0 {
		return result, nil
	}

	items := make([]Item, 0, len(records))
	for _, r := range records {
		payload, err := c.pack(r)
		if err != nil {
			c.log.WithError(err).Warn("dropping record that can not be packed")
			failedItemsMetric.WithLabelValues(c.protocol.Name).Inc()
			result.Residual = append(result.Residual, Item{Record: r})
			continue
		}
		items = append(items, Item{Record: r, Payload: payload})
	}

	chunks := 0
	size, maxBytes := c.sizing()
	for chunk := range Chunks(items, size, maxBytes, c.cfg.MaxEventCount, c.dropOversize) {
		chunks++
		res, err := c.sender.Send(ctx, chunk)
		result.add(res)
		if err != nil {
			return result, err
		}
	}

	c.log.WithFields(logrus.Fields{
		"records": len(records),
		"chunks":  chunks,
		"sent":    result.Sent,
		"failed":  len(result.Residual),
	}).Debug("channel flushed")
	return result, nil
}

// sizing returns the item size and byte ceiling used to chunk. A JSON array
// body adds one separator per item plus the brackets, so every item is
// counted one byte larger and one byte is kept for the closing bracket.
func (c *EventChannel) sizing() (func(Item) int, int) {
	if !c.protocol.Batchable || c.protocol.Framing != FramingJSONArray || c.cfg.MaxPayloadBytes <= 0 {
		return Item.Size, c.cfg.MaxPayloadBytes
	}
	return func(it Item) int { return it.Size() + 1 }, c.cfg.MaxPayloadBytes - 1
}

func (c *EventChannel) pack(r record.Record) ([]byte, error) {
	wire, err := c.packer.Pack(r)
	if err != nil {
		return nil, err
	}
	return jsoncodec.Marshal(wire)
}

func (c *EventChannel) dropOversize(it Item, size int) {
	droppedOversizeMetric.WithLabelValues(c.protocol.Name).Inc()
	c.log.WithError(&OversizeRecordError{
		Channel: c.protocol.Name,
		Size:    size,
		Limit:   c.cfg.MaxPayloadBytes,
	}).Warn("dropping oversized record")
}
