// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/newrelic/nri-forwarder/internal/breaker"
	"github.com/newrelic/nri-forwarder/internal/pkg/jsoncodec"
	"github.com/newrelic/nri-forwarder/internal/pkg/record"
	"github.com/newrelic/nri-forwarder/internal/retry"
)

// maxLoggedBody bounds how much of a failed response body is read.
const maxLoggedBody = 4096

// Item is one packed record ready to be sent.
type Item struct {
	// Record is the source of the item. It is nil for metric line batches.
	Record  record.Record
	Payload []byte
}

// Size is the encoded size of the item.
func (it Item) Size() int {
	return len(it.Payload)
}

// SendResult is the outcome of sending a chunk or flushing a channel.
// Residual holds the items that were not accepted, either rejected or
// still failing after the last retry.
type SendResult struct {
	Sent     int
	Residual []Item
}

func (r *SendResult) add(other SendResult) {
	r.Sent += other.Sent
	r.Residual = append(r.Residual, other.Residual...)
}

// Sender posts chunks to one ingest endpoint. It retries failed sends with
// a fixed delay, classifies responses and keeps the run breaker informed.
type Sender struct {
	client   HTTPDoer
	protocol Protocol
	cfg      ChannelConfig
	url      string
	compress bool
	retryOn  map[int]struct{}
	breaker  *breaker.Breaker
	log      *logrus.Entry
}

// NewSender returns a Sender posting to baseURL joined with the channel
// path.
func NewSender(client HTTPDoer, p Protocol, cfg ChannelConfig, baseURL string, compress bool, cb *breaker.Breaker) *Sender {
	cfg = cfg.withDefaults(p)
	retryOn := make(map[int]struct{}, len(cfg.RetryOnStatus))
	for _, code := range cfg.RetryOnStatus {
		retryOn[code] = struct{}{}
	}
	return &Sender{
		client:   client,
		protocol: p,
		cfg:      cfg,
		url:      joinURL(baseURL, cfg.Path),
		compress: compress,
		retryOn:  retryOn,
		breaker:  cb,
		log:      logrus.WithField("component", "sender").WithField("channel", p.Name),
	}
}

// Send delivers chunk. Failed items are retried up to the configured number
// of retries; items of non batchable protocols are posted one per request
// and only the failed ones are retried.
//
// A chunk that is rejected or still failing after the last retry counts as
// one failure for the breaker. The only error returned is a
// *breaker.CircuitOpenError, or the context error; every other failure ends
// up in SendResult.Residual.
func (s *Sender) Send(ctx context.Context, chunk []Item) (SendResult, error) {
	var result SendResult
	if len(chunk) == 0 {
		return result, nil
	}

	pending := chunk
	// lastFailure is the error of the latest attempt, rejection the latest
	// permanent rejection of any attempt.
	var lastFailure, rejection error
	err := retry.Do(ctx, func() error {
		var (
			sent      int
			rejected  []Item
			rejectErr error
			err       error
		)
		if s.protocol.Batchable {
			sent, pending, rejected, rejectErr, err = s.attemptBatch(ctx, pending)
		} else {
			sent, pending, rejected, rejectErr, err = s.attemptEach(ctx, pending)
		}
		result.Sent += sent
		result.Residual = append(result.Residual, rejected...)
		if rejectErr != nil {
			rejection = rejectErr
		}
		if !isCircuitOpen(err) {
			lastFailure = err
		}
		return err
	},
		retry.MaxRetries(s.cfg.MaxRetries),
		retry.Delay(s.cfg.RetryDelay),
		retry.OnRetry(func(n int, err error) {
			retriesMetric.WithLabelValues(s.protocol.Name).Inc()
			s.log.WithFields(logrus.Fields{
				"retry": n,
				"items": len(pending),
			}).WithError(err).Warn("retrying send")
		}),
	)
	result.Residual = append(result.Residual, pending...)
	sentItemsMetric.WithLabelValues(s.protocol.Name).Add(float64(result.Sent))

	if isCircuitOpen(err) {
		return result, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}

	if len(result.Residual) > 0 {
		cause := rejection
		if len(pending) > 0 && lastFailure != nil {
			cause = lastFailure
		}
		failedItemsMetric.WithLabelValues(s.protocol.Name).Add(float64(len(result.Residual)))
		s.log.WithFields(logrus.Fields{
			"sent":   result.Sent,
			"failed": len(result.Residual),
		}).WithError(cause).Error("chunk could not be delivered")
		s.breaker.RecordFailure(responseInfo(cause), 1)
	}

	return result, s.breaker.Check()
}

// attemptBatch posts every pending item in a single request.
func (s *Sender) attemptBatch(ctx context.Context, pending []Item) (sent int, failed, rejected []Item, rejectErr, err error) {
	err = s.post(ctx, s.frame(pending))
	switch {
	case err == nil:
		s.breaker.RecordSuccess()
		return len(pending), nil, nil, nil, nil
	case isPermanent(err):
		return 0, nil, pending, err, retry.Permanent(err)
	case isCircuitOpen(err):
		return 0, pending, nil, nil, retry.Permanent(err)
	default:
		return 0, pending, nil, nil, err
	}
}

// attemptEach posts pending items one by one. Items failing with a
// retryable error are returned as failed, the rest of the failures as
// rejected.
func (s *Sender) attemptEach(ctx context.Context, pending []Item) (sent int, failed, rejected []Item, rejectErr, err error) {
	var retryable error
	for i, item := range pending {
		postErr := s.post(ctx, item.Payload)
		switch {
		case postErr == nil:
			sent++
			s.breaker.RecordSuccess()
		case isCircuitOpen(postErr):
			failed = append(failed, pending[i:]...)
			return sent, failed, rejected, rejectErr, retry.Permanent(postErr)
		case isPermanent(postErr):
			rejected = append(rejected, item)
			rejectErr = postErr
		default:
			failed = append(failed, item)
			retryable = postErr
		}
	}

	switch {
	case len(failed) > 0:
		return sent, failed, rejected, rejectErr, retryable
	case len(rejected) > 0:
		return sent, nil, rejected, rejectErr, retry.Permanent(rejectErr)
	default:
		return sent, nil, nil, nil, nil
	}
}

func (s *Sender) frame(items []Item) []byte {
	payloads := make([][]byte, len(items))
	for i, it := range items {
		payloads[i] = it.Payload
	}
	if s.protocol.Framing == FramingLines {
		return bytes.Join(payloads, []byte("\n"))
	}
	return jsoncodec.JoinArray(payloads)
}

// post sends a single request. It never performs I/O while the breaker is
// open.
func (s *Sender) post(ctx context.Context, body []byte) error {
	if err := s.breaker.Check(); err != nil {
		return err
	}

	payload := body
	if s.compress {
		var err error
		if payload, err = gzipBody(body); err != nil {
			return errors.Wrap(err, "compressing payload")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(errors.Wrap(err, "building request"))
	}
	req.Header.Set("Content-Type", s.protocol.ContentType)
	if s.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		requestsMetric.WithLabelValues(s.protocol.Name, "error").Inc()
		s.log.WithError(err).Warn("request failed")
		return &TransientSendError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	requestsMetric.WithLabelValues(s.protocol.Name, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == s.protocol.SuccessCode {
		return nil
	}

	info := breaker.ResponseInfo{
		StatusCode: resp.StatusCode,
		Reason:     reason(resp),
		Body:       string(respBody),
	}
	s.log.WithFields(logrus.Fields{
		"status": info.StatusCode,
		"reason": info.Reason,
		"body":   info.Body,
	}).Warn("unexpected response from ingest API")

	if _, ok := s.retryOn[resp.StatusCode]; ok {
		return &RetryableStatusError{Response: info}
	}
	// only the success code of the protocol acknowledges the payload
	return &PermanentStatusError{Response: info}
}

func reason(resp *http.Response) string {
	if r := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))); r != "" {
		return r
	}
	return http.StatusText(resp.StatusCode)
}

func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isCircuitOpen(err error) bool {
	var open *breaker.CircuitOpenError
	return errors.As(err, &open)
}

func isPermanent(err error) bool {
	var permanent *PermanentStatusError
	return errors.As(err, &permanent)
}

func responseInfo(err error) breaker.ResponseInfo {
	var (
		retryable *RetryableStatusError
		permanent *PermanentStatusError
	)
	switch {
	case errors.As(err, &retryable):
		return retryable.Response
	case errors.As(err, &permanent):
		return permanent.Response
	case err != nil:
		return breaker.ResponseInfo{Reason: "transport error", Body: err.Error()}
	default:
		return breaker.ResponseInfo{}
	}
}
