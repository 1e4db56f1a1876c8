// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"fmt"

	"github.com/newrelic/nri-forwarder/internal/breaker"
)

// TransientSendError is a timeout or connection level failure. It is
// retried and only counts against the breaker once retries are exhausted.
type TransientSendError struct {
	Err error
}

func (e *TransientSendError) Error() string {
	return fmt.Sprintf("sending request: %v", e.Err)
}

func (e *TransientSendError) Unwrap() error { return e.Err }

// RetryableStatusError is a response whose status code is in the retry set
// of the channel.
type RetryableStatusError struct {
	Response breaker.ResponseInfo
}

func (e *RetryableStatusError) Error() string {
	return fmt.Sprintf("retryable response %d %s: %s", e.Response.StatusCode, e.Response.Reason, e.Response.Body)
}

// PermanentStatusError is a response status outside the retry set other than
// the success code of the protocol, 2xx included. It is counted against the
// breaker right away and never retried.
type PermanentStatusError struct {
	Response breaker.ResponseInfo
}

func (e *PermanentStatusError) Error() string {
	return fmt.Sprintf("rejected with %d %s: %s", e.Response.StatusCode, e.Response.Reason, e.Response.Body)
}

// OversizeRecordError describes a record that can never fit in a payload.
// Such records are dropped and neither retried nor counted as failures.
type OversizeRecordError struct {
	Channel string
	Size    int
	Limit   int
}

func (e *OversizeRecordError) Error() string {
	return fmt.Sprintf("%s record of %d bytes exceeds the %d bytes payload limit", e.Channel, e.Size, e.Limit)
}
