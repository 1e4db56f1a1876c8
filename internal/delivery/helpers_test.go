// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/newrelic/nri-forwarder/internal/breaker"
)

type receivedRequest struct {
	path    string
	header  http.Header
	body    string
	attempt int
}

// ingestServer records the requests it receives and answers with the status
// code returned by respond.
type ingestServer struct {
	*httptest.Server

	mtx      sync.Mutex
	requests []receivedRequest
	respond  func(req receivedRequest) int
}

func newIngestServer(t *testing.T, respond func(req receivedRequest) int) *ingestServer {
	t.Helper()

	s := &ingestServer{respond: respond}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reader io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			reader = zr
		}
		body, _ := io.ReadAll(reader)

		s.mtx.Lock()
		req := receivedRequest{
			path:    r.URL.Path,
			header:  r.Header.Clone(),
			body:    string(body),
			attempt: len(s.requests) + 1,
		}
		s.requests = append(s.requests, req)
		code := s.respond(req)
		s.mtx.Unlock()

		w.WriteHeader(code)
		if code >= 300 {
			_, _ = w.Write([]byte(`{"error":"rejected"}`))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *ingestServer) received() []receivedRequest {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return append([]receivedRequest(nil), s.requests...)
}

func always(code int) func(receivedRequest) int {
	return func(receivedRequest) int { return code }
}

// testConfig returns cfg for p without waits between retries.
func testConfig(p Protocol, maxRetries int) ChannelConfig {
	cfg := DefaultChannelConfig(p)
	cfg.MaxRetries = maxRetries
	cfg.RetryDelay = 0
	return cfg
}

func testOptions(s *ingestServer, cb *breaker.Breaker) Options {
	return Options{
		BaseURL: s.URL,
		Client:  s.Client(),
		Breaker: cb,
	}
}
