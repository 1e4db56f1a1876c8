// Package mockingest implements a fake ingest API that records what it
// receives. It backs the forwarder tests and the mock-ingest load testing
// binary.
// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package mockingest

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Request is a request received by the Server. Gzip bodies are stored
// decompressed.
type Request struct {
	Path   string
	Header http.Header
	Body   string
}

// Server answers every request with the status code returned by Respond,
// optionally after some artificial latency.
type Server struct {
	// Respond returns the status code for a request. When nil every
	// request is answered with 202 Accepted.
	Respond func(req Request) int
	// Latency to induce in the responses.
	Latency time.Duration
	// LatencyVariation randomly varies the latency by +- this percentage.
	LatencyVariation int
	// MaxRoutines limits the requests handled in parallel. Zero is unlimited.
	MaxRoutines int
	// Discard stops recording the requests.
	Discard bool

	once     sync.Once
	waiter   chan struct{}
	mtx      sync.Mutex
	requests []Request
}

// Status returns a Respond func answering every request with code.
func Status(code int) func(Request) int {
	return func(Request) int { return code }
}

// ByPath returns a Respond func answering with the code registered for the
// request path, or 202 Accepted for unknown paths.
func ByPath(codes map[string]int) func(Request) int {
	return func(req Request) int {
		if code, ok := codes[req.Path]; ok {
			return code
		}
		return http.StatusAccepted
	}
}

func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	s.once.Do(func() {
		if s.MaxRoutines != 0 {
			s.waiter = make(chan struct{}, s.MaxRoutines)
		}
	})
	if s.waiter != nil {
		s.waiter <- struct{}{}
		defer func() {
			<-s.waiter
		}()
	}

	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		defer zr.Close()
		reader = zr
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}

	req := Request{Path: r.URL.Path, Header: r.Header.Clone(), Body: string(body)}
	code := http.StatusAccepted
	if s.Respond != nil {
		code = s.Respond(req)
	}
	if !s.Discard {
		s.mtx.Lock()
		s.requests = append(s.requests, req)
		s.mtx.Unlock()
	}

	time.Sleep(s.latency())
	rw.WriteHeader(code)
	if code >= 300 {
		_, _ = fmt.Fprintf(rw, `{"error":{"code":%d,"message":%q}}`, code, http.StatusText(code))
	}
}

// Received returns the requests received for path, or all of them when
// path is empty.
func (s *Server) Received(path string) []Request {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var ret []Request
	for _, r := range s.requests {
		if path == "" || r.Path == path {
			ret = append(ret, r)
		}
	}
	return ret
}

// Reset forgets the received requests.
func (s *Server) Reset() {
	s.mtx.Lock()
	s.requests = nil
	s.mtx.Unlock()
}

func (s *Server) latency() time.Duration {
	lat := s.Latency

	if s.LatencyVariation == 0 {
		return lat
	}

	variation := float64(s.LatencyVariation) / 100
	variation = (rand.Float64() - 0.5) * variation * 2 // Random in (-variation, variation)

	return time.Duration(float64(lat) + float64(lat)*variation)
}
