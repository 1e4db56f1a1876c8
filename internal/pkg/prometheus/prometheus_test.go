// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package prometheus_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newrelic/nri-forwarder/internal/pkg/prometheus"
)

func TestGet(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept")
		if !strings.Contains(accept, "text/plain") {
			t.Errorf("Expected Accept header to prefer text/plain, got %q", accept)
		}

		_, _ = w.Write([]byte("metric_a 1\nmetric_b 2\n"))
	}))
	defer ts.Close()

	expected := []string{"metric_a", "metric_b"}
	mfs, err := prometheus.Get(context.Background(), http.DefaultClient, ts.URL)
	actual := []string{}
	for _, mf := range mfs {
		actual = append(actual, mf.GetName())
	}

	assert.NoError(t, err)
	assert.ElementsMatch(t, expected, actual)
}

func TestGetErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("metric_a{ 1\n"))
	}))
	defer ts.Close()

	_, err := prometheus.Get(context.Background(), http.DefaultClient, ts.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = prometheus.Get(context.Background(), http.DefaultClient, ts.URL)
	assert.Error(t, err)
}
