// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// mock-ingest serves a fake ingest API to load test the forwarder.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/newrelic/nri-forwarder/internal/mockingest"
)

func main() {
	flags := pflag.NewFlagSet("mock-ingest", pflag.ContinueOnError)
	latency := flags.Duration("latency", 0, "artificial latency to induce in the responses")
	latencyVariation := flags.Int("latency-variation", 0, "randomly variate latency by +- this value (percentage)")
	maxRoutines := flags.Int("max-routines", 0, "maximum number of requests to handle in parallel")
	status := flags.Int("status", http.StatusAccepted, "status code of every response")
	listenAddress := flags.String("addr", ":9940", "address:port pair to listen in")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	s := &mockingest.Server{
		Respond:          mockingest.Status(*status),
		Latency:          *latency,
		LatencyVariation: *latencyVariation,
		MaxRoutines:      *maxRoutines,
		Discard:          true,
	}

	logrus.Infof("starting server in %s", *listenAddress)
	srv := &http.Server{Addr: *listenAddress, Handler: s, ReadHeaderTimeout: 10 * time.Second}
	logrus.Fatal(srv.ListenAndServe())
}
