// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package breaker

import "github.com/prometheus/client_golang/prometheus"

var (
	consecutiveFailuresMetric = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nr_stats",
		Subsystem: "forwarder",
		Name:      "breaker_consecutive_failures",
		Help:      "Consecutive failed sends counted by the run circuit breaker",
	})
	breakerOpenMetric = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nr_stats",
		Subsystem: "forwarder",
		Name:      "breaker_open",
		Help:      "1 when the run circuit breaker has tripped",
	})
)

func init() {
	prometheus.MustRegister(consecutiveFailuresMetric)
	prometheus.MustRegister(breakerOpenMetric)
}
