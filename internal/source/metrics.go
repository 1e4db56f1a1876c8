// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package source

import "github.com/prometheus/client_golang/prometheus"

var (
	recordsReadMetric = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nr_stats",
		Subsystem: "source",
		Name:      "records_read_total",
		Help:      "Records read from the input",
	},
		[]string{
			"channel",
		},
	)
	malformedLinesMetric = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nr_stats",
		Subsystem: "source",
		Name:      "malformed_lines_total",
		Help:      "Input lines skipped because they are not a JSON object",
	})
)

func init() {
	prometheus.MustRegister(recordsReadMetric)
	prometheus.MustRegister(malformedLinesMetric)
}
