// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0
package prometheus

import prom "github.com/prometheus/client_golang/prometheus"

var (
	targetSize = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "nr_stats",
		Subsystem: "source",
		Name:      "scraped_payload_size",
		Help:      "Size of the last payload scraped from a target",
	},
		[]string{
			"target",
		},
	)
	totalScrapedPayload = prom.NewCounter(prom.CounterOpts{
		Namespace: "nr_stats",
		Subsystem: "source",
		Name:      "scraped_payload_bytes_total",
		Help:      "Total size of the payloads scraped",
	})
)

func init() {
	prom.MustRegister(targetSize)
	prom.MustRegister(totalScrapedPayload)
}
