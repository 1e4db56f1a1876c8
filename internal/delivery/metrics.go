// Copyright 2019 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package delivery

import "github.com/prometheus/client_golang/prometheus"

var (
	sentItemsMetric = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nr_stats",
		Subsystem: "forwarder",
		Name:      "sent_items_total",
		Help:      "Items accepted by the ingest API",
	},
		[]string{
			"channel",
		},
	)
	failedItemsMetric = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nr_stats",
		Subsystem: "forwarder",
		Name:      "failed_items_total",
		Help:      "Items left unsent after retries were exhausted or the API rejected them",
	},
		[]string{
			"channel",
		},
	)
	retriesMetric = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nr_stats",
		Subsystem: "forwarder",
		Name:      "retries_total",
		Help:      "Send retries performed",
	},
		[]string{
			"channel",
		},
	)
	droppedOversizeMetric = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nr_stats",
		Subsystem: "forwarder",
		Name:      "dropped_oversize_total",
		Help:      "Items dropped because they can not fit in a single payload",
	},
		[]string{
			"channel",
		},
	)
	requestsMetric = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nr_stats",
		Subsystem: "forwarder",
		Name:      "requests_total",
		Help:      "HTTP requests sent to the ingest API by response code",
	},
		[]string{
			"channel",
			"code",
		},
	)
)

func init() {
	prometheus.MustRegister(sentItemsMetric)
	prometheus.MustRegister(failedItemsMetric)
	prometheus.MustRegister(retriesMetric)
	prometheus.MustRegister(droppedOversizeMetric)
	prometheus.MustRegister(requestsMetric)
}
