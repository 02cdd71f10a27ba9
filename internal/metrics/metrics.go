// Package metrics registers the Prometheus instruments exposed on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "herald_pds"

var (
	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "repo_mutations",
			Namespace: namespace,
			Help:      "Total number of repository mutations by op action",
		},
		[]string{"action"},
	)

	FirehoseEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "firehose_events",
			Namespace: namespace,
			Help:      "Total number of firehose events emitted by kind",
		},
		[]string{"kind"},
	)

	FirehoseSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name:      "firehose_subscribers",
			Namespace: namespace,
			Help:      "Current number of firehose subscribers",
		},
	)

	FirehoseDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name:      "firehose_subscribers_dropped",
			Namespace: namespace,
			Help:      "Subscribers dropped for falling behind emission",
		},
	)

	PollerCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name:      "relay_poller_cycles",
			Namespace: namespace,
			Help:      "Completed relay poller sweeps",
		},
	)

	PollerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "relay_poller_errors",
			Namespace: namespace,
			Help:      "Relay poller failures by subscribed DID",
		},
		[]string{"did"},
	)

	DispatchedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name:      "dispatched_records",
			Namespace: namespace,
			Help:      "Incoming federated records routed by kind",
		},
		[]string{"kind"},
	)
)
