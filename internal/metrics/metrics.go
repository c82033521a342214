// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package metrics declares the Prometheus collectors spec §7 lists and a
// constructor that registers them all on a given registry, the same
// grouping-by-subsystem style the teacher uses for its own metric sets.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the full set of collectors the indexer and commit pipeline
// update. Fields are exported collectors, not accessor methods, matching
// how the teacher's metrics structs are used at call sites.
type Metrics struct {
	CheckpointLatencySeconds  prometheus.Histogram
	CommitLatencySeconds      prometheus.Histogram
	CheckpointsCommittedTotal prometheus.Counter
	TransactionsPerCheckpoint prometheus.Histogram
	QueueDepth                prometheus.Gauge
	StoreRetriesTotal         *prometheus.CounterVec
}

// New builds and registers every collector on reg. Registration failures
// (e.g. duplicate registration against a shared registry in tests) are
// returned rather than panicking.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		CheckpointLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "move_indexer",
			Name:      "checkpoint_processing_latency_seconds",
			Help:      "Time to process one checkpoint (object/balance/dynamic-field derivation), end to end.",
			Buckets:   prometheus.DefBuckets,
		}),
		CommitLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "move_indexer",
			Name:      "commit_latency_seconds",
			Help:      "Time to persist one checkpoint batch, including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		CheckpointsCommittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "move_indexer",
			Name:      "checkpoints_committed_total",
			Help:      "Count of checkpoints whose batch has been durably committed.",
		}),
		TransactionsPerCheckpoint: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "move_indexer",
			Name:      "transactions_per_checkpoint",
			Help:      "Number of transactions in each processed checkpoint.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "move_indexer",
			Name:      "commit_queue_depth",
			Help:      "Current number of checkpoint batches buffered between the indexer and the committer.",
		}),
		StoreRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "move_indexer",
			Name:      "store_retries_total",
			Help:      "Count of store write retries, by table.",
		}, []string{"table"}),
	}

	collectors := []prometheus.Collector{
		m.CheckpointLatencySeconds,
		m.CommitLatencySeconds,
		m.CheckpointsCommittedTotal,
		m.TransactionsPerCheckpoint,
		m.QueueDepth,
		m.StoreRetriesTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
