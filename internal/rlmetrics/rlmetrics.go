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

// Package rlmetrics is the optional prometheus wiring referenced by spec §6's
// "statistics recorder" configuration knob: store operation counts and
// migration batch latency, with a no-op Recorder as the default so callers
// who don't configure metrics pay nothing.
package rlmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the metrics surface components reach for. The no-op
// implementation is the zero value of noop{}; Container.Config.Metrics
// defaults to it when unset.
type Recorder interface {
	IncStoreOp(entity, op string)
	ObserveBatchDuration(migrationID string, d time.Duration)
	ObserveBatchSize(migrationID string, records int, bytes int64)
}

type noop struct{}

func (noop) IncStoreOp(string, string)                  {}
func (noop) ObserveBatchDuration(string, time.Duration) {}
func (noop) ObserveBatchSize(string, int, int64)        {}

// Noop is the default Recorder: every call is a no-op.
var Noop Recorder = noop{}

// Prometheus is a Recorder backed by a prometheus.Registerer, labeled by
// entity name (store ops) or migration ID (batch observations).
type Prometheus struct {
	storeOps      *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	batchRecords  *prometheus.HistogramVec
	batchBytes    *prometheus.HistogramVec
}

// NewPrometheus registers the recordlayer metric family on reg and returns a
// Recorder backed by it. reg must not already have these metric names
// registered.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recordlayer",
			Subsystem: "store",
			Name:      "ops_total",
			Help:      "Count of Store.Save/Delete/Fetch/Scan calls, by entity and op.",
		}, []string{"entity", "op"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "recordlayer",
			Subsystem: "migration",
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of one committed migration batch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"migration"}),
		batchRecords: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "recordlayer",
			Subsystem: "migration",
			Name:      "batch_records",
			Help:      "Number of records applied per committed migration batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"migration"}),
		batchBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "recordlayer",
			Subsystem: "migration",
			Name:      "batch_bytes",
			Help:      "Serialized byte size applied per committed migration batch.",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 12),
		}, []string{"migration"}),
	}
	for _, c := range []prometheus.Collector{p.storeOps, p.batchDuration, p.batchRecords, p.batchBytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) IncStoreOp(entity, op string) {
	p.storeOps.WithLabelValues(entity, op).Inc()
}

func (p *Prometheus) ObserveBatchDuration(migrationID string, d time.Duration) {
	p.batchDuration.WithLabelValues(migrationID).Observe(d.Seconds())
}

func (p *Prometheus) ObserveBatchSize(migrationID string, records int, bytes int64) {
	p.batchRecords.WithLabelValues(migrationID).Observe(float64(records))
	p.batchBytes.WithLabelValues(migrationID).Observe(float64(bytes))
}
