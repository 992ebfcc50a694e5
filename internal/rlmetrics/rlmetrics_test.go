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

package rlmetrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/recordlayer/internal/rlmetrics"
)

func TestNoopRecorderDoesNotPanic(t *testing.T) {
	var r rlmetrics.Recorder = rlmetrics.Noop
	r.IncStoreOp("Widget", "save")
	r.ObserveBatchDuration("1.0.0-2.0.0", 5*time.Millisecond)
	r.ObserveBatchSize("1.0.0-2.0.0", 10, 1024)
}

func TestPrometheusRecorderIncrementsLabeledCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := rlmetrics.NewPrometheus(reg)
	require.NoError(t, err)

	p.IncStoreOp("Widget", "save")
	p.IncStoreOp("Widget", "save")
	p.IncStoreOp("Widget", "delete")

	families, err := reg.Gather()
	require.NoError(t, err)

	var saveCount, deleteCount float64
	for _, fam := range families {
		if fam.GetName() != "recordlayer_store_ops_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			op := labelValue(m, "op")
			switch op {
			case "save":
				saveCount = m.GetCounter().GetValue()
			case "delete":
				deleteCount = m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, float64(2), saveCount)
	require.Equal(t, float64(1), deleteCount)
}

func TestPrometheusRecorderObservesBatchHistograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := rlmetrics.NewPrometheus(reg)
	require.NoError(t, err)

	p.ObserveBatchDuration("1.0.0-2.0.0", 10*time.Millisecond)
	p.ObserveBatchSize("1.0.0-2.0.0", 100, 4096)

	families, err := reg.Gather()
	require.NoError(t, err)

	seen := map[string]uint64{}
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			if h := m.GetHistogram(); h != nil {
				seen[fam.GetName()] = h.GetSampleCount()
			}
		}
	}
	require.Equal(t, uint64(1), seen["recordlayer_migration_batch_duration_seconds"])
	require.Equal(t, uint64(1), seen["recordlayer_migration_batch_records"])
	require.Equal(t, uint64(1), seen["recordlayer_migration_batch_bytes"])
}

func TestNewPrometheusRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := rlmetrics.NewPrometheus(reg)
	require.NoError(t, err)
	_, err = rlmetrics.NewPrometheus(reg)
	require.Error(t, err)
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
