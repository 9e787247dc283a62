// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package metastore

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/debug"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rtastore",
			Subsystem: "metastore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of metastore operations in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation", "status"},
	)

	opTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtastore",
			Subsystem: "metastore",
			Name:      "operations_total",
			Help:      "Total number of metastore operations",
		},
		[]string{"operation", "status"},
	)
)

func init() {
	debug.Registry().MustRegister(opDuration, opTotal)
}

func record(operation string, start time.Time, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrRecordNotFound):
		status = "not_found"
	case errors.Is(err, ErrAlreadyComplete), errors.Is(err, ErrRecordComplete):
		status = "conflict"
	default:
		status = "error"
	}
	opDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	opTotal.WithLabelValues(operation, status).Inc()
}

// MetricsStore instruments a Store.
type MetricsStore struct {
	store Store
}

var _ Store = (*MetricsStore)(nil)

func NewMetricsStore(store Store) *MetricsStore {
	return &MetricsStore{store: store}
}

// Unwrap returns the underlying Store.
func (m *MetricsStore) Unwrap() Store {
	return m.store
}

func (m *MetricsStore) SaveRecord(ctx context.Context, r *types.Recording) error {
	start := time.Now()
	err := m.store.SaveRecord(ctx, r)
	record("save_record", start, err)
	return err
}

func (m *MetricsStore) GetRecord(ctx context.Context, id string) (*types.Recording, error) {
	start := time.Now()
	r, err := m.store.GetRecord(ctx, id)
	record("get_record", start, err)
	return r, err
}

func (m *MetricsStore) AppendChunk(ctx context.Context, recordingID string, c types.Chunk) error {
	start := time.Now()
	err := m.store.AppendChunk(ctx, recordingID, c)
	record("append_chunk", start, err)
	return err
}

func (m *MetricsStore) MarkComplete(ctx context.Context, recordingID string, meta *types.CompiledMetadata) error {
	start := time.Now()
	err := m.store.MarkComplete(ctx, recordingID, meta)
	record("mark_complete", start, err)
	return err
}

func (m *MetricsStore) ListCompleted(ctx context.Context) ([]*types.Recording, error) {
	start := time.Now()
	out, err := m.store.ListCompleted(ctx)
	record("list_completed", start, err)
	return out, err
}

func (m *MetricsStore) ListIncomplete(ctx context.Context) ([]*types.Recording, error) {
	start := time.Now()
	out, err := m.store.ListIncomplete(ctx)
	record("list_incomplete", start, err)
	return out, err
}

func (m *MetricsStore) Close() error {
	return m.store.Close()
}
