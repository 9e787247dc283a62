// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package metastore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/types"
)

// MemoryStore keeps recordings in a map. It backs local development and
// unit tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*types.Recording
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*types.Recording)}
}

func (m *MemoryStore) SaveRecord(ctx context.Context, r *types.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[r.ID]
	if !ok {
		rec := r.Clone()
		rec.Complete = false
		rec.CompletedAt = time.Time{}
		rec.Compiled = nil
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		rec.Chunks = nil
		for _, c := range r.Chunks {
			rec.PutChunk(c)
		}
		m.records[r.ID] = rec
		return nil
	}

	if r.Creator != "" {
		existing.Creator = r.Creator
	}
	if r.ProofSetID != "" {
		existing.ProofSetID = r.ProofSetID
		existing.ProviderID = r.ProviderID
	}
	for _, c := range r.Chunks {
		existing.PutChunk(c)
	}
	return nil
}

func (m *MemoryStore) GetRecord(ctx context.Context, id string) (*types.Recording, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return Finalize(r.Clone()), nil
}

func (m *MemoryStore) AppendChunk(ctx context.Context, recordingID string, c types.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[recordingID]
	if !ok {
		return ErrRecordNotFound
	}
	if r.Complete {
		return ErrRecordComplete
	}
	r.PutChunk(c)
	return nil
}

func (m *MemoryStore) MarkComplete(ctx context.Context, recordingID string, meta *types.CompiledMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[recordingID]
	if !ok {
		return ErrRecordNotFound
	}
	if r.Complete {
		return ErrAlreadyComplete
	}

	r.Complete = true
	r.CompletedAt = CompletionTime(meta)
	if meta != nil {
		compiled := *meta
		compiled.Chunks = slices.Clone(meta.Chunks)
		r.Compiled = &compiled
	}
	return nil
}

func (m *MemoryStore) ListCompleted(ctx context.Context) ([]*types.Recording, error) {
	out := m.list(func(r *types.Recording) bool { return r.Complete })
	slices.SortFunc(out, func(a, b *types.Recording) int {
		return b.CompletedAt.Compare(a.CompletedAt)
	})
	return out, nil
}

func (m *MemoryStore) ListIncomplete(ctx context.Context) ([]*types.Recording, error) {
	out := m.list(func(r *types.Recording) bool { return !r.Complete })
	slices.SortFunc(out, func(a, b *types.Recording) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *MemoryStore) list(keep func(*types.Recording) bool) []*types.Recording {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Recording
	for _, r := range m.records {
		if keep(r) {
			out = append(out, Finalize(r.Clone()))
		}
	}
	return out
}

func (m *MemoryStore) Close() error {
	return nil
}

// CompletionTime is the completion timestamp recorded for meta.
func CompletionTime(meta *types.CompiledMetadata) time.Time {
	if meta != nil && !meta.CompiledAt.IsZero() {
		return meta.CompiledAt
	}
	return time.Now()
}
