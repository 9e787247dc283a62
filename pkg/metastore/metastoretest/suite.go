// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

// Package metastoretest is a conformance suite run against every metastore
// backend.
package metastoretest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh store. Stores may be shared between subtests, so
// every subtest uses unique recording ids.
type Factory func(t *testing.T) metastore.Store

// Run exercises the metastore.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("SaveAndGet", func(t *testing.T) { testSaveAndGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("AppendReplaces", func(t *testing.T) { testAppendReplaces(t, newStore(t)) })
	t.Run("AppendMissing", func(t *testing.T) { testAppendMissing(t, newStore(t)) })
	t.Run("MarkCompleteOnce", func(t *testing.T) { testMarkCompleteOnce(t, newStore(t)) })
	t.Run("MarkCompleteRace", func(t *testing.T) { testMarkCompleteRace(t, newStore(t)) })
	t.Run("SaveKeepsCompletion", func(t *testing.T) { testSaveKeepsCompletion(t, newStore(t)) })
	t.Run("SaveKeepsBinding", func(t *testing.T) { testSaveKeepsBinding(t, newStore(t)) })
	t.Run("Lists", func(t *testing.T) { testLists(t, newStore(t)) })
}

func recordingID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

func chunk(rec string, seq int, duration float64, size int64) types.Chunk {
	id := types.FormatChunkID(rec, seq, false)
	return types.Chunk{
		ChunkID:         id,
		RecordingID:     rec,
		Sequence:        seq,
		ContentID:       fmt.Sprintf("cid-%s", id),
		Size:            size,
		DurationSeconds: duration,
		Provenance:      types.ProvenancePrimary,
		Stage:           types.StageRootConfirmed,
		UploadedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
}

func testSaveAndGet(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	id := recordingID("save")

	created := time.Now().UTC().Truncate(time.Millisecond)
	err := s.SaveRecord(ctx, &types.Recording{
		ID:         id,
		Creator:    "alice",
		CreatedAt:  created,
		ProofSetID: "1001",
		ProviderID: "f01000",
		Chunks:     []types.Chunk{chunk(id, 1, 45, 100), chunk(id, 0, 60, 200)},
	})
	require.NoError(t, err)

	r, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, r.ID)
	assert.Equal(t, "alice", r.Creator)
	assert.True(t, created.Equal(r.CreatedAt), "created_at %v != %v", r.CreatedAt, created)
	assert.Equal(t, "1001", r.ProofSetID)
	assert.Equal(t, "f01000", r.ProviderID)
	assert.False(t, r.Complete)
	require.Len(t, r.Chunks, 2)
	assert.Equal(t, 0, r.Chunks[0].Sequence, "chunks come back in sequence order")
	assert.Equal(t, 105.0, r.TotalDuration)
	assert.Equal(t, int64(300), r.TotalSize)
	assert.Equal(t, types.StageRootConfirmed, r.Chunks[0].Stage)

	// Saving again updates the binding and keeps chunks it does not carry.
	err = s.SaveRecord(ctx, &types.Recording{ID: id, Creator: "alice", ProofSetID: "1002", ProviderID: "f01001"})
	require.NoError(t, err)
	r, err = s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1002", r.ProofSetID)
	assert.Len(t, r.Chunks, 2)
	assert.True(t, created.Equal(r.CreatedAt), "created_at must not move on update")
}

func testGetMissing(t *testing.T, s metastore.Store) {
	_, err := s.GetRecord(context.Background(), recordingID("missing"))
	assert.ErrorIs(t, err, metastore.ErrRecordNotFound)
}

func testAppendReplaces(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	id := recordingID("append")
	require.NoError(t, s.SaveRecord(ctx, &types.Recording{ID: id}))

	require.NoError(t, s.AppendChunk(ctx, id, chunk(id, 0, 60, 100)))
	require.NoError(t, s.AppendChunk(ctx, id, chunk(id, 1, 60, 100)))

	retry := chunk(id, 1, 60, 150)
	retry.ContentID = "cid-retry"
	retry.Provenance = types.ProvenanceFallback
	require.NoError(t, s.AppendChunk(ctx, id, retry))

	r, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	require.Len(t, r.Chunks, 2)
	assert.Equal(t, "cid-retry", r.Chunks[1].ContentID)
	assert.Equal(t, types.ProvenanceFallback, r.Chunks[1].Provenance)
	assert.Equal(t, int64(250), r.TotalSize)
}

func testAppendMissing(t *testing.T, s metastore.Store) {
	id := recordingID("nope")
	err := s.AppendChunk(context.Background(), id, chunk(id, 0, 1, 1))
	assert.ErrorIs(t, err, metastore.ErrRecordNotFound)
}

func compiled(id string, at time.Time) *types.CompiledMetadata {
	return &types.CompiledMetadata{
		RecordingID:          id,
		TotalChunks:          1,
		TotalDurationSeconds: 60,
		CompiledAt:           at,
		Trigger:              "explicit",
	}
}

func testMarkCompleteOnce(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	id := recordingID("complete")
	require.NoError(t, s.SaveRecord(ctx, &types.Recording{ID: id, Chunks: []types.Chunk{chunk(id, 0, 60, 10)}}))

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.MarkComplete(ctx, id, compiled(id, at)))

	err := s.MarkComplete(ctx, id, compiled(id, at))
	assert.ErrorIs(t, err, metastore.ErrAlreadyComplete)

	err = s.AppendChunk(ctx, id, chunk(id, 1, 60, 10))
	assert.ErrorIs(t, err, metastore.ErrRecordComplete)

	err = s.MarkComplete(ctx, recordingID("ghost"), compiled(id, at))
	assert.ErrorIs(t, err, metastore.ErrRecordNotFound)

	r, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.True(t, r.Complete)
	assert.True(t, at.Equal(r.CompletedAt))
	require.NotNil(t, r.Compiled)
	assert.Equal(t, "explicit", r.Compiled.Trigger)
	assert.Equal(t, 60.0, r.Compiled.TotalDurationSeconds)
}

func testMarkCompleteRace(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	id := recordingID("race")
	require.NoError(t, s.SaveRecord(ctx, &types.Recording{ID: id}))

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			err := s.MarkComplete(ctx, id, compiled(id, time.Now()))
			switch {
			case err == nil:
				wins.Add(1)
			case assert.ErrorIs(t, err, metastore.ErrAlreadyComplete):
				conflicts.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), conflicts.Load())
}

func testSaveKeepsCompletion(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	id := recordingID("keep")
	require.NoError(t, s.SaveRecord(ctx, &types.Recording{ID: id}))
	require.NoError(t, s.MarkComplete(ctx, id, compiled(id, time.Now())))

	require.NoError(t, s.SaveRecord(ctx, &types.Recording{ID: id, Creator: "bob"}))

	r, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.True(t, r.Complete)
	assert.NotNil(t, r.Compiled)
}

func testSaveKeepsBinding(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	id := recordingID("binding")
	require.NoError(t, s.SaveRecord(ctx, &types.Recording{
		ID: id, Creator: "alice", ProofSetID: "1001", ProviderID: "f01000",
	}))

	// A save without a binding, as for a chunk that went to fallback.
	require.NoError(t, s.SaveRecord(ctx, &types.Recording{
		ID: id, Chunks: []types.Chunk{chunk(id, 0, 30, 10)},
	}))

	r, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", r.Creator)
	assert.Equal(t, "1001", r.ProofSetID)
	assert.Equal(t, "f01000", r.ProviderID)
	assert.Len(t, r.Chunks, 1)
}

func testLists(t *testing.T, s metastore.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	older, newer, open := recordingID("older"), recordingID("newer"), recordingID("open")
	for i, id := range []string{older, newer, open} {
		require.NoError(t, s.SaveRecord(ctx, &types.Recording{
			ID:        id,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Chunks:    []types.Chunk{chunk(id, 0, 30, 10)},
		}))
	}
	require.NoError(t, s.MarkComplete(ctx, older, compiled(older, base.Add(time.Minute))))
	require.NoError(t, s.MarkComplete(ctx, newer, compiled(newer, base.Add(2*time.Minute))))

	completed, err := s.ListCompleted(ctx)
	require.NoError(t, err)
	assert.Less(t, indexOf(completed, newer), indexOf(completed, older), "most recent first")
	assert.Equal(t, -1, indexOf(completed, open))
	for _, r := range completed {
		assert.True(t, r.Complete)
	}

	incomplete, err := s.ListIncomplete(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, indexOf(incomplete, open), 0)
	assert.Equal(t, -1, indexOf(incomplete, older))
	if i := indexOf(incomplete, open); i >= 0 {
		assert.Len(t, incomplete[i].Chunks, 1)
	}
}

func indexOf(records []*types.Recording, id string) int {
	for i, r := range records {
		if r.ID == id {
			return i
		}
	}
	return -1
}
