package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecording_PutChunk(t *testing.T) {
	t.Parallel()

	r := &Recording{ID: "r"}
	r.PutChunk(Chunk{ChunkID: "r_chunk_0", ContentID: "a", Size: 100, DurationSeconds: 60})
	r.PutChunk(Chunk{ChunkID: "r_chunk_1", ContentID: "b", Size: 50, DurationSeconds: 45})

	assert.Len(t, r.Chunks, 2)
	assert.Equal(t, 105.0, r.TotalDuration)
	assert.Equal(t, int64(150), r.TotalSize)

	// A retried upload replaces the previous entry
	r.PutChunk(Chunk{ChunkID: "r_chunk_1", ContentID: "b2", Size: 70, DurationSeconds: 45})
	assert.Len(t, r.Chunks, 2)
	assert.Equal(t, "b2", r.Chunks[1].ContentID)
	assert.Equal(t, int64(170), r.TotalSize)
}

func TestRecording_State(t *testing.T) {
	t.Parallel()

	var missing *Recording
	assert.Equal(t, StateEmpty, missing.State())
	assert.Equal(t, StateEmpty, (&Recording{}).State())
	assert.Equal(t, StateAccumulating, (&Recording{Chunks: []Chunk{{ChunkID: "x"}}}).State())
	assert.Equal(t, StateComplete, (&Recording{Complete: true, Chunks: []Chunk{{ChunkID: "x"}}}).State())
}

func TestRecording_Clone(t *testing.T) {
	t.Parallel()

	r := &Recording{
		ID:       "r",
		Chunks:   []Chunk{{ChunkID: "c0"}},
		Compiled: &CompiledMetadata{Chunks: []Chunk{{ChunkID: "c0"}}},
	}
	c := r.Clone()
	c.Chunks[0].ContentID = "mutated"
	c.Compiled.Chunks[0].ContentID = "mutated"

	assert.Empty(t, r.Chunks[0].ContentID)
	assert.Empty(t, r.Compiled.Chunks[0].ContentID)
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	r := &Recording{
		ID: "r",
		Chunks: []Chunk{
			{ChunkID: "r_chunk_0", ContentID: "a", Provenance: ProvenancePrimary, RootID: "root-a"},
			{ChunkID: "r_chunk_1", ContentID: "b", Provenance: ProvenanceFallback, GatewayURL: "https://pin/b"},
			{ChunkID: "r_chunk_2"},
		},
	}

	st := StatusOf(r)
	assert.Equal(t, StatusProcessing, st.Status)
	assert.Equal(t, 3, st.TotalChunks)
	assert.Equal(t, 2, st.UploadedChunks)
	assert.Equal(t, 1, st.FailedChunks)
	assert.True(t, st.Chunks["r_chunk_1"].UsedFallback)
	assert.Equal(t, ChunkFailed, st.Chunks["r_chunk_2"].Status)

	r.Complete = true
	assert.Equal(t, StatusCompleted, StatusOf(r).Status)
}

func TestError_Codes(t *testing.T) {
	t.Parallel()

	base := errors.New("connection reset")
	err := fmt.Errorf("chunk 3: %w", UploadError(base, "submit to provider %s", "p1"))

	assert.True(t, IsCode(err, ErrCodeUpload))
	assert.False(t, IsCode(err, ErrCodePersistence))
	assert.Equal(t, ErrCodeUpload, CodeOf(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "UploadError: submit to provider p1: connection reset")

	assert.Equal(t, ErrCodeNone, CodeOf(base))
	assert.Equal(t, http.StatusNotFound, ErrCodeNotFound.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, ErrCodePersistence.HTTPStatus())
}
