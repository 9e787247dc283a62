// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"slices"
	"time"
)

// RecordingState is the lifecycle position of a recording.
type RecordingState string

const (
	StateEmpty        RecordingState = "empty"
	StateAccumulating RecordingState = "accumulating"
	StateCompleting   RecordingState = "completing"
	StateComplete     RecordingState = "complete"
)

// Recording is one live session's audio, keyed by a stable id.
type Recording struct {
	ID          string    `json:"id"`
	Creator     string    `json:"creator,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Complete    bool      `json:"complete"`
	CompletedAt time.Time `json:"completed_at,omitzero"`

	// Storage service binding, set when the proof set is created.
	ProofSetID string `json:"proof_set_id,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`

	Chunks        []Chunk `json:"chunks"`
	TotalDuration float64 `json:"total_duration_seconds"`
	TotalSize     int64   `json:"total_size"`

	Compiled *CompiledMetadata `json:"compiled,omitempty"`
}

// State derives the lifecycle state from the stored fields.
func (r *Recording) State() RecordingState {
	switch {
	case r == nil || len(r.Chunks) == 0 && !r.Complete:
		return StateEmpty
	case r.Complete:
		return StateComplete
	default:
		return StateAccumulating
	}
}

// HasStorageService reports whether a proof set is bound to the recording.
func (r *Recording) HasStorageService() bool {
	return r.ProofSetID != "" && r.ProviderID != ""
}

// ValidChunks returns the chunks that carry a content identifier.
func (r *Recording) ValidChunks() []Chunk {
	out := make([]Chunk, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		if c.Valid() {
			out = append(out, c)
		}
	}
	return out
}

// PutChunk inserts c, replacing any chunk with the same id, and recomputes
// the aggregates.
func (r *Recording) PutChunk(c Chunk) {
	idx := slices.IndexFunc(r.Chunks, func(existing Chunk) bool {
		return existing.ChunkID == c.ChunkID
	})
	if idx >= 0 {
		r.Chunks[idx] = c
	} else {
		r.Chunks = append(r.Chunks, c)
	}
	r.Recompute()
}

// Recompute refreshes TotalDuration and TotalSize from the chunk list.
func (r *Recording) Recompute() {
	r.TotalDuration, r.TotalSize = 0, 0
	for _, c := range r.Chunks {
		r.TotalDuration += c.DurationSeconds
		r.TotalSize += c.Size
	}
}

// Clone returns a deep copy.
func (r *Recording) Clone() *Recording {
	if r == nil {
		return nil
	}
	out := *r
	out.Chunks = slices.Clone(r.Chunks)
	if r.Compiled != nil {
		compiled := *r.Compiled
		compiled.Chunks = slices.Clone(r.Compiled.Chunks)
		out.Compiled = &compiled
	}
	return &out
}

// CompiledMetadata is the immutable summary produced when a recording
// completes.
type CompiledMetadata struct {
	RecordingID          string    `json:"recording_id"`
	Creator              string    `json:"creator,omitempty"`
	Chunks               []Chunk   `json:"chunks"`
	TotalChunks          int       `json:"total_chunks"`
	SkippedChunks        int       `json:"skipped_chunks,omitempty"`
	TotalDurationSeconds float64   `json:"total_duration_seconds"`
	TotalSize            int64     `json:"total_size"`
	FirstChunkURL        string    `json:"first_chunk_url,omitempty"`
	LastChunkURL         string    `json:"last_chunk_url,omitempty"`
	ProofSetID           string    `json:"proof_set_id,omitempty"`
	ProviderID           string    `json:"provider_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	CompiledAt           time.Time `json:"compiled_at"`
	Trigger              string    `json:"trigger,omitempty"`

	// Locator of the serialized metadata document itself.
	MetadataContentID  string     `json:"metadata_content_id,omitempty"`
	MetadataURL        string     `json:"metadata_url,omitempty"`
	MetadataProvenance Provenance `json:"metadata_provenance,omitempty"`
}

// UploadMeta accompanies each chunk upload.
type UploadMeta struct {
	Creator          string  `json:"creator,omitempty"`
	DurationSeconds  float64 `json:"duration_seconds"`
	ParticipantCount int     `json:"participant_count,omitempty"`
	IsFinal          bool    `json:"is_final,omitempty"`
}

// ChunkReceipt is returned to the uploader once a chunk is stored.
type ChunkReceipt struct {
	ChunkID    string     `json:"chunk_id"`
	ContentID  string     `json:"content_id"`
	Size       int64      `json:"size_bytes"`
	RootID     string     `json:"root_id,omitempty"`
	Provenance Provenance `json:"provenance"`
	GatewayURL string     `json:"gateway_url,omitempty"`
	Stage      Stage      `json:"stage,omitempty"`
}

// UploadStatusValue is the coarse status reported for a recording.
type UploadStatusValue string

const (
	StatusProcessing UploadStatusValue = "processing"
	StatusCompleted  UploadStatusValue = "completed"
)

// ChunkStatusValue is the per-chunk status reported to callers.
type ChunkStatusValue string

const (
	ChunkUploaded ChunkStatusValue = "uploaded"
	ChunkFailed   ChunkStatusValue = "failed"
)

// ChunkStatus describes one chunk in an UploadStatus.
type ChunkStatus struct {
	Status       ChunkStatusValue `json:"status"`
	ContentID    string           `json:"content_id,omitempty"`
	RootID       string           `json:"root_id,omitempty"`
	GatewayURL   string           `json:"gateway_url,omitempty"`
	UsedFallback bool             `json:"used_fallback"`
}

// UploadStatus summarizes a recording's upload progress.
type UploadStatus struct {
	RecordingID    string                 `json:"recording_id"`
	Status         UploadStatusValue      `json:"status"`
	TotalChunks    int                    `json:"total_chunks"`
	UploadedChunks int                    `json:"uploaded_chunks"`
	FailedChunks   int                    `json:"failed_chunks"`
	Chunks         map[string]ChunkStatus `json:"chunks"`
}

// StatusOf builds the UploadStatus view of r.
func StatusOf(r *Recording) *UploadStatus {
	st := &UploadStatus{
		RecordingID: r.ID,
		Status:      StatusProcessing,
		TotalChunks: len(r.Chunks),
		Chunks:      make(map[string]ChunkStatus, len(r.Chunks)),
	}
	if r.Complete {
		st.Status = StatusCompleted
	}
	for _, c := range r.Chunks {
		cs := ChunkStatus{
			Status:       ChunkUploaded,
			ContentID:    c.ContentID,
			RootID:       c.RootID,
			GatewayURL:   c.GatewayURL,
			UsedFallback: c.UsedFallback(),
		}
		if c.Valid() {
			st.UploadedChunks++
		} else {
			cs.Status = ChunkFailed
			st.FailedChunks++
		}
		st.Chunks[c.ChunkID] = cs
	}
	return st
}
