// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Provenance records which storage path holds a chunk's bytes.
type Provenance string

const (
	ProvenancePrimary  Provenance = "primary"
	ProvenanceFallback Provenance = "fallback"
)

// Chunk is one bounded audio segment of a recording.
type Chunk struct {
	ChunkID          string     `json:"chunk_id"`
	RecordingID      string     `json:"recording_id"`
	Sequence         int        `json:"sequence"`
	Final            bool       `json:"final,omitempty"`
	ContentID        string     `json:"content_id"`
	Size             int64      `json:"size"`
	DurationSeconds  float64    `json:"duration_seconds"`
	ParticipantCount int        `json:"participant_count,omitempty"`
	UploadedAt       time.Time  `json:"uploaded_at"`
	Provenance       Provenance `json:"provenance"`
	Stage            Stage      `json:"stage,omitempty"`
	RootID           string     `json:"root_id,omitempty"`
	GatewayURL       string     `json:"gateway_url,omitempty"`
}

// Valid reports whether the chunk has been assigned a content identifier.
func (c Chunk) Valid() bool {
	return c.ContentID != ""
}

// UsedFallback reports whether the chunk was stored by the fallback pinner.
func (c Chunk) UsedFallback() bool {
	return c.Provenance == ProvenanceFallback
}

// ChunkID is the parsed form of a chunk identifier.
//
// Accepted forms, case-insensitive:
//
//	<recording>_chunk_<seq>
//	<recording>_chunk_<seq>_final
//	<recording>-chunk-<seq>-final
//	<seq>
type ChunkID struct {
	Raw      string
	Sequence int
	Final    bool
	// Parsed is false when no sequence number could be extracted.
	Parsed bool
}

var chunkIDPattern = regexp.MustCompile(`(?i)(?:^|[_-])chunk[_-](\d+)([_-]final)?$`)

// ParseChunkID extracts the sequence number and final marker from id.
// Unparseable ids return Parsed=false and Sequence=-1; they are still usable
// and sort after every parseable id.
func ParseChunkID(id string) ChunkID {
	out := ChunkID{Raw: id, Sequence: -1}
	if m := chunkIDPattern.FindStringSubmatch(id); m != nil {
		seq, err := strconv.Atoi(m[1])
		if err == nil {
			out.Sequence = seq
			out.Final = m[2] != ""
			out.Parsed = true
		}
		return out
	}
	if seq, err := strconv.Atoi(strings.TrimSpace(id)); err == nil && seq >= 0 {
		out.Sequence = seq
		out.Parsed = true
	}
	return out
}

// FormatChunkID builds the canonical chunk identifier.
func FormatChunkID(recordingID string, seq int, final bool) string {
	id := fmt.Sprintf("%s_chunk_%d", recordingID, seq)
	if final {
		id += "_final"
	}
	return id
}

// CompareChunks orders chunks by embedded sequence number. Chunks without a
// parseable sequence go last; ties fall back to the raw id.
func CompareChunks(a, b Chunk) int {
	pa, pb := ParseChunkID(a.ChunkID), ParseChunkID(b.ChunkID)
	switch {
	case pa.Parsed && !pb.Parsed:
		return -1
	case !pa.Parsed && pb.Parsed:
		return 1
	case pa.Sequence != pb.Sequence:
		if pa.Sequence < pb.Sequence {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ChunkID, b.ChunkID)
}

// SortChunks returns a copy of chunks ordered by sequence number.
func SortChunks(chunks []Chunk) []Chunk {
	out := slices.Clone(chunks)
	slices.SortStableFunc(out, CompareChunks)
	return out
}
