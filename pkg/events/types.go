// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"strings"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/types"
)

// EventType names a recording lifecycle transition.
type EventType string

const (
	EventChunkStored       EventType = "recording:ChunkStored:Primary"
	EventChunkFallback     EventType = "recording:ChunkStored:Fallback"
	EventRecordingComplete EventType = "recording:Completed"

	// Wildcards for subscription filters.
	EventChunkAny EventType = "recording:ChunkStored:*"
	EventAny      EventType = "recording:*"
)

// Event is the delivered notification. Fields that do not apply to the
// event type are omitted.
type Event struct {
	Version     string    `json:"version"`
	Name        EventType `json:"eventName"`
	Time        time.Time `json:"eventTime"`
	Sequencer   string    `json:"sequencer"`
	Region      string    `json:"region,omitempty"`
	RecordingID string    `json:"recordingId"`
	Creator     string    `json:"creator,omitempty"`

	Chunk *ChunkDetail `json:"chunk,omitempty"`

	Recording *RecordingDetail `json:"recording,omitempty"`
}

// ChunkDetail describes a stored chunk.
type ChunkDetail struct {
	ChunkID        string `json:"chunkId"`
	Sequence       int    `json:"sequence"`
	ContentID      string `json:"contentId"`
	Size           int64  `json:"size"`
	Provenance     string `json:"provenance"`
	Stage          string `json:"stage,omitempty"`
	RootID         string `json:"rootId,omitempty"`
	GatewayURL     string `json:"gatewayUrl,omitempty"`
	FallbackReason string `json:"fallbackReason,omitempty"`
}

// RecordingDetail describes a completed recording.
type RecordingDetail struct {
	TotalChunks          int     `json:"totalChunks"`
	SkippedChunks        int     `json:"skippedChunks,omitempty"`
	TotalDurationSeconds float64 `json:"totalDurationSeconds"`
	TotalSize            int64   `json:"totalSize"`
	Trigger              string  `json:"trigger,omitempty"`
	MetadataContentID    string  `json:"metadataContentId,omitempty"`
	MetadataURL          string  `json:"metadataUrl,omitempty"`
}

func chunkDetail(c types.Chunk) *ChunkDetail {
	d := &ChunkDetail{
		ChunkID:    c.ChunkID,
		Sequence:   c.Sequence,
		ContentID:  c.ContentID,
		Size:       c.Size,
		Provenance: string(c.Provenance),
		RootID:     c.RootID,
		GatewayURL: c.GatewayURL,
	}
	if c.Provenance == types.ProvenancePrimary {
		d.Stage = c.Stage.String()
	}
	return d
}

// MatchesEventType reports whether name matches pattern. A trailing "*"
// matches any suffix.
func MatchesEventType(pattern EventType, name EventType) bool {
	p := string(pattern)
	if prefix, ok := strings.CutSuffix(p, "*"); ok {
		return strings.HasPrefix(string(name), prefix)
	}
	return p == string(name)
}

// Matches reports whether name matches any of patterns. No patterns
// matches everything.
func Matches(patterns []EventType, name EventType) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if MatchesEventType(p, name) {
			return true
		}
	}
	return false
}
