// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/taskqueue"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/google/uuid"
)

const eventVersion = "1.0"

// Emitter queues lifecycle events for async delivery via the taskqueue.
// Emitting never fails the caller; problems are logged and counted.
type Emitter struct {
	queue   taskqueue.Queue
	enabled bool
	region  string

	sequencer atomic.Uint64
}

// EmitterConfig configures the event emitter.
type EmitterConfig struct {
	// Queue persists events until delivery. Nil disables the emitter.
	Queue   taskqueue.Queue
	Enabled bool
	Region  string
}

// NewEmitter creates an event emitter.
func NewEmitter(cfg EmitterConfig) *Emitter {
	return &Emitter{
		queue:   cfg.Queue,
		enabled: cfg.Enabled && cfg.Queue != nil,
		region:  cfg.Region,
	}
}

// NoopEmitter returns an emitter that drops all events.
func NoopEmitter() *Emitter {
	return &Emitter{}
}

// IsEnabled reports whether events are queued.
func (e *Emitter) IsEnabled() bool {
	return e.enabled
}

// Emit queues ev. Version, time and sequencer are filled in when unset.
func (e *Emitter) Emit(ctx context.Context, ev *Event) {
	if !e.enabled {
		EventsDroppedTotal.Inc()
		return
	}

	if ev.Version == "" {
		ev.Version = eventVersion
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.Sequencer == "" {
		ev.Sequencer = e.nextSequencer()
	}
	if ev.Region == "" {
		ev.Region = e.region
	}

	data, err := taskqueue.MarshalPayload(ev)
	if err != nil {
		EventsErrorsTotal.WithLabelValues("marshal").Inc()
		logger.Warn().Err(err).Str("event", string(ev.Name)).Msg("failed to marshal event")
		return
	}

	task := &taskqueue.Task{
		ID:       uuid.NewString(),
		Type:     taskqueue.TaskTypeEvent,
		Priority: taskqueue.PriorityNormal,
		Payload:  data,
		Key:      ev.RecordingID,
	}
	if ev.Name == EventRecordingComplete {
		task.Priority = taskqueue.PriorityHigh
	}

	if err := e.queue.Enqueue(ctx, task); err != nil {
		EventsErrorsTotal.WithLabelValues("enqueue").Inc()
		logger.Warn().
			Err(err).
			Str("event", string(ev.Name)).
			Str("recording_id", ev.RecordingID).
			Msg("failed to queue event")
		return
	}

	EventsEmittedTotal.WithLabelValues(string(ev.Name)).Inc()
	logger.Debug().
		Str("event", string(ev.Name)).
		Str("recording_id", ev.RecordingID).
		Str("task_id", task.ID).
		Msg("queued event")
}

// EmitChunkStored emits a primary or fallback chunk event depending on the
// chunk's provenance.
func (e *Emitter) EmitChunkStored(ctx context.Context, chunk types.Chunk, creator, fallbackReason string) {
	name := EventChunkStored
	detail := chunkDetail(chunk)
	if chunk.UsedFallback() {
		name = EventChunkFallback
		detail.FallbackReason = fallbackReason
	}
	e.Emit(ctx, &Event{
		Name:        name,
		RecordingID: chunk.RecordingID,
		Creator:     creator,
		Chunk:       detail,
	})
}

// EmitRecordingCompleted emits the completion event for meta.
func (e *Emitter) EmitRecordingCompleted(ctx context.Context, meta *types.CompiledMetadata) {
	e.Emit(ctx, &Event{
		Name:        EventRecordingComplete,
		RecordingID: meta.RecordingID,
		Creator:     meta.Creator,
		Recording: &RecordingDetail{
			TotalChunks:          meta.TotalChunks,
			SkippedChunks:        meta.SkippedChunks,
			TotalDurationSeconds: meta.TotalDurationSeconds,
			TotalSize:            meta.TotalSize,
			Trigger:              meta.Trigger,
			MetadataContentID:    meta.MetadataContentID,
			MetadataURL:          meta.MetadataURL,
		},
	})
}

// Stats returns emitter status for the debug endpoint.
func (e *Emitter) Stats() EmitterStats {
	return EmitterStats{Enabled: e.enabled, Region: e.region}
}

// EmitterStats contains emitter status information.
type EmitterStats struct {
	Enabled bool   `json:"enabled"`
	Region  string `json:"region,omitempty"`
}

// nextSequencer returns hex(timestamp_ms) + hex(counter) + random suffix,
// increasing within a process.
func (e *Emitter) nextSequencer() string {
	ts := time.Now().UnixMilli()
	seq := e.sequencer.Add(1)

	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)

	return hex.EncodeToString([]byte{
		byte(ts >> 40), byte(ts >> 32), byte(ts >> 24), byte(ts >> 16),
		byte(ts >> 8), byte(ts),
		byte(seq >> 8), byte(seq),
	}) + hex.EncodeToString(suffix)
}
