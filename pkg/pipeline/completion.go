// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/events"
	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	"github.com/LeeDigitalWorks/rtastore/pkg/pinning"
	"github.com/LeeDigitalWorks/rtastore/pkg/storage"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"golang.org/x/sync/singleflight"
)

// Trigger records what completed a recording.
type Trigger string

const (
	TriggerFinalChunk Trigger = "final_chunk"
	TriggerCompile    Trigger = "compile"
	TriggerDeadline   Trigger = "deadline"
)

// Completer compiles and stores recording metadata. A recording completes
// at most once; later calls return the stored metadata.
type Completer struct {
	store     metastore.Store
	registry  *storage.Registry
	pinner    pinning.Pinner
	emitter   *events.Emitter
	deadlines *Scheduler
	timeout   time.Duration

	group singleflight.Group
}

// Complete compiles recordingID. Explicit triggers require at least one
// chunk and every chunk to carry a content id. TriggerDeadline compiles the
// valid chunks only and returns (nil, nil) when there are none.
//
// Concurrent calls for one recording share a single attempt, which runs
// detached from the caller's cancellation.
func (c *Completer) Complete(ctx context.Context, recordingID string, trigger Trigger) (*types.CompiledMetadata, error) {
	ch := c.group.DoChan(recordingID, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.complete(cctx, recordingID, trigger)
	})

	select {
	case res := <-ch:
		meta, _ := res.Val.(*types.CompiledMetadata)
		return meta, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Completer) complete(ctx context.Context, recordingID string, trigger Trigger) (*types.CompiledMetadata, error) {
	log := logger.Ctx(ctx).With().Str("trigger", string(trigger)).Logger()

	rec, err := c.store.GetRecord(ctx, recordingID)
	if errors.Is(err, metastore.ErrRecordNotFound) {
		return nil, types.NotFoundError("recording %s not found", recordingID)
	}
	if err != nil {
		return nil, types.PersistenceError(err, "load recording %s", recordingID)
	}
	if rec.Complete {
		c.deadlines.Cancel(recordingID)
		completions.WithLabelValues(string(trigger), "noop").Inc()
		return rec.Compiled, nil
	}

	chunks := rec.Chunks
	skipped := 0
	valid := rec.ValidChunks()
	switch trigger {
	case TriggerDeadline:
		skipped = len(rec.Chunks) - len(valid)
		chunks = valid
		if len(chunks) == 0 {
			log.Info().Int("chunks", len(rec.Chunks)).Msg("deadline passed with no valid chunks, leaving recording open")
			completions.WithLabelValues(string(trigger), "empty").Inc()
			return nil, nil
		}
	default:
		if len(rec.Chunks) == 0 {
			log.Warn().Msg("cannot compile recording without chunks")
			completions.WithLabelValues(string(trigger), "invalid").Inc()
			return nil, types.MetadataCompilationError(nil, "recording %s has no chunks", recordingID)
		}
		if missing := len(rec.Chunks) - len(valid); missing > 0 {
			log.Warn().Int("missing", missing).Int("chunks", len(rec.Chunks)).
				Msg("cannot compile recording with chunks lacking a content id")
			completions.WithLabelValues(string(trigger), "invalid").Inc()
			return nil, types.MetadataCompilationError(nil,
				"recording %s has %d of %d chunks without a content id", recordingID, missing, len(rec.Chunks))
		}
	}

	meta := compile(rec, chunks, trigger, time.Now())
	meta.SkippedChunks = skipped
	c.publish(ctx, rec, meta)

	err = c.store.MarkComplete(ctx, recordingID, meta)
	if errors.Is(err, metastore.ErrAlreadyComplete) {
		// Another writer won; theirs is the metadata of record.
		completions.WithLabelValues(string(trigger), "noop").Inc()
		c.deadlines.Cancel(recordingID)
		stored, gerr := c.store.GetRecord(ctx, recordingID)
		if gerr != nil {
			return nil, types.PersistenceError(gerr, "reload completed recording %s", recordingID)
		}
		return stored.Compiled, nil
	}
	if err != nil {
		completions.WithLabelValues(string(trigger), "error").Inc()
		return nil, types.PersistenceError(err, "mark recording %s complete", recordingID)
	}

	c.deadlines.Cancel(recordingID)
	c.registry.Evict(recordingID)
	completions.WithLabelValues(string(trigger), "success").Inc()
	c.emitter.EmitRecordingCompleted(ctx, meta)

	log.Info().
		Int("chunks", meta.TotalChunks).
		Int("skipped", meta.SkippedChunks).
		Float64("duration_seconds", meta.TotalDurationSeconds).
		Int64("size", meta.TotalSize).
		Str("metadata_url", meta.MetadataURL).
		Msg("recording complete")
	return meta, nil
}

// compile builds the metadata for chunks, sorted by sequence.
func compile(rec *types.Recording, chunks []types.Chunk, trigger Trigger, now time.Time) *types.CompiledMetadata {
	sorted := types.SortChunks(chunks)
	meta := &types.CompiledMetadata{
		RecordingID: rec.ID,
		Creator:     rec.Creator,
		Chunks:      sorted,
		TotalChunks: len(sorted),
		ProofSetID:  rec.ProofSetID,
		ProviderID:  rec.ProviderID,
		CreatedAt:   rec.CreatedAt,
		CompiledAt:  now,
		Trigger:     string(trigger),
	}
	for _, ch := range sorted {
		meta.TotalDurationSeconds += ch.DurationSeconds
		meta.TotalSize += ch.Size
	}
	if len(sorted) > 0 {
		meta.FirstChunkURL = sorted[0].GatewayURL
		meta.LastChunkURL = sorted[len(sorted)-1].GatewayURL
	}
	return meta
}

// publish stores the serialized metadata through the recording's storage
// service, or the fallback pinner when there is no service or it fails. A
// recording still completes when both fail; it just has no metadata locator.
func (c *Completer) publish(ctx context.Context, rec *types.Recording, meta *types.CompiledMetadata) {
	log := logger.Ctx(ctx)

	doc, err := json.Marshal(meta)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode compiled metadata")
		return
	}

	if rec.HasStorageService() {
		err := c.publishPrimary(ctx, rec, meta, doc)
		if err == nil {
			return
		}
		log.Warn().Err(err).Msg("metadata upload failed, pinning to fallback")
	}

	if c.pinner == nil {
		log.Error().Msg("metadata document not stored: no storage service and no fallback pinner")
		return
	}
	res, err := c.pinner.Pin(ctx, pinning.PinRequest{
		Name: rec.ID + "_metadata.json",
		Data: doc,
		Tags: map[string]string{
			pinning.TagRecordingID: rec.ID,
			pinning.TagProvenance:  string(types.ProvenanceFallback),
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("metadata document not stored")
		return
	}
	meta.MetadataContentID = res.ContentID
	meta.MetadataURL = c.pinner.GatewayURL(res.ContentID)
	meta.MetadataProvenance = types.ProvenanceFallback
	metadataUploads.WithLabelValues(string(types.ProvenanceFallback)).Inc()
}

func (c *Completer) publishPrimary(ctx context.Context, rec *types.Recording, meta *types.CompiledMetadata, doc []byte) error {
	svc, err := c.registry.GetOrCreate(ctx, rec.ID, rec.Creator)
	if err != nil {
		return err
	}
	up, err := svc.Upload(ctx, doc)
	if err != nil {
		return err
	}
	up.Close()

	meta.MetadataContentID = up.ContentID
	meta.MetadataURL = up.GatewayURL
	meta.MetadataProvenance = types.ProvenancePrimary
	metadataUploads.WithLabelValues(string(types.ProvenancePrimary)).Inc()
	return nil
}
