// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/events"
	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	"github.com/LeeDigitalWorks/rtastore/pkg/network"
	"github.com/LeeDigitalWorks/rtastore/pkg/pinning"
	"github.com/LeeDigitalWorks/rtastore/pkg/storage"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"
	"github.com/LeeDigitalWorks/rtastore/pkg/utils"

	"github.com/getsentry/sentry-go"
)

// Session is the payment session used by the primary path.
type Session interface {
	Ensure(ctx context.Context) error
	Balances(ctx context.Context) (network.Balances, error)
	Preflight(ctx context.Context, size int64) error
}

// Coordinator runs chunk uploads and recording completion.
type Coordinator struct {
	cfg       Config
	session   Session
	registry  *storage.Registry
	store     metastore.Store
	pinner    pinning.Pinner
	emitter   *events.Emitter
	completer *Completer
	deadlines *Scheduler

	bg     context.Context
	stopBg context.CancelFunc
	wg     sync.WaitGroup
}

// CoordinatorConfig holds the coordinator's collaborators.
type CoordinatorConfig struct {
	Config   Config
	Session  Session
	Registry *storage.Registry
	Store    metastore.Store

	// Pinner is optional. Without it primary failures are
	// FallbackUnavailableError.
	Pinner pinning.Pinner

	// Emitter is optional.
	Emitter *events.Emitter
}

// NewCoordinator creates a coordinator. Deadlines do not fire until Start.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	cfg.Config.Validate()
	if cfg.Emitter == nil {
		cfg.Emitter = events.NoopEmitter()
	}

	bg, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:      cfg.Config,
		session:  cfg.Session,
		registry: cfg.Registry,
		store:    cfg.Store,
		pinner:   cfg.Pinner,
		emitter:  cfg.Emitter,
		bg:       bg,
		stopBg:   stop,
	}
	c.deadlines = NewScheduler(c.fireDeadline)
	c.completer = &Completer{
		store:     cfg.Store,
		registry:  cfg.Registry,
		pinner:    cfg.Pinner,
		emitter:   cfg.Emitter,
		deadlines: c.deadlines,
		timeout:   c.cfg.CompletionTimeout,
	}
	return c
}

// Start re-arms deadlines for recordings left open by a previous process
// and starts the deadline scheduler.
func (c *Coordinator) Start(ctx context.Context) error {
	open, err := c.store.ListIncomplete(ctx)
	if err != nil {
		return types.PersistenceError(err, "list incomplete recordings")
	}

	now := time.Now()
	rearmed := 0
	for _, rec := range open {
		if len(rec.Chunks) == 0 {
			continue
		}
		c.deadlines.Schedule(rec.ID, now.Add(utils.JitterUp(c.cfg.AutoCompleteAfter, 0.1)))
		rearmed++
	}
	if rearmed > 0 {
		logger.Info().Int("recordings", rearmed).Msg("re-armed auto-completion for open recordings")
	}

	c.deadlines.Start(ctx)
	return nil
}

// Stop stops the scheduler and waits for pending final-chunk completions.
func (c *Coordinator) Stop() {
	c.stopBg()
	c.deadlines.Stop()
	c.wg.Wait()
}

// Deadlines returns pending auto-completions.
func (c *Coordinator) Deadlines() []Deadline {
	return c.deadlines.Pending()
}

// UploadChunk stores one chunk and returns its receipt. The primary path is
// the recording's storage service; any failure there sends the chunk to the
// fallback pinner. Failure of both returns the fallback error.
func (c *Coordinator) UploadChunk(ctx context.Context, recordingID, chunkID string, data []byte, meta types.UploadMeta) (*types.ChunkReceipt, error) {
	switch {
	case recordingID == "":
		return nil, types.InvalidRequestError("recording id is required")
	case chunkID == "":
		return nil, types.InvalidRequestError("chunk id is required")
	case len(data) == 0:
		return nil, types.InvalidRequestError("chunk %s is empty", chunkID)
	case math.IsNaN(meta.DurationSeconds) || math.IsInf(meta.DurationSeconds, 0):
		return nil, types.InvalidRequestError("chunk %s has non-finite duration", chunkID)
	case meta.DurationSeconds < 0:
		return nil, types.InvalidRequestError("chunk %s has negative duration", chunkID)
	}

	ctx = logger.WithRecording(ctx, recordingID)
	log := logger.Ctx(ctx).With().Str("chunk_id", chunkID).Logger()
	start := time.Now()

	id := types.ParseChunkID(chunkID)
	final := meta.IsFinal || id.Final
	chunk := types.Chunk{
		ChunkID:          chunkID,
		RecordingID:      recordingID,
		Sequence:         id.Sequence,
		Final:            final,
		DurationSeconds:  meta.DurationSeconds,
		ParticipantCount: meta.ParticipantCount,
	}

	stored, err := c.uploadPrimary(ctx, chunk, data, meta.Creator)
	var fallbackReason string
	if err != nil {
		fallbackReason = types.CodeOf(err).String()
		fallbackActivations.WithLabelValues(fallbackReason).Inc()
		log.Warn().Err(err).Msg("primary upload failed, pinning to fallback")

		stored, err = c.uploadFallback(ctx, chunk, data)
		if err != nil {
			chunkUploads.WithLabelValues(string(types.ProvenanceFallback), "error").Inc()
			log.Error().Err(err).Msg("chunk upload failed on primary and fallback")
			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("recording_id", recordingID)
				scope.SetTag("chunk_id", chunkID)
				scope.SetTag("primary_error", fallbackReason)
				sentry.CaptureException(err)
			})
			return nil, err
		}
	}
	stored.UploadedAt = time.Now()

	if err := c.persist(ctx, stored, meta.Creator); err != nil {
		chunkUploads.WithLabelValues(string(stored.Provenance), "error").Inc()
		log.Error().Err(err).Str("content_id", stored.ContentID).Msg("chunk stored but not recorded")
		return nil, err
	}

	chunkUploads.WithLabelValues(string(stored.Provenance), "success").Inc()
	chunkUploadDuration.WithLabelValues(string(stored.Provenance)).Observe(time.Since(start).Seconds())
	chunkBytes.WithLabelValues(string(stored.Provenance)).Add(float64(stored.Size))
	c.emitter.EmitChunkStored(ctx, stored, meta.Creator, fallbackReason)

	log.Info().
		Str("content_id", stored.ContentID).
		Str("provenance", string(stored.Provenance)).
		Str("stage", stored.Stage.String()).
		Str("root_id", stored.RootID).
		Bool("final", final).
		Msg("chunk stored")

	c.afterPersist(ctx, recordingID, final)

	return &types.ChunkReceipt{
		ChunkID:    stored.ChunkID,
		ContentID:  stored.ContentID,
		Size:       stored.Size,
		RootID:     stored.RootID,
		Provenance: stored.Provenance,
		GatewayURL: stored.GatewayURL,
		Stage:      stored.Stage,
	}, nil
}

// uploadPrimary runs session, storage service, preflight, upload and
// confirmation under UploadTimeout.
func (c *Coordinator) uploadPrimary(ctx context.Context, chunk types.Chunk, data []byte, creator string) (types.Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()
	log := logger.Ctx(ctx)

	if err := c.session.Ensure(ctx); err != nil {
		return chunk, err
	}

	if bal, err := c.session.Balances(ctx); err != nil {
		log.Debug().Err(err).Msg("balance read failed")
	} else {
		log.Debug().
			Str("wallet", bal.Wallet.String()).
			Str("escrow", bal.Escrow.String()).
			Str("lockup_used", bal.LockupUsed.String()).
			Msg("payment balances")
	}

	svc, err := c.registry.GetOrCreate(ctx, chunk.RecordingID, creator)
	if err != nil {
		return chunk, asCoded(err, types.ErrCodeStorageServiceCreation)
	}

	if err := c.session.Preflight(ctx, int64(len(data))); err != nil {
		return chunk, err
	}

	up, err := svc.Upload(ctx, data)
	if err != nil {
		return chunk, asCoded(err, types.ErrCodeUpload)
	}
	defer up.Close()

	conf := storage.AwaitConfirmation(ctx, up, c.cfg.ConfirmationGrace)
	if conf.TimedOut {
		log.Debug().Str("stage", conf.Stage.String()).Msg("confirmation grace elapsed")
	}

	chunk.ContentID = up.ContentID
	chunk.Size = up.Size
	chunk.Provenance = types.ProvenancePrimary
	chunk.Stage = conf.Stage
	chunk.RootID = conf.RootID
	chunk.GatewayURL = up.GatewayURL
	return chunk, nil
}

// asCoded tags err with code unless it already carries one.
func asCoded(err error, code types.ErrorCode) error {
	if types.CodeOf(err) != types.ErrCodeNone {
		return err
	}
	return types.NewError(code, err, "primary upload")
}

// persist appends the chunk, creating the recording when no storage service
// ever saved it (every chunk so far went to fallback). A binding the registry
// saves in between is kept, since SaveRecord ignores an empty one.
func (c *Coordinator) persist(ctx context.Context, chunk types.Chunk, creator string) error {
	err := c.store.AppendChunk(ctx, chunk.RecordingID, chunk)
	if errors.Is(err, metastore.ErrRecordNotFound) {
		err = c.store.SaveRecord(ctx, &types.Recording{
			ID:        chunk.RecordingID,
			Creator:   creator,
			CreatedAt: time.Now(),
			Chunks:    []types.Chunk{chunk},
		})
	}
	switch {
	case errors.Is(err, metastore.ErrRecordComplete):
		return types.PersistenceError(err, "chunk %s arrived after recording %s completed",
			chunk.ChunkID, chunk.RecordingID)
	case err != nil:
		return types.PersistenceError(err, "record chunk %s", chunk.ChunkID)
	}
	return nil
}

// afterPersist pushes the recording's deadline out and, for a final chunk,
// schedules completion after FinalSettleDelay. The deadline stays armed for
// final chunks so a failed explicit completion is retried over the valid
// chunks.
func (c *Coordinator) afterPersist(ctx context.Context, recordingID string, final bool) {
	c.deadlines.Schedule(recordingID, time.Now().Add(c.cfg.AutoCompleteAfter))
	if !final {
		return
	}

	log := logger.Ctx(ctx)
	bg := logger.WithLogger(c.bg, log)
	c.wg.Go(func() {
		timer := time.NewTimer(c.cfg.FinalSettleDelay)
		defer timer.Stop()
		select {
		case <-bg.Done():
			return
		case <-timer.C:
		}
		if _, err := c.completer.Complete(bg, recordingID, TriggerFinalChunk); err != nil {
			logger.Ctx(bg).Warn().Err(err).Msg("completion after final chunk failed")
		}
	})
}

func (c *Coordinator) fireDeadline(ctx context.Context, recordingID string) {
	ctx = logger.WithRecording(ctx, recordingID)
	meta, err := c.completer.Complete(ctx, recordingID, TriggerDeadline)
	switch {
	case err != nil && ctx.Err() == nil && !types.IsCode(err, types.ErrCodeNotFound):
		// Keep a deadline re-armed by a chunk that arrived meanwhile.
		retry := time.Now().Add(c.cfg.CompletionRetry)
		if _, pending := c.deadlines.Get(recordingID); !pending {
			c.deadlines.Schedule(recordingID, retry)
		}
		logger.Ctx(ctx).Warn().Err(err).Time("retry_at", retry).Msg("deadline auto-completion failed")
	case err != nil:
		logger.Ctx(ctx).Warn().Err(err).Msg("deadline auto-completion failed")
	case meta != nil:
		logger.Ctx(ctx).Info().Int("chunks", meta.TotalChunks).Msg("recording auto-completed")
	}
}

// GetUploadStatus reports per-chunk progress. Unknown recordings are
// NotFound.
func (c *Coordinator) GetUploadStatus(ctx context.Context, recordingID string) (*types.UploadStatus, error) {
	rec, err := c.store.GetRecord(ctx, recordingID)
	if errors.Is(err, metastore.ErrRecordNotFound) {
		return nil, types.NotFoundError("recording %s not found", recordingID)
	}
	if err != nil {
		return nil, types.PersistenceError(err, "load recording %s", recordingID)
	}
	return types.StatusOf(rec), nil
}

// CompileMetadata returns the recording's compiled metadata, completing it
// first when needed. Unknown recordings return (nil, nil).
func (c *Coordinator) CompileMetadata(ctx context.Context, recordingID string) (*types.CompiledMetadata, error) {
	rec, err := c.store.GetRecord(ctx, recordingID)
	if errors.Is(err, metastore.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, types.PersistenceError(err, "load recording %s", recordingID)
	}
	if rec.Complete {
		return rec.Compiled, nil
	}
	return c.completer.Complete(logger.WithRecording(ctx, recordingID), recordingID, TriggerCompile)
}

// ListCompletedRecordings returns the metadata of every completed
// recording, most recent first.
func (c *Coordinator) ListCompletedRecordings(ctx context.Context) ([]*types.CompiledMetadata, error) {
	recs, err := c.store.ListCompleted(ctx)
	if err != nil {
		return nil, types.PersistenceError(err, "list completed recordings")
	}
	out := make([]*types.CompiledMetadata, 0, len(recs))
	for _, r := range recs {
		if r.Compiled != nil {
			out = append(out, r.Compiled)
		}
	}
	return out, nil
}
