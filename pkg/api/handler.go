// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the recording pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	rctx "github.com/LeeDigitalWorks/rtastore/pkg/context"
	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/dustin/go-humanize"
)

const (
	HeaderCreator          = "X-Creator"
	HeaderDurationSeconds  = "X-Duration-Seconds"
	HeaderParticipantCount = "X-Participant-Count"
	HeaderFinal            = "X-Final"
	HeaderRequestID        = rctx.RequestHeader

	DefaultMaxChunkSize = 64 << 20
)

// Pipeline is the set of operations served by Handler.
type Pipeline interface {
	UploadChunk(ctx context.Context, recordingID, chunkID string, data []byte, meta types.UploadMeta) (*types.ChunkReceipt, error)
	GetUploadStatus(ctx context.Context, recordingID string) (*types.UploadStatus, error)
	CompileMetadata(ctx context.Context, recordingID string) (*types.CompiledMetadata, error)
	ListCompletedRecordings(ctx context.Context) ([]*types.CompiledMetadata, error)
}

type Config struct {
	// MaxChunkSize bounds the request body of a chunk upload. Zero uses
	// DefaultMaxChunkSize.
	MaxChunkSize int64 `mapstructure:"max_chunk_size"`
}

// Handler routes /v1/recordings requests to a Pipeline.
type Handler struct {
	pipeline Pipeline
	maxChunk int64
	mux      *http.ServeMux
}

func NewHandler(p Pipeline, cfg Config) *Handler {
	h := &Handler{
		pipeline: p,
		maxChunk: cfg.MaxChunkSize,
		mux:      http.NewServeMux(),
	}
	if h.maxChunk <= 0 {
		h.maxChunk = DefaultMaxChunkSize
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, reqID := rctx.WithRequestID(r.Context(), r.Header.Get(HeaderRequestID))
	w.Header().Set(HeaderRequestID, reqID)

	l := logger.Ctx(ctx).With().
		Str("request_id", reqID).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Logger()
	h.mux.ServeHTTP(w, r.WithContext(logger.WithLogger(ctx, &l)))
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("PUT /v1/recordings/{id}/chunks/{chunk}", h.uploadChunk)
	h.mux.HandleFunc("GET /v1/recordings/{id}/status", h.getStatus)
	h.mux.HandleFunc("POST /v1/recordings/{id}/compile", h.compile)
	h.mux.HandleFunc("GET /v1/recordings", h.listRecordings)
}

// === Handlers ===

func (h *Handler) uploadChunk(w http.ResponseWriter, r *http.Request) {
	recordingID := r.PathValue("id")
	chunkID := r.PathValue("chunk")
	ctx := logger.WithRecording(r.Context(), recordingID)

	meta, err := parseUploadMeta(r.Header)
	if err != nil {
		h.writeError(ctx, w, types.InvalidRequestError("%v", err))
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxChunk))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(ctx, w, types.InvalidRequestError("chunk exceeds %s", humanize.IBytes(uint64(tooLarge.Limit))))
			return
		}
		h.writeError(ctx, w, types.InvalidRequestError("read chunk body: %v", err))
		return
	}

	receipt, err := h.pipeline.UploadChunk(ctx, recordingID, chunkID, data, meta)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithRecording(r.Context(), r.PathValue("id"))
	status, err := h.pipeline.GetUploadStatus(ctx, r.PathValue("id"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) compile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := logger.WithRecording(r.Context(), id)
	meta, err := h.pipeline.CompileMetadata(ctx, id)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if meta == nil {
		h.writeError(ctx, w, types.NotFoundError("recording %s not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, meta)
}

func (h *Handler) listRecordings(w http.ResponseWriter, r *http.Request) {
	if s := r.URL.Query().Get("status"); s != "" && s != string(types.StatusCompleted) {
		h.writeError(r.Context(), w, types.InvalidRequestError("unsupported status filter %q", s))
		return
	}
	recs, err := h.pipeline.ListCompletedRecordings(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	if recs == nil {
		recs = []*types.CompiledMetadata{}
	}
	h.writeJSON(w, http.StatusOK, listRecordingsResponse{Recordings: recs, Count: len(recs)})
}

// === Request/Response types ===

type listRecordingsResponse struct {
	Recordings []*types.CompiledMetadata `json:"recordings"`
	Count      int                       `json:"count"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseUploadMeta(hdr http.Header) (types.UploadMeta, error) {
	meta := types.UploadMeta{Creator: hdr.Get(HeaderCreator)}
	if v := hdr.Get(HeaderDurationSeconds); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(d) || math.IsInf(d, 0) {
			return meta, fmt.Errorf("invalid %s %q", HeaderDurationSeconds, v)
		}
		meta.DurationSeconds = d
	}
	if v := hdr.Get(HeaderParticipantCount); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return meta, fmt.Errorf("invalid %s %q", HeaderParticipantCount, v)
		}
		meta.ParticipantCount = n
	}
	if v := hdr.Get(HeaderFinal); v != "" {
		final, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return meta, fmt.Errorf("invalid %s %q", HeaderFinal, v)
		}
		meta.IsFinal = final
	}
	return meta, nil
}

// === Helpers ===

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("failed to write response")
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := types.CodeOf(err)
	status := code.HTTPStatus()
	name := code.String()
	if code == types.ErrCodeNone {
		name = "InternalError"
	}

	ev := logger.Ctx(ctx).Warn()
	if status >= http.StatusInternalServerError {
		ev = logger.Ctx(ctx).Error()
	}
	ev.Err(err).Int("status", status).Msg("request failed")

	h.writeJSON(w, status, errorResponse{Error: name, Message: err.Error()})
}
