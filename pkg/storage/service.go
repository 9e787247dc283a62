// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/contentid"
	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/network"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/dustin/go-humanize"
)

// Service is a recording's binding to a provider-hosted proof set. All
// chunks of a recording are uploaded through the same Service.
type Service struct {
	RecordingID string
	Creator     string
	ProofSetID  string
	ProviderID  string
	CreatedAt   time.Time

	// Restored is set when the binding was rebuilt from the metastore
	// rather than created by this process.
	Restored bool

	net             network.Storage
	gatewayTemplate string
}

// Upload is an in-flight primary upload: the synchronous content id plus
// the stream of confirmation stage events.
type Upload struct {
	ContentID  string
	Size       int64
	GatewayURL string

	// Events is nil when the confirmation stream could not be opened.
	Events <-chan network.StageEvent

	cancel context.CancelFunc
}

// Close stops the confirmation stream.
func (u *Upload) Close() {
	if u.cancel != nil {
		u.cancel()
	}
}

// GatewayURL returns the retrieval locator for a content id.
func (s *Service) GatewayURL(contentID string) string {
	return contentid.FillTemplate(s.gatewayTemplate, contentID)
}

// Upload submits data to the provider through the proof set. A confirmation
// stream that fails to open is logged and leaves the upload at the
// uploaded stage. The caller must Close the returned Upload.
func (s *Service) Upload(ctx context.Context, data []byte) (*Upload, error) {
	start := time.Now()
	receipt, err := s.net.Upload(ctx, s.ProofSetID, data)
	uploadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, types.UploadError(err, "upload %s to proof set %s",
			humanize.IBytes(uint64(len(data))), s.ProofSetID)
	}

	up := &Upload{
		ContentID:  receipt.ContentID,
		Size:       receipt.Size,
		GatewayURL: s.GatewayURL(receipt.ContentID),
	}

	streamCtx, cancel := context.WithCancel(ctx)
	events, err := s.net.Confirmations(streamCtx, s.ProofSetID, receipt.ContentID)
	if err != nil {
		cancel()
		logger.Ctx(ctx).Warn().Err(err).
			Str("content_id", receipt.ContentID).
			Msg("confirmation stream unavailable")
		return up, nil
	}
	up.Events = events
	up.cancel = cancel
	return up, nil
}

// Confirmation is the outcome of reducing an upload's stage events.
type Confirmation struct {
	Stage  types.Stage
	RootID string

	// TimedOut is set when the grace period ended the wait.
	TimedOut bool
}

// AwaitConfirmation consumes stage events until root-confirmed arrives, the
// stream closes, grace elapses or ctx ends, and returns the most advanced
// stage seen. The root id is the confirmed root when one was reported, else
// the registered root.
func AwaitConfirmation(ctx context.Context, up *Upload, grace time.Duration) Confirmation {
	res := Confirmation{Stage: types.StageUploaded}
	if up == nil || up.Events == nil {
		return res
	}

	var registeredRoot, confirmedRoot string
	done := func() Confirmation {
		res.RootID = confirmedRoot
		if res.RootID == "" {
			res.RootID = registeredRoot
		}
		confirmationStage.WithLabelValues(res.Stage.String()).Inc()
		return res
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-up.Events:
			if !ok {
				return done()
			}
			if ev.Error != "" {
				logger.Ctx(ctx).Warn().
					Str("content_id", up.ContentID).
					Str("stage", ev.Stage.String()).
					Str("error", ev.Error).
					Msg("confirmation stage reported an error")
				continue
			}
			res.Stage = res.Stage.Advance(ev.Stage)
			switch ev.Stage {
			case types.StageRootRegistered:
				if ev.RootID != "" {
					registeredRoot = ev.RootID
				}
			case types.StageRootConfirmed:
				if ev.RootID != "" {
					confirmedRoot = ev.RootID
				}
			}
			if res.Stage == types.StageRootConfirmed {
				return done()
			}
		case <-timer.C:
			res.TimedOut = true
			return done()
		case <-ctx.Done():
			return done()
		}
	}
}
