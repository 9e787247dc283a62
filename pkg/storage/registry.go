// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage binds recordings to proof sets on the storage network and
// uploads chunk bytes through them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/cache"
	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	"github.com/LeeDigitalWorks/rtastore/pkg/network"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"
)

// Phase names a step of storage service creation.
type Phase string

const (
	PhaseSelectProvider  Phase = "select-provider"
	PhaseResolveProofSet Phase = "resolve-proof-set"
	PhaseVerifyProofSet  Phase = "verify-proof-set"
	PhaseReady           Phase = "ready"
)

// ProgressFunc observes creation phases. It is diagnostic only and must not
// block.
type ProgressFunc func(recordingID string, phase Phase, detail string)

// Config configures a Registry.
type Config struct {
	// GatewayTemplate builds primary retrieval URLs; "{cid}" is replaced by
	// the content id.
	GatewayTemplate string `mapstructure:"gateway_template"`

	// MaxServices bounds the in-process cache (0 = unbounded).
	MaxServices int `mapstructure:"max_services"`

	// IdleExpiry drops services not used for this long (0 = never).
	IdleExpiry time.Duration `mapstructure:"idle_expiry"`

	// CreateTimeout bounds one shared lookup or creation. Callers waiting on
	// it may give up sooner without cancelling it.
	CreateTimeout time.Duration `mapstructure:"create_timeout"`
}

// DefaultCreateTimeout is used when Config.CreateTimeout is zero.
const DefaultCreateTimeout = 2 * time.Minute

// Option configures a Registry.
type Option func(*Registry)

// WithProgress installs a ProgressFunc.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Registry) { r.progress = fn }
}

// Registry returns the storage service for a recording, creating it at most
// once per recording in this process.
type Registry struct {
	net      network.Storage
	store    metastore.Store
	cfg      Config
	services *cache.Cache[string, *Service]
	progress ProgressFunc
}

// NewRegistry creates a Registry. The cache's expiry timer stops with ctx.
func NewRegistry(ctx context.Context, net network.Storage, store metastore.Store, cfg Config, opts ...Option) *Registry {
	r := &Registry{
		net:   net,
		store: store,
		cfg:   cfg,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.cfg.CreateTimeout <= 0 {
		r.cfg.CreateTimeout = DefaultCreateTimeout
	}
	cacheOpts := []cache.Option[string, *Service]{
		cache.WithLoadTimeout[string, *Service](r.cfg.CreateTimeout),
	}
	if cfg.MaxServices > 0 {
		cacheOpts = append(cacheOpts, cache.WithMaxSize[string, *Service](cfg.MaxServices))
	}
	if cfg.IdleExpiry > 0 {
		cacheOpts = append(cacheOpts, cache.WithExpiry[string, *Service](cfg.IdleExpiry))
	}
	r.services = cache.New(ctx, cacheOpts...)
	return r
}

// GetOrCreate returns the recording's storage service. Lookup order is the
// in-process cache, then a binding persisted by an earlier process, then
// creation (provider selection, proof set resolution, liveness check).
// Concurrent callers for one recording share a single lookup.
//
// Two processes creating a service for the same new recording at the same
// time may both create a proof set; the last SaveRecord wins the binding.
func (r *Registry) GetOrCreate(ctx context.Context, recordingID, creator string) (*Service, error) {
	svc, err := r.services.GetOrLoad(ctx, recordingID, func(ctx context.Context) (*Service, error) {
		return r.load(ctx, recordingID, creator)
	})
	if err != nil {
		return nil, err
	}
	servicesCached.Set(float64(r.services.Size()))
	return svc, nil
}

// Lookup returns a cached service without creating one.
func (r *Registry) Lookup(recordingID string) (*Service, bool) {
	return r.services.Get(recordingID)
}

// Evict drops a cached service.
func (r *Registry) Evict(recordingID string) {
	r.services.Delete(recordingID)
	servicesCached.Set(float64(r.services.Size()))
}

// Services returns the cached services ordered by recording id.
func (r *Registry) Services() []*Service {
	out := make([]*Service, 0, r.services.Size())
	for _, svc := range r.services.All() {
		out = append(out, svc)
	}
	slices.SortFunc(out, func(a, b *Service) int { return strings.Compare(a.RecordingID, b.RecordingID) })
	return out
}

// Len returns the number of cached services.
func (r *Registry) Len() int {
	return r.services.Size()
}

// Close stops the cache's expiry timer.
func (r *Registry) Close() {
	r.services.Stop()
}

func (r *Registry) report(recordingID string, phase Phase, detail string) {
	logger.Debug().
		Str("recording_id", recordingID).
		Str("phase", string(phase)).
		Str("detail", detail).
		Msg("storage service creation")
	if r.progress != nil {
		r.progress(recordingID, phase, detail)
	}
}

func (r *Registry) load(ctx context.Context, recordingID, creator string) (*Service, error) {
	rec, err := r.store.GetRecord(ctx, recordingID)
	switch {
	case errors.Is(err, metastore.ErrRecordNotFound):
		rec = nil
	case err != nil:
		return nil, types.PersistenceError(err, "load recording %s", recordingID)
	}

	if rec != nil && rec.HasStorageService() {
		svc, err := r.restore(ctx, rec, creator)
		if svc != nil || err != nil {
			return svc, err
		}
	}

	svc, err := r.create(ctx, recordingID, creator)
	if err != nil {
		registryCreations.WithLabelValues("error").Inc()
		return nil, err
	}
	registryCreations.WithLabelValues("success").Inc()

	if rec == nil {
		rec = &types.Recording{ID: recordingID, Creator: creator, CreatedAt: svc.CreatedAt}
	} else {
		// Header only; stored chunks are kept.
		rec = &types.Recording{ID: rec.ID, Creator: firstNonEmpty(rec.Creator, creator), CreatedAt: rec.CreatedAt}
	}
	rec.ProofSetID = svc.ProofSetID
	rec.ProviderID = svc.ProviderID
	if err := r.store.SaveRecord(ctx, rec); err != nil {
		return nil, types.PersistenceError(err, "save storage binding for %s", recordingID)
	}

	r.report(recordingID, PhaseReady, svc.ProofSetID)
	return svc, nil
}

// restore rebuilds a persisted binding. A proof set that is no longer live
// yields (nil, nil) so the caller creates a new one.
func (r *Registry) restore(ctx context.Context, rec *types.Recording, creator string) (*Service, error) {
	live, err := r.net.ProofSetLive(ctx, rec.ProofSetID)
	if err != nil && !errors.Is(err, network.ErrUnknownProofSet) {
		return nil, types.StorageServiceCreationError(err, "verify persisted proof set %s", rec.ProofSetID)
	}
	if err != nil || !live {
		logger.Warn().
			Str("recording_id", rec.ID).
			Str("proof_set_id", rec.ProofSetID).
			Msg("persisted proof set is gone, creating a new one")
		return nil, nil
	}

	registryRestores.Inc()
	logger.Info().
		Str("recording_id", rec.ID).
		Str("proof_set_id", rec.ProofSetID).
		Str("provider_id", rec.ProviderID).
		Msg("restored storage service")

	return &Service{
		RecordingID:     rec.ID,
		Creator:         firstNonEmpty(rec.Creator, creator),
		ProofSetID:      rec.ProofSetID,
		ProviderID:      rec.ProviderID,
		CreatedAt:       rec.CreatedAt,
		Restored:        true,
		net:             r.net,
		gatewayTemplate: r.cfg.GatewayTemplate,
	}, nil
}

func (r *Registry) create(ctx context.Context, recordingID, creator string) (*Service, error) {
	start := time.Now()
	defer func() { creationDuration.Observe(time.Since(start).Seconds()) }()

	r.report(recordingID, PhaseSelectProvider, creator)
	provider, err := r.net.SelectProvider(ctx, creator)
	if err != nil {
		return nil, types.StorageServiceCreationError(err, "select provider for %s", recordingID)
	}

	r.report(recordingID, PhaseResolveProofSet, provider.ID)
	ps, err := r.net.ResolveProofSet(ctx, provider.ID, recordingID)
	if err != nil {
		return nil, types.StorageServiceCreationError(err, "resolve proof set on provider %s", provider.ID)
	}

	r.report(recordingID, PhaseVerifyProofSet, ps.ID)
	live, err := r.net.ProofSetLive(ctx, ps.ID)
	if err != nil {
		return nil, types.StorageServiceCreationError(err, "verify proof set %s", ps.ID)
	}
	if !live {
		return nil, types.StorageServiceCreationError(
			fmt.Errorf("proof set %s is not live", ps.ID), "verify proof set %s", ps.ID)
	}

	logger.Info().
		Str("recording_id", recordingID).
		Str("provider_id", provider.ID).
		Str("proof_set_id", ps.ID).
		Bool("created", ps.Created).
		Dur("elapsed", time.Since(start)).
		Msg("storage service created")

	return &Service{
		RecordingID:     recordingID,
		Creator:         creator,
		ProofSetID:      ps.ID,
		ProviderID:      provider.ID,
		CreatedAt:       time.Now(),
		net:             r.net,
		gatewayTemplate: r.cfg.GatewayTemplate,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
