// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

// Package pinning provides the secondary storage path: content pinned on a
// public IPFS pinning service when the proof-backed network is unavailable.
// All backends implement Pinner.
package pinning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrNotConfigured is returned by New when no backend is selected.
	ErrNotConfigured = errors.New("no pinning backend configured")
	// ErrNoCredential means the backend has no credential to pin with.
	ErrNoCredential = errors.New("pinning credential not configured")
	// ErrCredentialExpired means the credential's expiry has passed.
	ErrCredentialExpired = errors.New("pinning credential expired")

	// ErrNoContentID means the bucket stored the object without reporting
	// a CID, so it is not retrievable by content address.
	ErrNoContentID = errors.New("pinning backend returned no content id")
)

// Tag keys attached to every pin.
const (
	TagRecordingID = "recording_id"
	TagChunkID     = "chunk_id"
	TagProvenance  = "provenance"
)

// Config selects and configures a pinning backend.
type Config struct {
	Backend string `mapstructure:"backend"`

	// Credential is the bearer token for HTTP pinning services.
	Credential string `mapstructure:"credential"`
	Endpoint   string `mapstructure:"endpoint"`

	// GatewayTemplate builds retrieval URLs; "{cid}" is replaced by the
	// content id.
	GatewayTemplate string `mapstructure:"gateway_template"`

	// S3-compatible pinning buckets.
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// RateLimit is pins per second across all callers (0 = unlimited).
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// PinRequest is one object to pin.
type PinRequest struct {
	Name string
	Data []byte
	Tags map[string]string
}

// PinResult describes a stored pin.
type PinResult struct {
	ContentID string
	Size      int64
	// Checksum is the CRC-64/NVME of the pinned bytes.
	Checksum uint64
	PinnedAt time.Time
}

// Pinner stores content on a pinning service.
type Pinner interface {
	Name() string
	Pin(ctx context.Context, req PinRequest) (PinResult, error)
	GatewayURL(contentID string) string
	Close() error
}

// Factory creates a Pinner from config.
type Factory func(cfg Config) (Pinner, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a factory for a backend name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New creates the configured Pinner, rate limited and instrumented.
func New(cfg Config) (Pinner, error) {
	if cfg.Backend == "" {
		return nil, ErrNotConfigured
	}

	registryMu.RLock()
	f, ok := registry[cfg.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown pinning backend: %s", cfg.Backend)
	}

	p, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s pinner: %w", cfg.Backend, err)
	}
	return Wrap(p, cfg.RateLimit, cfg.Burst), nil
}

// Wrap adds the shared rate limiter and metrics to p.
func Wrap(p Pinner, perSecond float64, burst int) Pinner {
	w := &limited{Pinner: p}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return w
}

type limited struct {
	Pinner
	limiter *rate.Limiter
}

func (l *limited) Pin(ctx context.Context, req PinRequest) (PinResult, error) {
	backend := l.Pinner.Name()
	if l.limiter != nil {
		start := time.Now()
		if err := l.limiter.Wait(ctx); err != nil {
			pinsTotal.WithLabelValues(backend, "rate_limited").Inc()
			return PinResult{}, fmt.Errorf("pin rate limit: %w", err)
		}
		rateLimitWait.Observe(time.Since(start).Seconds())
	}

	start := time.Now()
	res, err := l.Pinner.Pin(ctx, req)
	pinDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	if err != nil {
		pinsTotal.WithLabelValues(backend, "error").Inc()
		return PinResult{}, err
	}
	pinsTotal.WithLabelValues(backend, "success").Inc()
	pinBytes.WithLabelValues(backend).Add(float64(res.Size))
	return res, nil
}

// Unwrap returns the backend behind the limiter.
func (l *limited) Unwrap() Pinner {
	return l.Pinner
}
