// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

// Package payment manages the funded identity's standing with the storage
// marketplace: escrowed funds and the service approval that lets providers
// draw from them.
package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/network"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/filecoin-project/go-state-types/big"
	"golang.org/x/sync/singleflight"
)

// Settings is the string form of Config read from flags and files.
// Amounts are integer attoFIL.
type Settings struct {
	Service            string        `mapstructure:"service"`
	MinEscrow          string        `mapstructure:"min_escrow"`
	DepositAmount      string        `mapstructure:"deposit_amount"`
	MinRateAllowance   string        `mapstructure:"min_rate_allowance"`
	MinLockupAllowance string        `mapstructure:"min_lockup_allowance"`
	InitTimeout        time.Duration `mapstructure:"init_timeout"`
}

// Config holds the thresholds the session enforces.
type Config struct {
	// Service is the marketplace service to approve.
	Service string

	// A deposit of DepositAmount is made when escrow is below MinEscrow.
	MinEscrow     big.Int
	DepositAmount big.Int

	// The service is (re)approved when either allowance is below these.
	MinRateAllowance   big.Int
	MinLockupAllowance big.Int

	// InitTimeout bounds a shared initialization (default 5m).
	InitTimeout time.Duration
}

// Parse converts Settings into a Config.
func (s Settings) Parse() (Config, error) {
	cfg := Config{Service: s.Service, InitTimeout: s.InitTimeout}
	fields := []struct {
		name string
		raw  string
		dst  *big.Int
	}{
		{"min_escrow", s.MinEscrow, &cfg.MinEscrow},
		{"deposit_amount", s.DepositAmount, &cfg.DepositAmount},
		{"min_rate_allowance", s.MinRateAllowance, &cfg.MinRateAllowance},
		{"min_lockup_allowance", s.MinLockupAllowance, &cfg.MinLockupAllowance},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			*f.dst = big.Zero()
			continue
		}
		v, err := big.FromString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("payment %s %q: %w", f.name, raw, err)
		}
		if v.Sign() < 0 {
			return Config{}, fmt.Errorf("payment %s must not be negative", f.name)
		}
		*f.dst = v
	}
	if cfg.MinEscrow.GreaterThan(big.Zero()) && cfg.DepositAmount.IsZero() {
		cfg.DepositAmount = cfg.MinEscrow
	}
	return cfg, nil
}

// State is a snapshot for diagnostics.
type State struct {
	Initialized   bool      `json:"initialized"`
	InitializedAt time.Time `json:"initialized_at,omitzero"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
}

// Session ensures the identity is funded and approved before the first
// upload. It is created once per process and shared by all uploads.
type Session struct {
	ledger network.Ledger
	cfg    Config

	group       singleflight.Group
	initialized atomic.Bool

	mu    sync.Mutex
	state State
}

// NewSession creates an uninitialized session.
func NewSession(ledger network.Ledger, cfg Config) *Session {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 5 * time.Minute
	}
	if cfg.Service == "" {
		cfg.Service = "warm-storage"
	}
	for _, v := range []*big.Int{&cfg.MinEscrow, &cfg.DepositAmount, &cfg.MinRateAllowance, &cfg.MinLockupAllowance} {
		if v.Int == nil {
			*v = big.Zero()
		}
	}
	return &Session{ledger: ledger, cfg: cfg}
}

// Initialized reports whether Ensure has succeeded.
func (s *Session) Initialized() bool {
	return s.initialized.Load()
}

// State returns a diagnostics snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ensure makes sure the session is initialized. Concurrent first callers
// share one initialization; a failed attempt leaves the session
// uninitialized so the next call retries. Once initialized, Ensure is a
// no-op.
//
// The shared attempt runs detached from any single caller's context, so one
// caller giving up does not fail the others.
func (s *Session) Ensure(ctx context.Context) error {
	if s.initialized.Load() {
		return nil
	}

	ch := s.group.DoChan("ensure", func() (any, error) {
		if s.initialized.Load() {
			return nil, nil
		}
		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.InitTimeout)
		defer cancel()

		err := s.initialize(initCtx)
		s.finish(err)
		return nil, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return types.InitializationError(res.Err, "payment session")
		}
		return nil
	case <-ctx.Done():
		return types.InitializationError(ctx.Err(), "payment session")
	}
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Attempts++
	if err != nil {
		s.state.LastError = err.Error()
		sessionInits.WithLabelValues("error").Inc()
		return
	}
	s.state.LastError = ""
	s.state.Initialized = true
	s.state.InitializedAt = time.Now()
	s.initialized.Store(true)
	sessionInits.WithLabelValues("success").Inc()
}

func (s *Session) initialize(ctx context.Context) error {
	log := logger.Component("payment")

	bal, err := s.ledger.Balances(ctx)
	if err != nil {
		return fmt.Errorf("read balances: %w", err)
	}

	if bal.Escrow.LessThan(s.cfg.MinEscrow) {
		log.Info().
			Str("escrow", bal.Escrow.String()).
			Str("min_escrow", s.cfg.MinEscrow.String()).
			Str("deposit", s.cfg.DepositAmount.String()).
			Msg("escrow below minimum, depositing")

		hash, err := s.ledger.Deposit(ctx, s.cfg.DepositAmount)
		if err := s.await(ctx, "deposit", hash, err); err != nil {
			return err
		}
	}

	if !bal.ServiceApproved ||
		bal.RateAllowance.LessThan(s.cfg.MinRateAllowance) ||
		bal.LockupAllowance.LessThan(s.cfg.MinLockupAllowance) {
		log.Info().
			Str("service", s.cfg.Service).
			Bool("approved", bal.ServiceApproved).
			Str("rate_allowance", s.cfg.MinRateAllowance.String()).
			Str("lockup_allowance", s.cfg.MinLockupAllowance.String()).
			Msg("approving storage service")

		hash, err := s.ledger.ApproveService(ctx, network.Approval{
			Service:         s.cfg.Service,
			RateAllowance:   big.Max(bal.RateAllowance, s.cfg.MinRateAllowance),
			LockupAllowance: big.Max(bal.LockupAllowance, s.cfg.MinLockupAllowance),
		})
		if err := s.await(ctx, "approve", hash, err); err != nil {
			return err
		}
	}

	log.Info().Msg("payment session ready")
	return nil
}

// await waits for a submitted transaction and records the outcome.
func (s *Session) await(ctx context.Context, kind, hash string, submitErr error) error {
	if submitErr != nil {
		transactions.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("submit %s: %w", kind, submitErr)
	}
	receipt, err := s.ledger.WaitTx(ctx, hash)
	if err != nil {
		transactions.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("wait for %s %s: %w", kind, hash, err)
	}
	transactions.WithLabelValues(kind, "success").Inc()
	logger.Debug().Str("tx", receipt.Hash).Int64("height", receipt.Height).Msgf("%s confirmed", kind)
	return nil
}

// Balances is an informational read of the ledger position.
func (s *Session) Balances(ctx context.Context) (network.Balances, error) {
	return s.ledger.Balances(ctx)
}

// Preflight checks that the marketplace would accept an upload of size
// bytes.
func (s *Session) Preflight(ctx context.Context, size int64) error {
	res, err := s.ledger.Preflight(ctx, size)
	if err != nil {
		return types.InsufficientAllowanceError(err, "preflight check for %d bytes", size)
	}
	if !res.Sufficient {
		preflightRejections.Inc()
		return types.InsufficientAllowanceError(nil, "preflight rejected %d bytes: %s",
			size, strings.Join(res.Reasons, "; "))
	}
	return nil
}
