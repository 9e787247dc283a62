// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/contentid"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"
	"github.com/LeeDigitalWorks/rtastore/pkg/utils"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/google/uuid"
)

// SimulatorConfig configures the in-process network.
type SimulatorConfig struct {
	// Funds available to the identity before any deposit.
	InitialWallet big.Int
	InitialEscrow big.Int

	// PricePerByte is the lockup required per uploaded byte.
	PricePerByte big.Int

	Providers []Provider

	// TxDelay is how long WaitTx blocks before a transaction is final.
	TxDelay time.Duration

	// Delays between the upload and each later confirmation stage.
	RegisterDelay time.Duration
	ConfirmDelay  time.Duration

	// FinalStage is the last stage Confirmations emits (default root-confirmed).
	FinalStage types.Stage
}

// DefaultSimulatorConfig returns a funded identity with one provider and
// fast confirmations.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		InitialWallet: big.NewInt(1_000_000_000),
		InitialEscrow: big.Zero(),
		PricePerByte:  big.Zero(),
		Providers: []Provider{
			{ID: "f01000", Name: "sim-provider-1", ServiceURL: "http://localhost:0"},
		},
		TxDelay:       100 * time.Millisecond,
		RegisterDelay: 200 * time.Millisecond,
		ConfirmDelay:  500 * time.Millisecond,
		FinalStage:    types.StageRootConfirmed,
	}
}

type storedObject struct {
	data []byte
	crc  uint64
}

// SimulatorStats counts the calls that mutate network state.
type SimulatorStats struct {
	Deposits         int
	Approvals        int
	ProofSetsCreated int
	Uploads          int
}

// Simulator is an in-process Network. Content ids are real CIDs so objects
// uploaded here are addressable by the same ids the gateway would produce.
type Simulator struct {
	cfg SimulatorConfig

	mu        sync.Mutex
	balances  Balances
	txs       map[string]bool // hash -> success
	proofSets map[string]ProofSet
	dead      map[string]bool
	objects   map[string]storedObject
	roots     map[string]string // proofSet/contentID -> root id
	nextPS    int
	nextRoot  int
	nextProv  int
	stats     SimulatorStats

	// fault injection
	uploadHook   func(proofSetID string, data []byte) error
	proofSetErr  error
	providerErr  error
	preflightErr error
	failTxs      bool
}

var _ Network = (*Simulator)(nil)

// NewSimulator creates a simulator.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	def := DefaultSimulatorConfig()
	if len(cfg.Providers) == 0 {
		cfg.Providers = def.Providers
	}
	if cfg.FinalStage == types.StageNone {
		cfg.FinalStage = types.StageRootConfirmed
	}
	cfg.InitialWallet = orZero(cfg.InitialWallet)
	cfg.InitialEscrow = orZero(cfg.InitialEscrow)
	cfg.PricePerByte = orZero(cfg.PricePerByte)

	return &Simulator{
		cfg: cfg,
		balances: Balances{
			Wallet:          cfg.InitialWallet,
			Escrow:          cfg.InitialEscrow,
			RateAllowance:   big.Zero(),
			LockupAllowance: big.Zero(),
			LockupUsed:      big.Zero(),
		},
		txs:       make(map[string]bool),
		proofSets: make(map[string]ProofSet),
		dead:      make(map[string]bool),
		objects:   make(map[string]storedObject),
		roots:     make(map[string]string),
	}
}

func orZero(v big.Int) big.Int {
	if v.Int == nil {
		return big.Zero()
	}
	return v
}

func (s *Simulator) newTx(success bool) string {
	hash := fmt.Sprintf("0x%x", utils.Sha256Sum([]byte(uuid.NewString())))
	s.txs[hash] = success
	return hash
}

func (s *Simulator) Balances(ctx context.Context) (Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances, nil
}

func (s *Simulator) Deposit(ctx context.Context, amount big.Int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	amount = orZero(amount)
	if s.balances.Wallet.LessThan(amount) {
		return "", fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, s.balances.Wallet, amount)
	}
	s.stats.Deposits++
	if !s.failTxs {
		s.balances.Wallet = big.Sub(s.balances.Wallet, amount)
		s.balances.Escrow = big.Add(s.balances.Escrow, amount)
	}
	return s.newTx(!s.failTxs), nil
}

func (s *Simulator) ApproveService(ctx context.Context, approval Approval) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Approvals++
	if !s.failTxs {
		s.balances.ServiceApproved = true
		s.balances.RateAllowance = orZero(approval.RateAllowance)
		s.balances.LockupAllowance = orZero(approval.LockupAllowance)
	}
	return s.newTx(!s.failTxs), nil
}

func (s *Simulator) WaitTx(ctx context.Context, hash string) (TxReceipt, error) {
	s.mu.Lock()
	success, ok := s.txs[hash]
	s.mu.Unlock()
	if !ok {
		return TxReceipt{}, fmt.Errorf("%w: %s", ErrUnknownTx, hash)
	}

	if s.cfg.TxDelay > 0 {
		timer := time.NewTimer(s.cfg.TxDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return TxReceipt{}, ctx.Err()
		case <-timer.C:
		}
	}

	receipt := TxReceipt{Hash: hash, Height: time.Now().Unix(), Success: success}
	if !success {
		return receipt, fmt.Errorf("%w: %s", ErrTxFailed, hash)
	}
	return receipt, nil
}

func (s *Simulator) Preflight(ctx context.Context, size int64) (PreflightResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.preflightErr != nil {
		return PreflightResult{}, s.preflightErr
	}

	required := big.Mul(s.cfg.PricePerByte, big.NewInt(size))
	res := PreflightResult{Sufficient: true, RequiredLockup: required}
	if !s.balances.ServiceApproved {
		res.Reasons = append(res.Reasons, "storage service not approved")
	}
	if big.Sub(s.balances.LockupAllowance, s.balances.LockupUsed).LessThan(required) {
		res.Reasons = append(res.Reasons, fmt.Sprintf("lockup allowance below required %s", required))
	}
	if big.Sub(s.balances.Escrow, s.balances.LockupUsed).LessThan(required) {
		res.Reasons = append(res.Reasons, fmt.Sprintf("escrow below required %s", required))
	}
	res.Sufficient = len(res.Reasons) == 0
	return res, nil
}

func (s *Simulator) SelectProvider(ctx context.Context, creator string) (Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.providerErr != nil {
		return Provider{}, s.providerErr
	}
	if len(s.cfg.Providers) == 0 {
		return Provider{}, ErrNoProvider
	}
	p := s.cfg.Providers[s.nextProv%len(s.cfg.Providers)]
	s.nextProv++
	return p, nil
}

func (s *Simulator) ResolveProofSet(ctx context.Context, providerID, recordingID string) (ProofSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proofSetErr != nil {
		return ProofSet{}, s.proofSetErr
	}
	s.nextPS++
	ps := ProofSet{
		ID:         fmt.Sprintf("%d", 1000+s.nextPS),
		ProviderID: providerID,
		Created:    true,
	}
	s.proofSets[ps.ID] = ps
	s.stats.ProofSetsCreated++
	return ps, nil
}

func (s *Simulator) ProofSetLive(ctx context.Context, proofSetID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proofSets[proofSetID]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownProofSet, proofSetID)
	}
	return !s.dead[proofSetID], nil
}

func (s *Simulator) Upload(ctx context.Context, proofSetID string, data []byte) (UploadReceipt, error) {
	s.mu.Lock()
	hook := s.uploadHook
	_, known := s.proofSets[proofSetID]
	s.mu.Unlock()

	if !known {
		return UploadReceipt{}, fmt.Errorf("%w: %s", ErrUnknownProofSet, proofSetID)
	}
	if hook != nil {
		if err := hook(proofSetID, data); err != nil {
			return UploadReceipt{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return UploadReceipt{}, err
	}

	id, err := contentid.String(data)
	if err != nil {
		return UploadReceipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = storedObject{data: append([]byte(nil), data...), crc: utils.Crc64nvme(data)}
	required := big.Mul(s.cfg.PricePerByte, big.NewInt(int64(len(data))))
	s.balances.LockupUsed = big.Add(s.balances.LockupUsed, required)
	s.stats.Uploads++
	return UploadReceipt{ContentID: id, Size: int64(len(data))}, nil
}

func (s *Simulator) Confirmations(ctx context.Context, proofSetID, contentID string) (<-chan StageEvent, error) {
	s.mu.Lock()
	_, known := s.proofSets[proofSetID]
	s.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProofSet, proofSetID)
	}

	ch := make(chan StageEvent, 3)
	go func() {
		defer close(ch)

		emit := func(ev StageEvent, delay time.Duration) bool {
			if delay > 0 {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return false
				case <-timer.C:
				}
			}
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(StageEvent{Stage: types.StageUploaded}, 0) || s.cfg.FinalStage < types.StageRootRegistered {
			return
		}
		rootID := s.assignRoot(proofSetID, contentID)
		if !emit(StageEvent{Stage: types.StageRootRegistered, RootID: rootID}, s.cfg.RegisterDelay) ||
			s.cfg.FinalStage < types.StageRootConfirmed {
			return
		}
		emit(StageEvent{Stage: types.StageRootConfirmed, RootID: rootID}, s.cfg.ConfirmDelay)
	}()
	return ch, nil
}

func (s *Simulator) assignRoot(proofSetID, contentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := proofSetID + "/" + contentID
	if id, ok := s.roots[key]; ok {
		return id
	}
	id := fmt.Sprintf("%d", s.nextRoot)
	s.nextRoot++
	s.roots[key] = id
	return id
}

func (s *Simulator) Close() error {
	return nil
}

// Get returns an uploaded object after checking its stored checksum.
func (s *Simulator) Get(contentID string) ([]byte, bool) {
	s.mu.Lock()
	obj, ok := s.objects[contentID]
	s.mu.Unlock()
	if !ok || utils.Crc64nvme(obj.data) != obj.crc {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Stats returns mutation counters.
func (s *Simulator) Stats() SimulatorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// SetUploadHook installs a function run before every upload; a non-nil
// error fails the upload.
func (s *Simulator) SetUploadHook(hook func(proofSetID string, data []byte) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadHook = hook
}

// SetProofSetError makes ResolveProofSet fail with err (nil clears).
func (s *Simulator) SetProofSetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proofSetErr = err
}

// SetProviderError makes SelectProvider fail with err (nil clears).
func (s *Simulator) SetProviderError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerErr = err
}

// SetPreflightError makes Preflight fail with err (nil clears).
func (s *Simulator) SetPreflightError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preflightErr = err
}

// SetFailTransactions makes subsequent deposits and approvals fail on-chain.
func (s *Simulator) SetFailTransactions(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTxs = fail
}

// KillProofSet marks a proof set as no longer live.
func (s *Simulator) KillProofSet(proofSetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead[proofSetID] = true
}
