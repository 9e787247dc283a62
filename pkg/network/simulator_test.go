// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/contentid"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() SimulatorConfig {
	cfg := DefaultSimulatorConfig()
	cfg.TxDelay = 0
	cfg.RegisterDelay = 0
	cfg.ConfirmDelay = 0
	return cfg
}

func TestSimulator_DepositAndApprove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sim := NewSimulator(fastConfig())

	hash, err := sim.Deposit(ctx, big.NewInt(500))
	require.NoError(t, err)
	receipt, err := sim.WaitTx(ctx, hash)
	require.NoError(t, err)
	assert.True(t, receipt.Success)

	hash, err = sim.ApproveService(ctx, Approval{
		Service:         "warm-storage",
		RateAllowance:   big.NewInt(10),
		LockupAllowance: big.NewInt(1000),
	})
	require.NoError(t, err)
	_, err = sim.WaitTx(ctx, hash)
	require.NoError(t, err)

	bal, err := sim.Balances(ctx)
	require.NoError(t, err)
	assert.True(t, bal.Escrow.Equals(big.NewInt(500)))
	assert.True(t, bal.Wallet.Equals(big.NewInt(1_000_000_000-500)))
	assert.True(t, bal.ServiceApproved)
	assert.Equal(t, SimulatorStats{Deposits: 1, Approvals: 1}, sim.Stats())
}

func TestSimulator_DepositErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := fastConfig()
	cfg.InitialWallet = big.NewInt(10)
	sim := NewSimulator(cfg)

	_, err := sim.Deposit(ctx, big.NewInt(11))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = sim.WaitTx(ctx, "0xdeadbeef")
	assert.ErrorIs(t, err, ErrUnknownTx)

	sim.SetFailTransactions(true)
	hash, err := sim.Deposit(ctx, big.NewInt(5))
	require.NoError(t, err)
	receipt, err := sim.WaitTx(ctx, hash)
	assert.ErrorIs(t, err, ErrTxFailed)
	assert.False(t, receipt.Success)

	bal, _ := sim.Balances(ctx)
	assert.True(t, bal.Escrow.IsZero(), "failed transaction must not move funds")
}

func TestSimulator_Preflight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := fastConfig()
	cfg.PricePerByte = big.NewInt(2)
	sim := NewSimulator(cfg)

	res, err := sim.Preflight(ctx, 100)
	require.NoError(t, err)
	assert.False(t, res.Sufficient)
	assert.True(t, res.RequiredLockup.Equals(big.NewInt(200)))
	assert.Len(t, res.Reasons, 3)

	_, err = sim.Deposit(ctx, big.NewInt(1000))
	require.NoError(t, err)
	_, err = sim.ApproveService(ctx, Approval{RateAllowance: big.NewInt(1), LockupAllowance: big.NewInt(1000)})
	require.NoError(t, err)

	res, err = sim.Preflight(ctx, 100)
	require.NoError(t, err)
	assert.True(t, res.Sufficient)
	assert.Empty(t, res.Reasons)
}

func TestSimulator_UploadAndConfirm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sim := NewSimulator(fastConfig())

	prov, err := sim.SelectProvider(ctx, "creator")
	require.NoError(t, err)
	ps, err := sim.ResolveProofSet(ctx, prov.ID, "rec-1")
	require.NoError(t, err)
	assert.True(t, ps.Created)

	live, err := sim.ProofSetLive(ctx, ps.ID)
	require.NoError(t, err)
	assert.True(t, live)

	data := []byte("audio bytes")
	receipt, err := sim.Upload(ctx, ps.ID, data)
	require.NoError(t, err)
	assert.NoError(t, contentid.Verify(receipt.ContentID, data))
	assert.Equal(t, int64(len(data)), receipt.Size)

	got, ok := sim.Get(receipt.ContentID)
	require.True(t, ok)
	assert.Equal(t, data, got)

	events, err := sim.Confirmations(ctx, ps.ID, receipt.ContentID)
	require.NoError(t, err)

	var stages []types.Stage
	var rootID string
	for ev := range events {
		stages = append(stages, ev.Stage)
		if ev.RootID != "" {
			rootID = ev.RootID
		}
	}
	assert.Equal(t, []types.Stage{types.StageUploaded, types.StageRootRegistered, types.StageRootConfirmed}, stages)
	assert.NotEmpty(t, rootID)
}

func TestSimulator_FinalStage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := fastConfig()
	cfg.FinalStage = types.StageRootRegistered
	sim := NewSimulator(cfg)

	ps, err := sim.ResolveProofSet(ctx, "f01000", "rec")
	require.NoError(t, err)
	events, err := sim.Confirmations(ctx, ps.ID, "cid")
	require.NoError(t, err)

	var last types.Stage
	for ev := range events {
		last = ev.Stage
	}
	assert.Equal(t, types.StageRootRegistered, last)
}

func TestSimulator_ConfirmationsStopOnCancel(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.RegisterDelay = time.Hour
	sim := NewSimulator(cfg)

	ps, err := sim.ResolveProofSet(context.Background(), "f01000", "rec")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := sim.Confirmations(ctx, ps.ID, "cid")
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, types.StageUploaded, ev.Stage)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("confirmation stream did not close after cancel")
	}
}

func TestSimulator_FaultInjection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sim := NewSimulator(fastConfig())
	boom := errors.New("provider offline")

	sim.SetProviderError(boom)
	_, err := sim.SelectProvider(ctx, "c")
	assert.ErrorIs(t, err, boom)
	sim.SetProviderError(nil)

	sim.SetProofSetError(boom)
	_, err = sim.ResolveProofSet(ctx, "f01000", "rec")
	assert.ErrorIs(t, err, boom)
	sim.SetProofSetError(nil)

	ps, err := sim.ResolveProofSet(ctx, "f01000", "rec")
	require.NoError(t, err)

	sim.SetUploadHook(func(string, []byte) error { return boom })
	_, err = sim.Upload(ctx, ps.ID, []byte("x"))
	assert.ErrorIs(t, err, boom)

	_, err = sim.Upload(ctx, "missing", []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownProofSet)

	sim.KillProofSet(ps.ID)
	live, err := sim.ProofSetLive(ctx, ps.ID)
	require.NoError(t, err)
	assert.False(t, live)
}
