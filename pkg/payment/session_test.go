// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/network"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() Config {
	return Config{
		Service:            "warm-storage",
		MinEscrow:          big.NewInt(1000),
		DepositAmount:      big.NewInt(5000),
		MinRateAllowance:   big.NewInt(10),
		MinLockupAllowance: big.NewInt(2000),
	}
}

func TestSession_ConcurrentEnsureInitializesOnce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := network.DefaultSimulatorConfig()
		cfg.TxDelay = 100 * time.Millisecond
		sim := network.NewSimulator(cfg)
		session := NewSession(sim, testConfig())

		var wg sync.WaitGroup
		errs := make([]error, 16)
		for i := range errs {
			wg.Go(func() {
				errs[i] = session.Ensure(context.Background())
			})
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.True(t, session.Initialized())
		assert.Equal(t, 1, sim.Stats().Deposits)
		assert.Equal(t, 1, sim.Stats().Approvals)

		// Later calls are no-ops.
		require.NoError(t, session.Ensure(context.Background()))
		assert.Equal(t, 1, sim.Stats().Deposits)
		assert.Equal(t, 1, session.State().Attempts)

		bal, err := sim.Balances(context.Background())
		require.NoError(t, err)
		assert.True(t, bal.Escrow.Equals(big.NewInt(5000)))
		assert.True(t, bal.LockupAllowance.Equals(big.NewInt(2000)))
	})
}

func TestSession_AlreadyFunded(t *testing.T) {
	ctx := context.Background()

	cfg := network.DefaultSimulatorConfig()
	cfg.TxDelay = 0
	cfg.InitialEscrow = big.NewInt(10_000)
	sim := network.NewSimulator(cfg)
	_, err := sim.ApproveService(ctx, network.Approval{
		RateAllowance:   big.NewInt(50),
		LockupAllowance: big.NewInt(50_000),
	})
	require.NoError(t, err)

	session := NewSession(sim, testConfig())
	require.NoError(t, session.Ensure(ctx))

	assert.Equal(t, 0, sim.Stats().Deposits)
	assert.Equal(t, 1, sim.Stats().Approvals, "only the setup approval")
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Balances(ctx context.Context) (network.Balances, error) {
	args := m.Called(ctx)
	return args.Get(0).(network.Balances), args.Error(1)
}

func (m *mockLedger) Deposit(ctx context.Context, amount big.Int) (string, error) {
	args := m.Called(ctx, amount)
	return args.String(0), args.Error(1)
}

func (m *mockLedger) ApproveService(ctx context.Context, approval network.Approval) (string, error) {
	args := m.Called(ctx, approval)
	return args.String(0), args.Error(1)
}

func (m *mockLedger) WaitTx(ctx context.Context, hash string) (network.TxReceipt, error) {
	args := m.Called(ctx, hash)
	return args.Get(0).(network.TxReceipt), args.Error(1)
}

func (m *mockLedger) Preflight(ctx context.Context, size int64) (network.PreflightResult, error) {
	args := m.Called(ctx, size)
	return args.Get(0).(network.PreflightResult), args.Error(1)
}

func fundedBalances() network.Balances {
	return network.Balances{
		Wallet:          big.NewInt(0),
		Escrow:          big.NewInt(1_000_000),
		ServiceApproved: true,
		RateAllowance:   big.NewInt(100),
		LockupAllowance: big.NewInt(100_000),
		LockupUsed:      big.Zero(),
	}
}

func TestSession_FailureThenRetry(t *testing.T) {
	ctx := context.Background()
	ledger := &mockLedger{}
	rpcDown := errors.New("gateway unreachable")

	ledger.On("Balances", mock.Anything).Return(network.Balances{}, rpcDown).Once()
	ledger.On("Balances", mock.Anything).Return(fundedBalances(), nil).Once()

	session := NewSession(ledger, testConfig())

	err := session.Ensure(ctx)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInitialization))
	assert.ErrorIs(t, err, rpcDown)
	assert.False(t, session.Initialized())
	assert.Contains(t, session.State().LastError, "gateway unreachable")

	require.NoError(t, session.Ensure(ctx))
	assert.True(t, session.Initialized())
	assert.Equal(t, 2, session.State().Attempts)
	ledger.AssertExpectations(t)
}

func TestSession_DepositTxFails(t *testing.T) {
	ctx := context.Background()
	ledger := &mockLedger{}

	bal := fundedBalances()
	bal.Escrow = big.NewInt(1)
	ledger.On("Balances", mock.Anything).Return(bal, nil)
	ledger.On("Deposit", mock.Anything, big.NewInt(5000)).Return("0xabc", nil)
	ledger.On("WaitTx", mock.Anything, "0xabc").Return(network.TxReceipt{Hash: "0xabc"}, network.ErrTxFailed)

	session := NewSession(ledger, testConfig())
	err := session.Ensure(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, network.ErrTxFailed)
	assert.False(t, session.Initialized())
	ledger.AssertNotCalled(t, "ApproveService", mock.Anything, mock.Anything)
}

func TestSession_CallerCancelDoesNotFailOthers(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := network.DefaultSimulatorConfig()
		cfg.TxDelay = time.Second
		sim := network.NewSimulator(cfg)
		session := NewSession(sim, testConfig())

		impatient, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		var wg sync.WaitGroup
		var impatientErr, patientErr error
		wg.Go(func() { impatientErr = session.Ensure(impatient) })
		wg.Go(func() { patientErr = session.Ensure(context.Background()) })
		wg.Wait()

		assert.ErrorIs(t, impatientErr, context.DeadlineExceeded)
		assert.True(t, types.IsCode(impatientErr, types.ErrCodeInitialization))
		assert.NoError(t, patientErr)
		assert.True(t, session.Initialized())
	})
}

func TestSession_Preflight(t *testing.T) {
	ctx := context.Background()

	cfg := network.DefaultSimulatorConfig()
	cfg.TxDelay = 0
	cfg.PricePerByte = big.NewInt(1)
	sim := network.NewSimulator(cfg)

	session := NewSession(sim, testConfig())
	require.NoError(t, session.Ensure(ctx))

	assert.NoError(t, session.Preflight(ctx, 1000))

	err := session.Preflight(ctx, 3000)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInsufficientAllowance))
	assert.Contains(t, err.Error(), "lockup allowance")

	sim.SetPreflightError(errors.New("rpc timeout"))
	err = session.Preflight(ctx, 10)
	assert.True(t, types.IsCode(err, types.ErrCodeInsufficientAllowance))
}

func TestSettings_Parse(t *testing.T) {
	cfg, err := Settings{
		MinEscrow:          "1000000000000000000",
		MinRateAllowance:   "5",
		MinLockupAllowance: " 7 ",
	}.Parse()
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", cfg.MinEscrow.String())
	assert.True(t, cfg.DepositAmount.Equals(cfg.MinEscrow), "deposit defaults to the minimum")
	assert.True(t, cfg.MinLockupAllowance.Equals(big.NewInt(7)))

	_, err = Settings{MinEscrow: "lots"}.Parse()
	assert.Error(t, err)

	_, err = Settings{DepositAmount: "-1"}.Parse()
	assert.Error(t, err)
}
