// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	"github.com/LeeDigitalWorks/rtastore/pkg/network"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testGateway = "https://rta.calibration.example.net/{cid}"

func fastSim() *network.Simulator {
	cfg := network.DefaultSimulatorConfig()
	cfg.TxDelay = 0
	cfg.RegisterDelay = 0
	cfg.ConfirmDelay = 0
	return network.NewSimulator(cfg)
}

func TestRegistry_ConcurrentGetOrCreateCreatesOnce(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sim := fastSim()
		store := metastore.NewMemoryStore()
		// Every caller arrives while the first creation is in flight.
		reg := NewRegistry(t.Context(), &slowStorage{Storage: sim, delay: 200 * time.Millisecond}, store,
			Config{GatewayTemplate: testGateway})
		defer reg.Close()

		var wg sync.WaitGroup
		services := make([]*Service, 20)
		for i := range services {
			wg.Go(func() {
				svc, err := reg.GetOrCreate(context.Background(), "rec-p1", "alice")
				assert.NoError(t, err)
				services[i] = svc
			})
		}
		wg.Wait()

		assert.Equal(t, 1, sim.Stats().ProofSetsCreated)
		for _, svc := range services {
			assert.Same(t, services[0], svc)
		}
		assert.Equal(t, 1, reg.Len())

		rec, err := store.GetRecord(context.Background(), "rec-p1")
		require.NoError(t, err)
		assert.Equal(t, services[0].ProofSetID, rec.ProofSetID)
		assert.Equal(t, "alice", rec.Creator)
	})
}

// slowStorage delays provider selection.
type slowStorage struct {
	network.Storage
	delay time.Duration
}

func (s *slowStorage) SelectProvider(ctx context.Context, creator string) (network.Provider, error) {
	time.Sleep(s.delay)
	return s.Storage.SelectProvider(ctx, creator)
}

func TestRegistry_RestoresPersistedBinding(t *testing.T) {
	ctx := context.Background()
	sim := fastSim()
	store := metastore.NewMemoryStore()

	first := NewRegistry(ctx, sim, store, Config{GatewayTemplate: testGateway})
	svc, err := first.GetOrCreate(ctx, "rec-restart", "bob")
	require.NoError(t, err)
	assert.False(t, svc.Restored)

	// A new process shares the store but not the cache.
	second := NewRegistry(ctx, sim, store, Config{GatewayTemplate: testGateway})
	restored, err := second.GetOrCreate(ctx, "rec-restart", "")
	require.NoError(t, err)

	assert.True(t, restored.Restored)
	assert.Equal(t, svc.ProofSetID, restored.ProofSetID)
	assert.Equal(t, svc.ProviderID, restored.ProviderID)
	assert.Equal(t, "bob", restored.Creator)
	assert.Equal(t, 1, sim.Stats().ProofSetsCreated)
}

func TestRegistry_ReplacesDeadProofSet(t *testing.T) {
	ctx := context.Background()
	sim := fastSim()
	store := metastore.NewMemoryStore()

	first := NewRegistry(ctx, sim, store, Config{})
	svc, err := first.GetOrCreate(ctx, "rec-dead", "carol")
	require.NoError(t, err)

	require.NoError(t, store.AppendChunk(ctx, "rec-dead", types.Chunk{ChunkID: "rec-dead_chunk_0", ContentID: "cid-0"}))
	sim.KillProofSet(svc.ProofSetID)

	second := NewRegistry(ctx, sim, store, Config{})
	fresh, err := second.GetOrCreate(ctx, "rec-dead", "carol")
	require.NoError(t, err)
	assert.NotEqual(t, svc.ProofSetID, fresh.ProofSetID)
	assert.False(t, fresh.Restored)

	rec, err := store.GetRecord(ctx, "rec-dead")
	require.NoError(t, err)
	assert.Equal(t, fresh.ProofSetID, rec.ProofSetID)
	assert.Len(t, rec.Chunks, 1, "rebinding keeps stored chunks")
}

func TestRegistry_CreationErrorNotCached(t *testing.T) {
	ctx := context.Background()
	sim := fastSim()
	store := metastore.NewMemoryStore()
	reg := NewRegistry(ctx, sim, store, Config{})

	sim.SetProofSetError(errors.New("provider rejected proof set"))
	_, err := reg.GetOrCreate(ctx, "rec-err", "dave")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeStorageServiceCreation))
	assert.Equal(t, 0, reg.Len())

	_, err = store.GetRecord(ctx, "rec-err")
	assert.ErrorIs(t, err, metastore.ErrRecordNotFound, "nothing persisted on failure")

	sim.SetProofSetError(nil)
	svc, err := reg.GetOrCreate(ctx, "rec-err", "dave")
	require.NoError(t, err)
	assert.NotEmpty(t, svc.ProofSetID)
}

func TestRegistry_ProviderSelectionError(t *testing.T) {
	ctx := context.Background()
	sim := fastSim()
	sim.SetProviderError(network.ErrNoProvider)
	reg := NewRegistry(ctx, sim, metastore.NewMemoryStore(), Config{})

	_, err := reg.GetOrCreate(ctx, "rec", "")
	assert.True(t, types.IsCode(err, types.ErrCodeStorageServiceCreation))
	assert.ErrorIs(t, err, network.ErrNoProvider)
}

func TestRegistry_ProgressAndEvict(t *testing.T) {
	ctx := context.Background()
	sim := fastSim()

	var mu sync.Mutex
	var phases []Phase
	reg := NewRegistry(ctx, sim, metastore.NewMemoryStore(), Config{},
		WithProgress(func(_ string, phase Phase, _ string) {
			mu.Lock()
			defer mu.Unlock()
			phases = append(phases, phase)
		}))

	_, err := reg.GetOrCreate(ctx, "rec-progress", "erin")
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseSelectProvider, PhaseResolveProofSet, PhaseVerifyProofSet, PhaseReady}, phases)

	_, ok := reg.Lookup("rec-progress")
	assert.True(t, ok)
	reg.Evict("rec-progress")
	_, ok = reg.Lookup("rec-progress")
	assert.False(t, ok)
}

func TestRegistry_FirstCallerCanceledOthersGetService(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sim := fastSim()
		reg := NewRegistry(t.Context(), &slowStorage{Storage: sim, delay: time.Second}, metastore.NewMemoryStore(),
			Config{GatewayTemplate: testGateway})
		defer reg.Close()

		first, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		var firstErr, waitErr error
		var svc *Service
		var wg sync.WaitGroup
		wg.Go(func() { _, firstErr = reg.GetOrCreate(first, "rec-slow", "alice") })
		synctest.Wait()
		wg.Go(func() { svc, waitErr = reg.GetOrCreate(context.Background(), "rec-slow", "alice") })
		wg.Wait()

		assert.ErrorIs(t, firstErr, context.DeadlineExceeded)
		require.NoError(t, waitErr)
		require.NotNil(t, svc)
		assert.Equal(t, 1, sim.Stats().ProofSetsCreated)

		services := reg.Services()
		require.Len(t, services, 1)
		assert.Same(t, svc, services[0])
	})
}
