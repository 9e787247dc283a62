package storage

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/contentid"
	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	"github.com/LeeDigitalWorks/rtastore/pkg/network"
	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, cfg network.SimulatorConfig) (*Service, *network.Simulator) {
	t.Helper()
	sim := network.NewSimulator(cfg)
	reg := NewRegistry(t.Context(), sim, metastore.NewMemoryStore(), Config{GatewayTemplate: testGateway})
	svc, err := reg.GetOrCreate(t.Context(), "rec-svc", "frank")
	require.NoError(t, err)
	return svc, sim
}

func TestService_UploadConfirmed(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := network.DefaultSimulatorConfig()
		svc, sim := newService(t, cfg)

		data := []byte("sixty seconds of audio")
		up, err := svc.Upload(t.Context(), data)
		require.NoError(t, err)
		defer up.Close()

		assert.NoError(t, contentid.Verify(up.ContentID, data))
		assert.Equal(t, "https://rta.calibration.example.net/"+up.ContentID, up.GatewayURL)

		conf := AwaitConfirmation(t.Context(), up, 5*time.Second)
		assert.Equal(t, types.StageRootConfirmed, conf.Stage)
		assert.NotEmpty(t, conf.RootID)
		assert.False(t, conf.TimedOut)

		_, ok := sim.Get(up.ContentID)
		assert.True(t, ok)
	})
}

func TestAwaitConfirmation_GraceKeepsRegisteredRoot(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := network.DefaultSimulatorConfig()
		cfg.RegisterDelay = 100 * time.Millisecond
		cfg.ConfirmDelay = time.Hour
		svc, _ := newService(t, cfg)

		up, err := svc.Upload(t.Context(), []byte("chunk"))
		require.NoError(t, err)

		conf := AwaitConfirmation(t.Context(), up, time.Second)
		up.Close()

		assert.Equal(t, types.StageRootRegistered, conf.Stage)
		assert.NotEmpty(t, conf.RootID, "registered root is used when confirmation is late")
		assert.True(t, conf.TimedOut)
	})
}

func TestAwaitConfirmation_StreamEndsAtUploaded(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := network.DefaultSimulatorConfig()
		cfg.FinalStage = types.StageUploaded
		svc, _ := newService(t, cfg)

		up, err := svc.Upload(t.Context(), []byte("chunk"))
		require.NoError(t, err)
		defer up.Close()

		conf := AwaitConfirmation(t.Context(), up, time.Minute)
		assert.Equal(t, types.StageUploaded, conf.Stage)
		assert.Empty(t, conf.RootID)
		assert.False(t, conf.TimedOut)
	})
}

func TestAwaitConfirmation_Reduction(t *testing.T) {
	t.Parallel()

	events := make(chan network.StageEvent, 4)
	events <- network.StageEvent{Stage: types.StageRootRegistered, RootID: "r-reg"}
	events <- network.StageEvent{Stage: types.StageUploaded}
	events <- network.StageEvent{Stage: types.StageRootConfirmed, Error: "provider hiccup"}
	events <- network.StageEvent{Stage: types.StageRootConfirmed, RootID: "r-conf"}

	conf := AwaitConfirmation(context.Background(), &Upload{Events: events}, time.Minute)
	assert.Equal(t, types.StageRootConfirmed, conf.Stage)
	assert.Equal(t, "r-conf", conf.RootID)

	assert.Equal(t, types.StageUploaded, AwaitConfirmation(context.Background(), &Upload{}, time.Second).Stage)
	assert.Equal(t, types.StageUploaded, AwaitConfirmation(context.Background(), nil, time.Second).Stage)
}

func TestService_UploadError(t *testing.T) {
	cfg := network.DefaultSimulatorConfig()
	cfg.TxDelay, cfg.RegisterDelay, cfg.ConfirmDelay = 0, 0, 0
	svc, sim := newService(t, cfg)

	sim.SetUploadHook(func(string, []byte) error { return assert.AnError })
	_, err := svc.Upload(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeUpload))
	assert.ErrorIs(t, err, assert.AnError)
}
