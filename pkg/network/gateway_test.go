package network

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_RoundTrip(t *testing.T) {
	sim := NewSimulator(fastConfig())
	srv := httptest.NewServer(NewGatewayHandler(sim))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gw, err := DialGateway(ctx, GatewayConfig{
		Addr:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		CallTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer gw.Close()

	hash, err := gw.Deposit(ctx, big.NewInt(250))
	require.NoError(t, err)
	receipt, err := gw.WaitTx(ctx, hash)
	require.NoError(t, err)
	assert.True(t, receipt.Success)

	bal, err := gw.Balances(ctx)
	require.NoError(t, err)
	assert.True(t, bal.Escrow.Equals(big.NewInt(250)))

	prov, err := gw.SelectProvider(ctx, "creator")
	require.NoError(t, err)
	ps, err := gw.ResolveProofSet(ctx, prov.ID, "rec-gw")
	require.NoError(t, err)

	up, err := gw.Upload(ctx, ps.ID, []byte("over the wire"))
	require.NoError(t, err)
	stored, ok := sim.Get(up.ContentID)
	require.True(t, ok)
	assert.Equal(t, "over the wire", string(stored))

	events, err := gw.Confirmations(ctx, ps.ID, up.ContentID)
	require.NoError(t, err)
	var last types.Stage
	for ev := range events {
		last = ev.Stage
	}
	assert.Equal(t, types.StageRootConfirmed, last)
}

func TestGateway_ErrorsPropagate(t *testing.T) {
	sim := NewSimulator(fastConfig())
	srv := httptest.NewServer(NewGatewayHandler(sim))
	defer srv.Close()

	ctx := context.Background()
	gw, err := DialGateway(ctx, GatewayConfig{Addr: srv.URL})
	require.NoError(t, err)
	defer gw.Close()

	_, err = gw.Upload(ctx, "no-such-proof-set", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrUnknownProofSet.Error())
}

func TestDialGateway_RequiresAddr(t *testing.T) {
	_, err := DialGateway(context.Background(), GatewayConfig{})
	assert.Error(t, err)
}
