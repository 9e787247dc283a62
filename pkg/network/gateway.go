// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/logger"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/filecoin-project/go-state-types/big"
)

// Namespace is the JSON-RPC method namespace served by storage gateways.
const Namespace = "RTA"

// GatewayConfig configures the JSON-RPC gateway client.
type GatewayConfig struct {
	// Addr is the gateway endpoint. Use ws:// or wss:// so that
	// Confirmations can stream; http(s) works for everything else.
	Addr string `mapstructure:"addr"`

	// Token is sent as a bearer token when set.
	Token string `mapstructure:"token"`

	// CallTimeout bounds each unary call (default: 30s).
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// gatewayMethods is the client stub filled in by go-jsonrpc.
type gatewayMethods struct {
	Balances        func(ctx context.Context) (Balances, error)
	Deposit         func(ctx context.Context, amount big.Int) (string, error)
	ApproveService  func(ctx context.Context, approval Approval) (string, error)
	WaitTx          func(ctx context.Context, hash string) (TxReceipt, error)
	Preflight       func(ctx context.Context, size int64) (PreflightResult, error)
	SelectProvider  func(ctx context.Context, creator string) (Provider, error)
	ResolveProofSet func(ctx context.Context, providerID, recordingID string) (ProofSet, error)
	ProofSetLive    func(ctx context.Context, proofSetID string) (bool, error)
	Upload          func(ctx context.Context, proofSetID string, data []byte) (UploadReceipt, error)
	Confirmations   func(ctx context.Context, proofSetID, contentID string) (<-chan StageEvent, error)
}

// Gateway is a Network backed by a remote JSON-RPC gateway.
type Gateway struct {
	methods     gatewayMethods
	closer      jsonrpc.ClientCloser
	callTimeout time.Duration
}

var _ Network = (*Gateway)(nil)

// DialGateway connects to a storage network gateway.
func DialGateway(ctx context.Context, cfg GatewayConfig) (*Gateway, error) {
	if cfg.Addr == "" {
		return nil, errors.New("gateway address is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	g := &Gateway{callTimeout: cfg.CallTimeout}
	closer, err := jsonrpc.NewMergeClient(ctx, cfg.Addr, Namespace, []any{&g.methods}, header)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", cfg.Addr, err)
	}
	g.closer = closer

	logger.Info().Str("addr", cfg.Addr).Msg("connected to storage network gateway")
	return g, nil
}

func (g *Gateway) unary(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.callTimeout)
}

func (g *Gateway) Balances(ctx context.Context) (Balances, error) {
	ctx, cancel := g.unary(ctx)
	defer cancel()
	return g.methods.Balances(ctx)
}

func (g *Gateway) Deposit(ctx context.Context, amount big.Int) (string, error) {
	ctx, cancel := g.unary(ctx)
	defer cancel()
	return g.methods.Deposit(ctx, amount)
}

func (g *Gateway) ApproveService(ctx context.Context, approval Approval) (string, error) {
	ctx, cancel := g.unary(ctx)
	defer cancel()
	return g.methods.ApproveService(ctx, approval)
}

// WaitTx blocks until the transaction is final; only ctx bounds it.
func (g *Gateway) WaitTx(ctx context.Context, hash string) (TxReceipt, error) {
	return g.methods.WaitTx(ctx, hash)
}

func (g *Gateway) Preflight(ctx context.Context, size int64) (PreflightResult, error) {
	ctx, cancel := g.unary(ctx)
	defer cancel()
	return g.methods.Preflight(ctx, size)
}

func (g *Gateway) SelectProvider(ctx context.Context, creator string) (Provider, error) {
	ctx, cancel := g.unary(ctx)
	defer cancel()
	return g.methods.SelectProvider(ctx, creator)
}

// ResolveProofSet may wait for an on-chain proof set creation; only ctx
// bounds it.
func (g *Gateway) ResolveProofSet(ctx context.Context, providerID, recordingID string) (ProofSet, error) {
	return g.methods.ResolveProofSet(ctx, providerID, recordingID)
}

func (g *Gateway) ProofSetLive(ctx context.Context, proofSetID string) (bool, error) {
	ctx, cancel := g.unary(ctx)
	defer cancel()
	return g.methods.ProofSetLive(ctx, proofSetID)
}

func (g *Gateway) Upload(ctx context.Context, proofSetID string, data []byte) (UploadReceipt, error) {
	return g.methods.Upload(ctx, proofSetID, data)
}

// Confirmations requires a websocket connection.
func (g *Gateway) Confirmations(ctx context.Context, proofSetID, contentID string) (<-chan StageEvent, error) {
	return g.methods.Confirmations(ctx, proofSetID, contentID)
}

func (g *Gateway) Close() error {
	if g.closer != nil {
		g.closer()
	}
	return nil
}

// gatewayServer narrows a Network to the RPC surface so helper methods on
// the concrete type are never exported over the wire.
type gatewayServer struct {
	Ledger
	Storage
}

// NewGatewayHandler exposes a Network over JSON-RPC under Namespace. It backs
// the `rtastore gateway` development server and the client tests.
func NewGatewayHandler(n Network) http.Handler {
	srv := jsonrpc.NewServer()
	srv.Register(Namespace, &gatewayServer{Ledger: n, Storage: n})
	return srv
}
