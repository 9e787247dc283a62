// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

// Package network is the client side of the proof-backed storage network:
// the payments ledger (balances, deposits, service approval, pre-flight
// checks) and the storage side (provider selection, proof sets, uploads and
// root confirmations).
//
// Two implementations are provided: Gateway speaks JSON-RPC to a storage
// network gateway, Simulator runs the whole network in-process for local
// development and tests.
package network

import (
	"context"
	"errors"

	"github.com/LeeDigitalWorks/rtastore/pkg/types"

	"github.com/filecoin-project/go-state-types/big"
)

var (
	ErrTxFailed          = errors.New("transaction failed")
	ErrUnknownTx         = errors.New("unknown transaction")
	ErrNoProvider        = errors.New("no storage provider available")
	ErrUnknownProofSet   = errors.New("unknown proof set")
	ErrInsufficientFunds = errors.New("insufficient wallet funds")
)

// Balances is the funded identity's position on the payments ledger.
type Balances struct {
	Wallet          big.Int `json:"wallet"`
	Escrow          big.Int `json:"escrow"`
	ServiceApproved bool    `json:"service_approved"`
	RateAllowance   big.Int `json:"rate_allowance"`
	LockupAllowance big.Int `json:"lockup_allowance"`
	LockupUsed      big.Int `json:"lockup_used"`
}

// Approval grants the storage marketplace service permission to draw
// payments up to the given allowances.
type Approval struct {
	Service         string  `json:"service"`
	RateAllowance   big.Int `json:"rate_allowance"`
	LockupAllowance big.Int `json:"lockup_allowance"`
}

// TxReceipt is returned once a ledger transaction is final.
type TxReceipt struct {
	Hash    string `json:"hash"`
	Height  int64  `json:"height"`
	Success bool   `json:"success"`
}

// PreflightResult tells whether the marketplace would accept an upload.
type PreflightResult struct {
	Sufficient     bool     `json:"sufficient"`
	RequiredLockup big.Int  `json:"required_lockup"`
	Reasons        []string `json:"reasons,omitempty"`
}

// Provider is a storage provider able to host proof sets.
type Provider struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	ServiceURL string `json:"service_url,omitempty"`
}

// ProofSet is a provider-hosted set of roots with ongoing possession proofs.
type ProofSet struct {
	ID         string `json:"id"`
	ProviderID string `json:"provider_id"`
	Created    bool   `json:"created"`
}

// UploadReceipt is the synchronous result of submitting bytes.
type UploadReceipt struct {
	ContentID string `json:"content_id"`
	Size      int64  `json:"size"`
}

// StageEvent reports a confirmation stage transition for an upload.
type StageEvent struct {
	Stage  types.Stage `json:"stage"`
	RootID string      `json:"root_id,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Ledger is the payments side of the network.
type Ledger interface {
	Balances(ctx context.Context) (Balances, error)
	Deposit(ctx context.Context, amount big.Int) (string, error)
	ApproveService(ctx context.Context, approval Approval) (string, error)
	WaitTx(ctx context.Context, hash string) (TxReceipt, error)
	Preflight(ctx context.Context, size int64) (PreflightResult, error)
}

// Storage is the provider side of the network.
type Storage interface {
	SelectProvider(ctx context.Context, creator string) (Provider, error)
	ResolveProofSet(ctx context.Context, providerID, recordingID string) (ProofSet, error)
	ProofSetLive(ctx context.Context, proofSetID string) (bool, error)
	Upload(ctx context.Context, proofSetID string, data []byte) (UploadReceipt, error)
	// Confirmations streams stage events for an upload; the channel is
	// closed after root-confirmed or when ctx ends.
	Confirmations(ctx context.Context, proofSetID, contentID string) (<-chan StageEvent, error)
}

// Network is a full client.
type Network interface {
	Ledger
	Storage
	Close() error
}
