package chain

import (
	"context"
	"fmt"
	"time"
)

// DepositAddress is a freshly generated custodial address and its signing
// material. The key stays operator-side; it is never returned to users.
type DepositAddress struct {
	Address string
	Secret  string
}

// EscrowLock identifies locked escrow funds: the lock transaction and the
// escrow holding (contract address on chains with native escrow, a
// shared-control address otherwise).
type EscrowLock struct {
	TxRef       string
	ContractRef string
}

// LockRequest carries everything an adapter needs to lock one escrow leg.
type LockRequest struct {
	OwnerAddress string
	SigningKey   string
	Amount       float64
	Currency     string
}

// DepositCallback is invoked once per new qualifying transfer observed on
// a monitored address.
type DepositCallback func(txRef string, amount float64)

// Adapter hides chain-specific address, transaction, and escrow mechanics.
// One implementation exists per supported chain; the orchestration layer
// never branches on a concrete chain.
type Adapter interface {
	Name() string

	GenerateDepositAddress(ctx context.Context) (*DepositAddress, error)
	GetBalance(ctx context.Context, address string) (float64, error)
	ValidateAddress(address string) bool

	// BuildAndBroadcast signs a transfer with the given key material and
	// broadcasts it, returning the transaction reference.
	BuildAndBroadcast(ctx context.Context, signingKey, toAddress string, amount float64) (string, error)

	// MonitorAddress polls the address until ctx is done, invoking
	// onDeposit for each new incoming transfer.
	MonitorAddress(ctx context.Context, address string, interval time.Duration, onDeposit DepositCallback) error

	// LockEscrow moves the owner's funds under escrow control.
	LockEscrow(ctx context.Context, req LockRequest) (*EscrowLock, error)

	// ReleaseEscrow pays locked funds out to the counterparty.
	ReleaseEscrow(ctx context.Context, lock *EscrowLock, toAddress string, amount float64) (string, error)

	// RefundEscrow returns locked funds to their original owner.
	RefundEscrow(ctx context.Context, lock *EscrowLock, ownerAddress string, amount float64) (string, error)
}

// Registry maps chain names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Name()] = adapter
}

func (r *Registry) Get(chain string) (Adapter, error) {
	adapter, ok := r.adapters[chain]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for chain %s", chain)
	}
	return adapter, nil
}
