package corechain

import (
	"context"

	"creditchain/native/withdrawals"
)

// ErrUnavailable marks transport failures. It is the engine's chain-unavailable
// sentinel so the broadcast step halts for the rest of the block.
var ErrUnavailable = withdrawals.ErrChainUnavailable

// ChainLock is the most recent chain-locked core block.
type ChainLock struct {
	Height    uint64
	BlockHash string
	Signature string
}

// Client is the subset of the core node RPC surface withdrawald relies on.
type Client interface {
	SendRawTransaction(ctx context.Context, raw []byte) (string, error)
	AssetUnlockStatuses(ctx context.Context, indices []uint64, coreHeight uint64) (map[uint64]withdrawals.ExternalStatus, error)
	BestChainLock(ctx context.Context) (ChainLock, error)
}

// FuncClient adapts callback functions to the Client interface.
type FuncClient struct {
	SendFunc      func(ctx context.Context, raw []byte) (string, error)
	StatusesFunc  func(ctx context.Context, indices []uint64, coreHeight uint64) (map[uint64]withdrawals.ExternalStatus, error)
	ChainLockFunc func(ctx context.Context) (ChainLock, error)
}

// SendRawTransaction delegates to the configured callback.
func (c FuncClient) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	if c.SendFunc == nil {
		return "", nil
	}
	return c.SendFunc(ctx, raw)
}

// AssetUnlockStatuses delegates to the configured callback. Without one every
// index is reported unknown.
func (c FuncClient) AssetUnlockStatuses(ctx context.Context, indices []uint64, coreHeight uint64) (map[uint64]withdrawals.ExternalStatus, error) {
	if c.StatusesFunc == nil {
		return map[uint64]withdrawals.ExternalStatus{}, nil
	}
	return c.StatusesFunc(ctx, indices, coreHeight)
}

// BestChainLock delegates to the configured callback.
func (c FuncClient) BestChainLock(ctx context.Context) (ChainLock, error) {
	if c.ChainLockFunc == nil {
		return ChainLock{}, nil
	}
	return c.ChainLockFunc(ctx)
}
