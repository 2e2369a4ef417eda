package corechain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"creditchain/native/withdrawals"
)

// Bridge signs engine payouts and relays them to a core Client. It implements
// withdrawals.ChainClient.
type Bridge struct {
	client Client
	signer *Signer
	logger *slog.Logger
}

var _ withdrawals.ChainClient = (*Bridge)(nil)

// NewBridge wires a client and signer together.
func NewBridge(client Client, signer *Signer, logger *slog.Logger) (*Bridge, error) {
	if client == nil {
		return nil, errors.New("corechain: client required")
	}
	if signer == nil {
		return nil, errors.New("corechain: signer required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{client: client, signer: signer, logger: logger.With("component", "corechain")}, nil
}

// Submit signs and relays the payout.
func (b *Bridge) Submit(ctx context.Context, payout withdrawals.UnlockTx) error {
	tx, err := b.signer.Build(payout)
	if err != nil {
		return err
	}
	raw, err := tx.Encode()
	if err != nil {
		return fmt.Errorf("corechain: encode asset unlock: %w", err)
	}
	txid, err := b.client.SendRawTransaction(ctx, raw)
	if err != nil {
		return err
	}
	b.logger.Debug("asset unlock relayed", "index", payout.Index, "attempt", payout.Attempt, "txid", txid)
	return nil
}

// QueryStatuses forwards to the client.
func (b *Bridge) QueryStatuses(ctx context.Context, indices []uint64, coreHeight uint64) (map[uint64]withdrawals.ExternalStatus, error) {
	if len(indices) == 0 {
		return map[uint64]withdrawals.ExternalStatus{}, nil
	}
	return b.client.AssetUnlockStatuses(ctx, indices, coreHeight)
}

// BestChainLockHeight returns the height of the best chain lock.
func (b *Bridge) BestChainLockHeight(ctx context.Context) (uint64, error) {
	lock, err := b.client.BestChainLock(ctx)
	if err != nil {
		return 0, err
	}
	return lock.Height, nil
}
