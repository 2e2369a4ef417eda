package corechain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"creditchain/crypto"
	"creditchain/native/withdrawals"
)

func newTestSigner(t *testing.T, fee uint32) *Signer {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	signer, err := NewSigner(key, fee)
	require.NoError(t, err)
	return signer
}

func TestSignerBuildsRecoverableTransaction(t *testing.T) {
	signer := newTestSigner(t, 10)
	payout := withdrawals.UnlockTx{
		Index:         7,
		RequestID:     withdrawals.RequestID{1, 2, 3},
		Amount:        1_000,
		Destination:   []byte{0x76, 0xa9, 0x14},
		RequestHeight: 12,
		CoreHeight:    900,
		Attempt:       1,
	}
	tx, err := signer.Build(payout)
	require.NoError(t, err)
	require.Equal(t, uint64(7), tx.Index)
	require.Equal(t, uint64(990), tx.Outputs[0].Value)
	require.Equal(t, uint64(1_000), tx.Total())

	raw, err := tx.Encode()
	require.NoError(t, err)
	decoded, err := DecodeAssetUnlock(raw)
	require.NoError(t, err)
	require.Equal(t, tx.RequestID, decoded.RequestID)
	require.Equal(t, tx.Outputs, decoded.Outputs)

	sender, err := decoded.Sender()
	require.NoError(t, err)
	require.Equal(t, signer.Address().String(), sender.String())
}

func TestSignerRejectsAmountBelowFee(t *testing.T) {
	signer := newTestSigner(t, 100)
	_, err := signer.Build(withdrawals.UnlockTx{Index: 1, Amount: 100, Destination: []byte{1}})
	require.Error(t, err)
}

func TestTamperedTransactionRecoversDifferentSender(t *testing.T) {
	signer := newTestSigner(t, 0)
	tx, err := signer.Build(withdrawals.UnlockTx{Index: 3, Amount: 50, Destination: []byte{9}})
	require.NoError(t, err)
	tx.Outputs[0].Value = 5_000
	sender, err := tx.Sender()
	if err == nil {
		require.NotEqual(t, signer.Address().String(), sender.String())
	}
}

func TestBridgeRelaysThroughSimulator(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(100, 2)
	bridge, err := NewBridge(sim, newTestSigner(t, 0), nil)
	require.NoError(t, err)

	height, err := bridge.BestChainLockHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(100), height)

	require.NoError(t, bridge.Submit(ctx, withdrawals.UnlockTx{Index: 4, Amount: 25, Destination: []byte{1}}))
	statuses, err := bridge.QueryStatuses(ctx, []uint64{4, 5}, 101)
	require.NoError(t, err)
	require.Equal(t, withdrawals.ExternalPending, statuses[4])
	require.Equal(t, withdrawals.ExternalUnknown, statuses[5])

	sim.Advance(2)
	statuses, err = bridge.QueryStatuses(ctx, []uint64{4}, sim.Height())
	require.NoError(t, err)
	require.Equal(t, withdrawals.ExternalChainlocked, statuses[4])

	empty, err := bridge.QueryStatuses(ctx, nil, sim.Height())
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestSimulatorRejectAndOffline(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(10, 1)
	bridge, err := NewBridge(sim, newTestSigner(t, 0), nil)
	require.NoError(t, err)

	require.NoError(t, bridge.Submit(ctx, withdrawals.UnlockTx{Index: 1, Amount: 5, Destination: []byte{1}}))
	sim.Reject(1)
	statuses, err := bridge.QueryStatuses(ctx, []uint64{1}, 20)
	require.NoError(t, err)
	require.Equal(t, withdrawals.ExternalRejected, statuses[1])

	// Resubmitting the same index clears the rejection.
	require.NoError(t, bridge.Submit(ctx, withdrawals.UnlockTx{Index: 1, Amount: 5, Destination: []byte{1}, Attempt: 2}))
	statuses, err = bridge.QueryStatuses(ctx, []uint64{1}, 20)
	require.NoError(t, err)
	require.Equal(t, withdrawals.ExternalChainlocked, statuses[1])

	sim.SetOffline(true)
	err = bridge.Submit(ctx, withdrawals.UnlockTx{Index: 2, Amount: 5, Destination: []byte{1}})
	require.ErrorIs(t, err, withdrawals.ErrChainUnavailable)
	_, err = bridge.BestChainLockHeight(ctx)
	require.ErrorIs(t, err, ErrUnavailable)
}
