package corechain

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"creditchain/native/withdrawals"
)

// Simulator is an in-memory core chain. Relayed transactions become chain
// locked after ConfirmAfter core blocks. It backs dev mode and tests.
type Simulator struct {
	mu           sync.Mutex
	height       uint64
	confirmAfter uint64
	seen         map[uint64]simulatedUnlock
	rejected     map[uint64]bool
	offline      bool
}

type simulatedUnlock struct {
	tx       *AssetUnlockTx
	included uint64
}

var _ Client = (*Simulator)(nil)

// NewSimulator starts the chain at height with the given confirmation depth.
func NewSimulator(height, confirmAfter uint64) *Simulator {
	return &Simulator{
		height:       height,
		confirmAfter: confirmAfter,
		seen:         make(map[uint64]simulatedUnlock),
		rejected:     make(map[uint64]bool),
	}
}

// Advance mines n core blocks.
func (s *Simulator) Advance(n uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height += n
	return s.height
}

// Height returns the current core height.
func (s *Simulator) Height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

// Reject makes the chain report index as rejected.
func (s *Simulator) Reject(index uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[index] = true
	delete(s.seen, index)
}

// SetOffline toggles transport failures.
func (s *Simulator) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// Transaction returns the last accepted transaction for index.
func (s *Simulator) Transaction(index uint64) (*AssetUnlockTx, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.seen[index]
	return entry.tx, ok
}

// SendRawTransaction decodes and stores the transaction. A resubmission of an
// index restarts its confirmation count.
func (s *Simulator) SendRawTransaction(_ context.Context, raw []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return "", fmt.Errorf("%w: simulator offline", ErrUnavailable)
	}
	tx, err := DecodeAssetUnlock(raw)
	if err != nil {
		return "", err
	}
	if _, err := tx.Sender(); err != nil {
		return "", fmt.Errorf("corechain: invalid signature: %w", err)
	}
	if s.rejected[tx.Index] {
		delete(s.rejected, tx.Index)
	}
	s.seen[tx.Index] = simulatedUnlock{tx: tx, included: s.height}
	digest, err := tx.SigningHash()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(digest), nil
}

// AssetUnlockStatuses reports chainlocked once a transaction is buried deep
// enough at coreHeight.
func (s *Simulator) AssetUnlockStatuses(_ context.Context, indices []uint64, coreHeight uint64) (map[uint64]withdrawals.ExternalStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, fmt.Errorf("%w: simulator offline", ErrUnavailable)
	}
	statuses := make(map[uint64]withdrawals.ExternalStatus, len(indices))
	for _, index := range indices {
		if s.rejected[index] {
			statuses[index] = withdrawals.ExternalRejected
			continue
		}
		entry, ok := s.seen[index]
		switch {
		case !ok:
			statuses[index] = withdrawals.ExternalUnknown
		case coreHeight >= entry.included+s.confirmAfter:
			statuses[index] = withdrawals.ExternalChainlocked
		default:
			statuses[index] = withdrawals.ExternalPending
		}
	}
	return statuses, nil
}

// BestChainLock returns the current height.
func (s *Simulator) BestChainLock(_ context.Context) (ChainLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return ChainLock{}, fmt.Errorf("%w: simulator offline", ErrUnavailable)
	}
	return ChainLock{Height: s.height}, nil
}
