package corechain

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"creditchain/crypto"
	"creditchain/native/withdrawals"
)

// AssetUnlockVersion is the payload version emitted by this signer.
const AssetUnlockVersion uint8 = 1

// CreditOutput pays out unlocked credits on the core chain.
type CreditOutput struct {
	Value  uint64
	Script []byte
}

// AssetUnlockTx is the special transaction that releases withdrawn credits on
// the core chain. Index is unique per withdrawal and reused on resubmission.
type AssetUnlockTx struct {
	Version       uint8
	Index         uint64
	Fee           uint32
	RequestHeight uint64
	CoreHeight    uint64
	RequestID     [32]byte
	Outputs       []CreditOutput
	Signature     []byte
}

type unsignedAssetUnlock struct {
	Version       uint8
	Index         uint64
	Fee           uint32
	RequestHeight uint64
	CoreHeight    uint64
	RequestID     [32]byte
	Outputs       []CreditOutput
}

// SigningHash is the digest covered by the signature.
func (tx *AssetUnlockTx) SigningHash() ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(unsignedAssetUnlock{
		Version:       tx.Version,
		Index:         tx.Index,
		Fee:           tx.Fee,
		RequestHeight: tx.RequestHeight,
		CoreHeight:    tx.CoreHeight,
		RequestID:     tx.RequestID,
		Outputs:       tx.Outputs,
	})
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(encoded), nil
}

// Encode returns the RLP wire form.
func (tx *AssetUnlockTx) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// Sender recovers the signer address.
func (tx *AssetUnlockTx) Sender() (crypto.Address, error) {
	if len(tx.Signature) == 0 {
		return crypto.Address{}, errors.New("corechain: transaction unsigned")
	}
	digest, err := tx.SigningHash()
	if err != nil {
		return crypto.Address{}, err
	}
	return crypto.RecoverAddress(digest, tx.Signature)
}

// Total returns the sum of output values plus the fee.
func (tx *AssetUnlockTx) Total() uint64 {
	total := uint64(tx.Fee)
	for _, out := range tx.Outputs {
		total += out.Value
	}
	return total
}

// DecodeAssetUnlock parses the RLP wire form.
func DecodeAssetUnlock(raw []byte) (*AssetUnlockTx, error) {
	tx := new(AssetUnlockTx)
	if err := rlp.DecodeBytes(raw, tx); err != nil {
		return nil, fmt.Errorf("corechain: decode asset unlock: %w", err)
	}
	return tx, nil
}

// Signer builds and signs asset-unlock transactions for engine payouts.
type Signer struct {
	key *crypto.PrivateKey
	fee uint32
}

// NewSigner wraps the settlement key. Fee is deducted from each payout.
func NewSigner(key *crypto.PrivateKey, fee uint32) (*Signer, error) {
	if key == nil {
		return nil, errors.New("corechain: signer key required")
	}
	return &Signer{key: key, fee: fee}, nil
}

// Address returns the signer's address.
func (s *Signer) Address() crypto.Address {
	return s.key.PubKey().Address()
}

// Build converts an engine payout into a signed asset-unlock transaction.
func (s *Signer) Build(payout withdrawals.UnlockTx) (*AssetUnlockTx, error) {
	if payout.Amount <= uint64(s.fee) {
		return nil, fmt.Errorf("corechain: amount %d does not cover fee %d", payout.Amount, s.fee)
	}
	tx := &AssetUnlockTx{
		Version:       AssetUnlockVersion,
		Index:         payout.Index,
		Fee:           s.fee,
		RequestHeight: payout.RequestHeight,
		CoreHeight:    payout.CoreHeight,
		RequestID:     payout.RequestID,
		Outputs: []CreditOutput{{
			Value:  payout.Amount - uint64(s.fee),
			Script: append([]byte(nil), payout.Destination...),
		}},
	}
	digest, err := tx.SigningHash()
	if err != nil {
		return nil, err
	}
	sig, err := s.key.Sign(digest)
	if err != nil {
		return nil, err
	}
	tx.Signature = sig
	return tx, nil
}
