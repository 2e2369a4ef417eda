package events

import (
	"math/big"
	"strconv"

	"creditchain/core/types"
)

const (
	// TypeTokenSupply is emitted whenever the tracked platform supply changes.
	TypeTokenSupply = "token.supply"

	SupplyReasonMint = "mint"
	SupplyReasonBurn = "burn"
)

// TokenSupply records a committed change to a denomination's total supply.
// Withdrawal quotas are derived from this total, so consumers use the event to
// explain quota movements.
type TokenSupply struct {
	Token  string
	Height uint64
	Total  *big.Int
	Delta  *big.Int
	Reason string
}

// SupplyChange builds the event for delta applied at height, deriving the
// reason from its sign.
func SupplyChange(token string, height uint64, total, delta *big.Int) TokenSupply {
	reason := SupplyReasonMint
	if delta != nil && delta.Sign() < 0 {
		reason = SupplyReasonBurn
	}
	return TokenSupply{Token: token, Height: height, Total: total, Delta: delta, Reason: reason}
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

func (e TokenSupply) Event() *types.Event {
	token := normalizeAsset(e.Token)
	if token == "" {
		token = "UNKNOWN"
	}
	attrs := map[string]string{
		"token":  token,
		"height": strconv.FormatUint(e.Height, 10),
		"total":  bigString(e.Total),
	}
	if e.Delta != nil {
		attrs["delta"] = e.Delta.String()
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypeTokenSupply, Attributes: attrs}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
