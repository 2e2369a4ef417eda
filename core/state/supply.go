package state

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrSymbolRequired is returned for a blank denomination.
	ErrSymbolRequired = errors.New("state: token symbol required")
	// ErrSupplyUnderflow is returned when a burn would take supply below zero.
	ErrSupplyUnderflow = errors.New("state: token supply underflow")
)

func supplyKey(symbol string) ([]byte, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return nil, ErrSymbolRequired
	}
	return []byte("supply/" + normalized), nil
}

// TokenSupply returns the committed total supply of the denomination. A
// denomination that was never written has zero supply.
func (m *Manager) TokenSupply(symbol string) (*big.Int, error) {
	key, err := supplyKey(symbol)
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	if _, err := m.KVGet(key, total); err != nil {
		return nil, fmt.Errorf("state: read %s supply: %w", symbol, err)
	}
	return total, nil
}

// SetTokenSupply overwrites the total supply of the denomination.
func (m *Manager) SetTokenSupply(symbol string, amount *big.Int) error {
	key, err := supplyKey(symbol)
	if err != nil {
		return err
	}
	if amount == nil {
		amount = new(big.Int)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: %s set to %s", ErrSupplyUnderflow, symbol, amount)
	}
	return m.KVPut(key, amount)
}

// AdjustTokenSupply applies a signed delta and returns the new total.
func (m *Manager) AdjustTokenSupply(symbol string, delta *big.Int) (*big.Int, error) {
	current, err := m.TokenSupply(symbol)
	if err != nil {
		return nil, err
	}
	if delta == nil {
		return current, nil
	}
	updated := current.Add(current, delta)
	if updated.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s by %s", ErrSupplyUnderflow, symbol, delta)
	}
	if err := m.SetTokenSupply(symbol, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// SupplyView is a read-only accessor for one denomination's supply. The
// withdrawal engine depends on it rather than on the whole manager.
type SupplyView struct {
	manager *Manager
	symbol  string
}

// SupplyView binds a read-only accessor to symbol.
func (m *Manager) SupplyView(symbol string) SupplyView {
	return SupplyView{manager: m, symbol: symbol}
}

// TotalSupply returns the current supply of the bound denomination.
func (v SupplyView) TotalSupply() (*big.Int, error) {
	return v.manager.TokenSupply(v.symbol)
}
