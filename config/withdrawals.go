package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"creditchain/native/withdrawals"
)

// Withdrawals mirrors the [Withdrawals] table of the engine parameter file.
// Omitted keys keep the engine defaults.
type Withdrawals struct {
	QuotaBps             *uint64 `toml:"QuotaBps"`
	QuotaFloor           *uint64 `toml:"QuotaFloor"`
	WindowBlocks         *uint64 `toml:"WindowBlocks"`
	MaxPooledPerBlock    *uint32 `toml:"MaxPooledPerBlock"`
	MaxBroadcastPerBlock *uint32 `toml:"MaxBroadcastPerBlock"`
	MaxRetryPerBlock     *uint32 `toml:"MaxRetryPerBlock"`
	ExpiryCoreBlocks     *uint64 `toml:"ExpiryCoreBlocks"`
	MinAmount            *uint64 `toml:"MinAmount"`
	MaxAmount            *uint64 `toml:"MaxAmount"`
	Denom                string  `toml:"Denom"`
	PageSize             *uint32 `toml:"PageSize"`
}

type withdrawalsFile struct {
	Withdrawals Withdrawals `toml:"Withdrawals"`
}

// LoadWithdrawals reads engine parameters from a TOML file, overlays them on
// the defaults and validates the result. A missing path yields the defaults.
func LoadWithdrawals(path string) (withdrawals.Params, error) {
	params := withdrawals.DefaultParams()
	path = strings.TrimSpace(path)
	if path == "" {
		return params, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return params, nil
	}
	var file withdrawalsFile
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return params, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return params, fmt.Errorf("%s: unknown keys %v", path, undecoded)
	}
	params = file.Withdrawals.Apply(params)
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

// ParseWithdrawals decodes parameters from TOML text.
func ParseWithdrawals(data string) (withdrawals.Params, error) {
	var file withdrawalsFile
	if _, err := toml.Decode(data, &file); err != nil {
		return withdrawals.Params{}, err
	}
	params := file.Withdrawals.Apply(withdrawals.DefaultParams())
	return params, params.Validate()
}

// Apply overlays the configured values on base.
func (w Withdrawals) Apply(base withdrawals.Params) withdrawals.Params {
	if w.QuotaBps != nil {
		base.QuotaBps = *w.QuotaBps
	}
	if w.QuotaFloor != nil {
		base.QuotaFloor = *w.QuotaFloor
	}
	if w.WindowBlocks != nil {
		base.WindowBlocks = *w.WindowBlocks
	}
	if w.MaxPooledPerBlock != nil {
		base.MaxPooledPerBlock = *w.MaxPooledPerBlock
	}
	if w.MaxBroadcastPerBlock != nil {
		base.MaxBroadcastPerBlock = *w.MaxBroadcastPerBlock
	}
	if w.MaxRetryPerBlock != nil {
		base.MaxRetryPerBlock = *w.MaxRetryPerBlock
	}
	if w.ExpiryCoreBlocks != nil {
		base.ExpiryCoreBlocks = *w.ExpiryCoreBlocks
	}
	if w.MinAmount != nil {
		base.MinAmount = *w.MinAmount
	}
	if w.MaxAmount != nil {
		base.MaxAmount = *w.MaxAmount
	}
	if denom := strings.ToUpper(strings.TrimSpace(w.Denom)); denom != "" {
		base.Denom = denom
	}
	if w.PageSize != nil {
		base.PageSize = *w.PageSize
	}
	return base
}
