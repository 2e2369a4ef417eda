package withdrawals

import (
	"fmt"
	"strings"
)

// MaxBps is the basis point denominator for the quota percentage.
const MaxBps = 10_000

// Params are the deployment constants of the withdrawal engine.
type Params struct {
	// QuotaBps is the share of total supply that may newly lock per window.
	QuotaBps uint64
	// QuotaFloor lifts the cap for small supplies: when the percentage cap is
	// below it, the cap becomes min(QuotaFloor, supply). Zero disables it.
	QuotaFloor uint64
	// WindowBlocks is the rolling window duration in platform blocks.
	WindowBlocks uint64

	MaxPooledPerBlock    uint32
	MaxBroadcastPerBlock uint32
	// MaxRetryPerBlock bounds expired resubmissions per block. Zero leaves them
	// bounded only by MaxBroadcastPerBlock.
	MaxRetryPerBlock uint32

	// ExpiryCoreBlocks is the number of core blocks a broadcast transaction may
	// remain unconfirmed before it is resubmitted.
	ExpiryCoreBlocks uint64

	MinAmount uint64
	MaxAmount uint64

	// Denom is the supply denomination read from state.
	Denom string
	// PageSize bounds each status index scan.
	PageSize uint32
}

// DefaultParams returns the parameters used when no overrides are configured.
func DefaultParams() Params {
	return Params{
		QuotaBps:             1_000,
		WindowBlocks:         14_400,
		MaxPooledPerBlock:    4,
		MaxBroadcastPerBlock: 4,
		ExpiryCoreBlocks:     48,
		MinAmount:            1,
		MaxAmount:            50_000_000_000_000,
		Denom:                "CREDIT",
		PageSize:             64,
	}
}

// Validate rejects misconfigured parameters.
func (p Params) Validate() error {
	switch {
	case p.QuotaBps == 0 || p.QuotaBps > MaxBps:
		return fmt.Errorf("%w: quota bps must be within 1..%d, got %d", ErrInvalidParams, MaxBps, p.QuotaBps)
	case p.WindowBlocks == 0:
		return fmt.Errorf("%w: window duration must be positive", ErrInvalidParams)
	case p.MaxPooledPerBlock == 0:
		return fmt.Errorf("%w: max pooled per block must be positive", ErrInvalidParams)
	case p.MaxBroadcastPerBlock == 0:
		return fmt.Errorf("%w: max broadcast per block must be positive", ErrInvalidParams)
	case p.ExpiryCoreBlocks == 0:
		return fmt.Errorf("%w: expiry core blocks must be positive", ErrInvalidParams)
	case p.MinAmount == 0:
		return fmt.Errorf("%w: minimum amount must be positive", ErrInvalidParams)
	case p.MaxAmount != 0 && p.MaxAmount < p.MinAmount:
		return fmt.Errorf("%w: maximum amount %d below minimum %d", ErrInvalidParams, p.MaxAmount, p.MinAmount)
	case strings.TrimSpace(p.Denom) == "":
		return fmt.Errorf("%w: supply denomination required", ErrInvalidParams)
	case p.PageSize == 0:
		return fmt.Errorf("%w: page size must be positive", ErrInvalidParams)
	}
	return nil
}

func (p Params) retryLimit() int {
	limit := int(p.MaxBroadcastPerBlock)
	if p.MaxRetryPerBlock > 0 && int(p.MaxRetryPerBlock) < limit {
		limit = int(p.MaxRetryPerBlock)
	}
	return limit
}
