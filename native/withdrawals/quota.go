package withdrawals

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	bpsDenominator = uint256.NewInt(MaxBps)
	maxUint64      = new(uint256.Int).SetUint64(math.MaxUint64)
)

// PercentageCap returns the number of credits that may lock per window for the
// given supply. A zero or negative supply yields zero.
func PercentageCap(supply *big.Int, params Params) uint64 {
	if supply == nil || supply.Sign() <= 0 {
		return 0
	}
	s, overflow := uint256.FromBig(supply)
	if overflow {
		s = new(uint256.Int).SetAllOne()
	}
	limit, overflow := new(uint256.Int).MulDivOverflow(s, uint256.NewInt(params.QuotaBps), bpsDenominator)
	if overflow {
		return math.MaxUint64
	}
	if params.QuotaFloor > 0 && limit.LtUint64(params.QuotaFloor) {
		floor := uint256.NewInt(params.QuotaFloor)
		if s.Lt(floor) {
			floor = s
		}
		limit = floor
	}
	if limit.Gt(maxUint64) {
		return math.MaxUint64
	}
	return limit.Uint64()
}

// Due reports whether the window must restart at height.
func (w Window) Due(height uint64) bool {
	if !w.Initialised {
		return true
	}
	return height >= w.Start && height-w.Start >= w.Duration
}

// Roll restarts the window at height when its duration has elapsed. The
// supply snapshot bounds every admission until the next roll.
func (w Window) Roll(height uint64, supply *big.Int, duration uint64) Window {
	if !w.Due(height) {
		return w
	}
	snapshot := new(big.Int)
	if supply != nil && supply.Sign() > 0 {
		snapshot.Set(supply)
	}
	return Window{
		Start:         height,
		Duration:      duration,
		Committed:     0,
		SupplyAtStart: snapshot,
		Initialised:   true,
	}
}

// Cap returns the window's cap: the lower of the cap at window start and the
// cap at the current supply, so a shrinking supply tightens admission.
func (w Window) Cap(supplyNow *big.Int, params Params) uint64 {
	atStart := PercentageCap(w.SupplyAtStart, params)
	now := PercentageCap(supplyNow, params)
	if now < atStart {
		return now
	}
	return atStart
}

// Remaining returns how many credits may still lock in this window.
func (w Window) Remaining(supplyNow *big.Int, params Params) uint64 {
	limit := w.Cap(supplyNow, params)
	if w.Committed >= limit {
		return 0
	}
	return limit - w.Committed
}

// Commit records admitted credits. Committed never decreases within a window.
func (w *Window) Commit(amount uint64) {
	if amount > math.MaxUint64-w.Committed {
		w.Committed = math.MaxUint64
		return
	}
	w.Committed += amount
}
