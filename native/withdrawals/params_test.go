package withdrawals

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	cases := map[string]func(*Params){
		"zero bps":        func(p *Params) { p.QuotaBps = 0 },
		"bps above 100%":  func(p *Params) { p.QuotaBps = MaxBps + 1 },
		"zero window":     func(p *Params) { p.WindowBlocks = 0 },
		"zero pool cap":   func(p *Params) { p.MaxPooledPerBlock = 0 },
		"zero bcast cap":  func(p *Params) { p.MaxBroadcastPerBlock = 0 },
		"zero expiry":     func(p *Params) { p.ExpiryCoreBlocks = 0 },
		"zero min amount": func(p *Params) { p.MinAmount = 0 },
		"max below min":   func(p *Params) { p.MinAmount = 10; p.MaxAmount = 5 },
		"empty denom":     func(p *Params) { p.Denom = " " },
		"zero page size":  func(p *Params) { p.PageSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			params := DefaultParams()
			mutate(&params)
			require.ErrorIs(t, params.Validate(), ErrInvalidParams)
		})
	}
}

func TestNewEngineRejectsInvalidParams(t *testing.T) {
	params := DefaultParams()
	params.QuotaBps = 20_000
	_, err := NewEngine(newMemoryState(), SupplyFunc(func() (*big.Int, error) { return big.NewInt(1), nil }), newScriptedChain(1), params)
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestPercentageCap(t *testing.T) {
	params := testParams()
	require.Equal(t, uint64(410), PercentageCap(big.NewInt(4100), params))
	require.Zero(t, PercentageCap(big.NewInt(0), params))
	require.Zero(t, PercentageCap(nil, params))
	require.Zero(t, PercentageCap(big.NewInt(-5), params))

	full := params
	full.QuotaBps = MaxBps
	require.Equal(t, uint64(4100), PercentageCap(big.NewInt(4100), full))

	huge := new(big.Int).Lsh(big.NewInt(1), 300)
	require.Equal(t, uint64(math.MaxUint64), PercentageCap(huge, params))
}

func TestPercentageCapFloor(t *testing.T) {
	params := testParams()
	params.QuotaFloor = 1_000

	// 10% of 5000 is 500, lifted to the floor.
	require.Equal(t, uint64(1_000), PercentageCap(big.NewInt(5_000), params))
	// The floor never exceeds the supply itself.
	require.Equal(t, uint64(600), PercentageCap(big.NewInt(600), params))
	// Above the floor the percentage applies.
	require.Equal(t, uint64(2_000), PercentageCap(big.NewInt(20_000), params))
}

func TestWindowRollAndRemaining(t *testing.T) {
	params := testParams()
	params.WindowBlocks = 10

	var w Window
	require.True(t, w.Due(1))
	w = w.Roll(1, big.NewInt(4100), params.WindowBlocks)
	require.True(t, w.Initialised)
	require.Equal(t, uint64(1), w.Start)
	require.Equal(t, uint64(410), w.Remaining(big.NewInt(4100), params))

	w.Commit(400)
	require.Equal(t, uint64(10), w.Remaining(big.NewInt(4100), params))

	// A shrinking supply tightens the cap immediately.
	require.Zero(t, w.Remaining(big.NewInt(3000), params))
	// A growing supply does not loosen it beyond the window-start cap.
	require.Equal(t, uint64(10), w.Remaining(big.NewInt(100_000), params))

	// Not due yet: rolling is a no-op and the commitment stays.
	same := w.Roll(10, big.NewInt(9000), params.WindowBlocks)
	require.Equal(t, w.Committed, same.Committed)

	next := w.Roll(11, big.NewInt(9000), params.WindowBlocks)
	require.Equal(t, uint64(11), next.Start)
	require.Zero(t, next.Committed)
	require.Equal(t, uint64(900), next.Remaining(big.NewInt(9000), params))
}

func TestSelectForPoolingSkipsOversized(t *testing.T) {
	queue := []*Request{
		{Seq: 1, Amount: 500},
		{Seq: 2, Amount: 100},
		{Seq: 3, Amount: 200},
		{Seq: 4, Amount: 50},
		{Seq: 5, Amount: 10},
	}
	selected := SelectForPooling(queue, 300, 4)
	require.Len(t, selected, 2)
	require.Equal(t, uint64(2), selected[0].Seq)
	require.Equal(t, uint64(3), selected[1].Seq)

	selected = SelectForPooling(queue, 1_000, 4)
	require.Len(t, selected, 4)
	require.Equal(t, uint64(1), selected[0].Seq)
	require.Equal(t, uint64(4), selected[3].Seq)

	selected = SelectForPooling(queue, 60, 4)
	require.Len(t, selected, 2)
	require.Equal(t, uint64(4), selected[0].Seq)
	require.Equal(t, uint64(5), selected[1].Seq)

	require.Len(t, SelectForPooling(queue, 1_000, 2), 2)
	require.Empty(t, SelectForPooling(queue, 0, 4))
	require.Empty(t, SelectForPooling(queue, 300, 0))
}
