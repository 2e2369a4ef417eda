package withdrawals

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"reflect"
	"slices"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"creditchain/core/events"
)

type memoryState struct {
	data map[string][]byte
}

func newMemoryState() *memoryState {
	return &memoryState{data: make(map[string][]byte)}
}

func (m *memoryState) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok := m.data[string(key)]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memoryState) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.data[string(key)] = encoded
	return nil
}

func (m *memoryState) KVSetAdd(key []byte, value uint64) (bool, error) {
	var set []uint64
	if err := m.KVGetList(key, &set); err != nil {
		return false, err
	}
	pos, found := slices.BinarySearch(set, value)
	if found {
		return false, nil
	}
	return true, m.KVPut(key, slices.Insert(set, pos, value))
}

func (m *memoryState) KVSetRemove(key []byte, value uint64) (bool, error) {
	var set []uint64
	if err := m.KVGetList(key, &set); err != nil {
		return false, err
	}
	pos, found := slices.BinarySearch(set, value)
	if !found {
		return false, nil
	}
	set = slices.Delete(set, pos, pos+1)
	if len(set) == 0 {
		return true, m.KVDelete(key)
	}
	return true, m.KVPut(key, set)
}

func (m *memoryState) KVGetList(key []byte, out interface{}) error {
	raw, ok := m.data[string(key)]
	if !ok || len(raw) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() || val.Elem().Kind() != reflect.Slice {
			return fmt.Errorf("destination must be a slice pointer")
		}
		val.Elem().Set(reflect.MakeSlice(val.Elem().Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(raw, out)
}

func (m *memoryState) KVDelete(key []byte) error {
	delete(m.data, string(key))
	return nil
}

// scriptedChain is a core chain whose responses are set by the test.
type scriptedChain struct {
	height    uint64
	heightErr error
	statuses  map[uint64]ExternalStatus
	queryErr  error
	submitErr map[RequestID]error
	submitAll error
	submitted []UnlockTx
	attempts  int
	queries   int
	// confirmFrom marks a submission chain-locked once its attempt number
	// reaches the value. Zero disables automatic confirmation.
	confirmFrom uint32
}

func newScriptedChain(height uint64) *scriptedChain {
	return &scriptedChain{
		height:    height,
		statuses:  make(map[uint64]ExternalStatus),
		submitErr: make(map[RequestID]error),
	}
}

func (c *scriptedChain) Submit(_ context.Context, tx UnlockTx) error {
	c.attempts++
	if c.submitAll != nil {
		return c.submitAll
	}
	if err := c.submitErr[tx.RequestID]; err != nil {
		return err
	}
	c.submitted = append(c.submitted, tx)
	if c.confirmFrom > 0 && tx.Attempt >= c.confirmFrom {
		c.statuses[tx.Index] = ExternalChainlocked
	}
	return nil
}

func (c *scriptedChain) QueryStatuses(_ context.Context, indices []uint64, _ uint64) (map[uint64]ExternalStatus, error) {
	c.queries++
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	out := make(map[uint64]ExternalStatus, len(indices))
	for _, idx := range indices {
		if status, ok := c.statuses[idx]; ok {
			out[idx] = status
		}
	}
	return out, nil
}

func (c *scriptedChain) BestChainLockHeight(context.Context) (uint64, error) {
	if c.heightErr != nil {
		return 0, c.heightErr
	}
	return c.height, nil
}

type fixture struct {
	t      *testing.T
	state  *memoryState
	chain  *scriptedChain
	supply *big.Int
	engine *Engine
	events *events.Recorder
	height uint64
}

func testParams() Params {
	params := DefaultParams()
	params.QuotaBps = 1_000
	params.WindowBlocks = 1_000
	params.ExpiryCoreBlocks = 48
	return params
}

func newFixture(t *testing.T, supply int64, params Params) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		state:  newMemoryState(),
		chain:  newScriptedChain(100),
		supply: big.NewInt(supply),
		events: &events.Recorder{},
	}
	engine, err := NewEngine(f.state, SupplyFunc(func() (*big.Int, error) {
		return new(big.Int).Set(f.supply), nil
	}), f.chain, params, WithEmitter(f.events))
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) submit(amount uint64) *Request {
	f.t.Helper()
	owner := bytes.Repeat([]byte{0x01}, 20)
	req, err := f.engine.Submit(Intent{Owner: owner, Amount: amount, Destination: []byte("core-payout-script")}, f.height)
	require.NoError(f.t, err)
	return req
}

func (f *fixture) block() *Report {
	f.t.Helper()
	f.height++
	report, err := f.engine.ProcessBlock(context.Background(), BlockInfo{PlatformHeight: f.height, CoreHeight: f.chain.height})
	require.NoError(f.t, err)
	return report
}

func (f *fixture) reload(id RequestID) *Request {
	f.t.Helper()
	req, err := f.engine.Request(id)
	require.NoError(f.t, err)
	return req
}

func (f *fixture) count(status Status) int {
	f.t.Helper()
	n, err := f.engine.store.CountByStatus(status)
	require.NoError(f.t, err)
	return n
}

func (f *fixture) locked() uint64 {
	f.t.Helper()
	ledger, err := f.engine.Ledger()
	require.NoError(f.t, err)
	return ledger.Total
}
