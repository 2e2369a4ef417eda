package withdrawald

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"creditchain/core/events"
	"creditchain/core/state"
	"creditchain/crypto"
	"creditchain/native/withdrawals"
	"creditchain/services/withdrawald/corechain"
	"creditchain/storage"
	"creditchain/storage/trie"
)

type driverFixture struct {
	t           *testing.T
	db          storage.Database
	checkpoints *CheckpointStore
	sim         *corechain.Simulator
	bridge      *corechain.Bridge
	driver      *Driver
}

func testParams() withdrawals.Params {
	params := withdrawals.DefaultParams()
	params.WindowBlocks = 100
	params.ExpiryCoreBlocks = 5
	return params
}

func newDriverFixture(t *testing.T, opts ...DriverOption) *driverFixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	checkpoints, err := OpenCheckpoints(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = checkpoints.Close() })

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	signer, err := corechain.NewSigner(key, 0)
	require.NoError(t, err)
	sim := corechain.NewSimulator(100, 1)
	bridge, err := corechain.NewBridge(sim, signer, nil)
	require.NoError(t, err)

	f := &driverFixture{t: t, db: db, checkpoints: checkpoints, sim: sim, bridge: bridge}
	f.driver = f.open(opts...)
	require.NoError(t, f.driver.SeedSupply(big.NewInt(1_000_000)))
	return f
}

// open builds a driver over the fixture's database and checkpoint store.
func (f *driverFixture) open(opts ...DriverOption) *Driver {
	f.t.Helper()
	tr, err := trie.NewTrie(f.db, nil)
	require.NoError(f.t, err)
	driver, err := NewDriver(tr, f.checkpoints, func(manager *state.Manager, emitter events.Emitter) (*withdrawals.Engine, error) {
		return withdrawals.NewEngine(manager, manager.SupplyView(testParams().Denom), f.bridge, testParams(), withdrawals.WithEmitter(emitter))
	}, opts...)
	require.NoError(f.t, err)
	return driver
}

func (f *driverFixture) submit(amount uint64) *withdrawals.Request {
	f.t.Helper()
	owner := make([]byte, 20)
	owner[19] = 7
	req, err := f.driver.Submit(context.Background(), withdrawals.Intent{Owner: owner, Amount: amount, Destination: []byte{0x76, 0xa9, 0x14}})
	require.NoError(f.t, err)
	return req
}

func (f *driverFixture) step() *withdrawals.Report {
	f.t.Helper()
	report, err := f.driver.Step(context.Background())
	require.NoError(f.t, err)
	return report
}

func (f *driverFixture) status(id withdrawals.RequestID) withdrawals.Status {
	f.t.Helper()
	req, err := f.driver.Request(id)
	require.NoError(f.t, err)
	return req.Status
}

func bigInt(v int64) *big.Int {
	return big.NewInt(v)
}
