package withdrawals

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, n int) (*Store, []*Request) {
	t.Helper()
	store := NewStore(newMemoryState())
	reqs := make([]*Request, 0, n)
	for i := 0; i < n; i++ {
		req, err := store.Create(Intent{
			Owner:       bytes.Repeat([]byte{byte(i + 1)}, 20),
			Amount:      uint64(10 * (i + 1)),
			Destination: []byte{0xde, 0xad},
		}, uint64(i))
		require.NoError(t, err)
		reqs = append(reqs, req)
	}
	return store, reqs
}

func TestStoreListByStatusPaginates(t *testing.T) {
	store, reqs := newTestStore(t, 5)

	page, err := store.ListByStatus(StatusQueued, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, reqs[0].ID, page[0].ID)
	require.Equal(t, reqs[1].ID, page[1].ID)

	page, err = store.ListByStatus(StatusQueued, page[1].Seq, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(3), page[0].Seq)

	page, err = store.ListByStatus(StatusQueued, 4, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(5), page[0].Seq)

	empty, err := store.ListByStatus(StatusComplete, 0, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestStoreTransitionMaintainsIndexes(t *testing.T) {
	store, reqs := newTestStore(t, 3)

	require.NoError(t, store.Transition(reqs[1], StatusPooled, 7))
	require.Equal(t, uint64(7), reqs[1].UpdatedAt)

	queued, err := store.CountByStatus(StatusQueued)
	require.NoError(t, err)
	require.Equal(t, 2, queued)

	pooled, err := store.ListByStatus(StatusPooled, 0, 0)
	require.NoError(t, err)
	require.Len(t, pooled, 1)
	require.Equal(t, reqs[1].ID, pooled[0].ID)

	err = store.Transition(reqs[0], StatusComplete, 8)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestStoreCompletedIndexIsBucketed(t *testing.T) {
	store, reqs := newTestStore(t, terminalBucketSize+2)
	first := reqs[0]
	last := reqs[terminalBucketSize+1]
	for _, req := range []*Request{first, last} {
		require.NoError(t, store.Transition(req, StatusPooled, 1))
		require.NoError(t, store.Transition(req, StatusComplete, 2))
	}

	count, err := store.CountByStatus(StatusComplete)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	state := store.state.(*memoryState)
	require.NotContains(t, state.data, string(statusIndexKey(StatusComplete)))
	require.Contains(t, state.data, string(statusBucketKey(StatusComplete, 0)))
	require.Contains(t, state.data, string(statusBucketKey(StatusComplete, 1)))

	done, err := store.ListByStatus(StatusComplete, 0, 0)
	require.NoError(t, err)
	require.Len(t, done, 2)
	require.Equal(t, first.ID, done[0].ID)
	require.Equal(t, last.ID, done[1].ID)

	page, err := store.ListByStatus(StatusComplete, 0, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, first.ID, page[0].ID)

	page, err = store.ListByStatus(StatusComplete, first.Seq, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, last.ID, page[0].ID)

	queued, err := store.CountByStatus(StatusQueued)
	require.NoError(t, err)
	require.Equal(t, terminalBucketSize, queued)
}

func TestStoreAssignTxIndexOnce(t *testing.T) {
	store, reqs := newTestStore(t, 2)

	require.NoError(t, store.AssignTxIndex(reqs[1]))
	require.NoError(t, store.AssignTxIndex(reqs[0]))
	require.Equal(t, uint64(0), reqs[1].TxIndex)
	require.Equal(t, uint64(1), reqs[0].TxIndex)

	require.NoError(t, store.AssignTxIndex(reqs[1]))
	require.Equal(t, uint64(0), reqs[1].TxIndex)

	owner, err := store.ByTxIndex(1)
	require.NoError(t, err)
	require.Equal(t, reqs[0].ID, owner.ID)

	_, err = store.ByTxIndex(9)
	require.ErrorIs(t, err, ErrNotFound)

	next, err := store.NextTxIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(2), next)
}

func TestStoreLedgerAndWindowRoundTrip(t *testing.T) {
	store := NewStore(newMemoryState())

	ledger, err := store.Ledger()
	require.NoError(t, err)
	require.Zero(t, ledger.Total)

	window, err := store.Window()
	require.NoError(t, err)
	require.False(t, window.Initialised)
	require.NotNil(t, window.SupplyAtStart)

	require.NoError(t, ledger.Lock(40))
	require.NoError(t, store.PutLedger(ledger))
	require.NoError(t, store.PutWindow(window.Roll(3, nil, 10)))

	ledger, err = store.Ledger()
	require.NoError(t, err)
	require.Equal(t, uint64(40), ledger.Total)

	window, err = store.Window()
	require.NoError(t, err)
	require.True(t, window.Initialised)
	require.Equal(t, uint64(3), window.Start)
	require.Equal(t, uint64(10), window.Duration)
}

func TestLedgerBounds(t *testing.T) {
	var ledger Ledger
	require.NoError(t, ledger.Lock(5))
	require.ErrorIs(t, ledger.Release(6), ErrLedgerUnderflow)
	require.ErrorIs(t, ledger.Release(6), ErrInvariantViolation)
	require.NoError(t, ledger.Release(5))

	ledger.Total = ^uint64(0)
	require.ErrorIs(t, ledger.Lock(1), ErrLedgerOverflow)
}

func TestStoreGetUnknown(t *testing.T) {
	store := NewStore(newMemoryState())
	_, err := store.Get(RequestID{0x01})
	require.ErrorIs(t, err, ErrNotFound)

	var nilStore *Store
	_, err = nilStore.Ledger()
	require.Error(t, err)
}

func TestStatusParsing(t *testing.T) {
	for _, status := range AllStatuses {
		parsed, err := ParseStatus(status.String())
		require.NoError(t, err)
		require.Equal(t, status, parsed)
	}
	_, err := ParseStatus("cancelled")
	require.Error(t, err)

	require.True(t, StatusExpired.Locked())
	require.False(t, StatusQueued.Locked())
	require.False(t, StatusComplete.Locked())
	require.True(t, StatusComplete.Terminal())

	require.Equal(t, ExternalChainlocked, ParseExternalStatus("CHAINLOCKED"))
	require.Equal(t, ExternalUnknown, ParseExternalStatus("whatever"))

	id := RequestID{0xab, 0xcd}
	parsed, err := ParseRequestID("0x" + id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}
