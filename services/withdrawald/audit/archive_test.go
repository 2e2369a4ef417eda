package audit

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"creditchain/native/withdrawals"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	db, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	archive, err := NewArchive(db)
	require.NoError(t, err)
	return archive
}

func testRequest(seq uint64, status withdrawals.Status) *withdrawals.Request {
	var id withdrawals.RequestID
	id[0] = byte(seq)
	return &withdrawals.Request{
		ID:          id,
		Seq:         seq,
		Owner:       []byte{byte(seq)},
		Amount:      100 * seq,
		Destination: []byte{0x76, 0xa9},
		Status:      status,
		CreatedAt:   1,
		UpdatedAt:   1,
	}
}

func TestArchiveUpsertsRequestSnapshots(t *testing.T) {
	ctx := context.Background()
	archive := newTestArchive(t)

	req := testRequest(1, withdrawals.StatusQueued)
	require.NoError(t, archive.RecordRequest(ctx, req))

	req.Status = withdrawals.StatusBroadcasted
	req.TxIndex = 4
	req.HasIndex = true
	req.BroadcastAt = 3
	require.NoError(t, archive.Record(ctx, &withdrawals.Report{Height: 3, CoreHeight: 50, Broadcasted: 1}, "0xabc", []*withdrawals.Request{req}))

	record, err := archive.Request(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, "broadcasted", record.Status)
	require.NotNil(t, record.TxIndex)
	require.Equal(t, uint64(4), *record.TxIndex)
	require.Equal(t, "76a9", record.Destination)

	_, err = archive.Request(ctx, withdrawals.RequestID{0xff})
	require.ErrorIs(t, err, withdrawals.ErrNotFound)
}

func TestArchiveBlocksAndSettlements(t *testing.T) {
	ctx := context.Background()
	archive := newTestArchive(t)

	done := testRequest(1, withdrawals.StatusComplete)
	done.TxIndex, done.HasIndex = 0, true
	done.Attempts = 1
	done.BroadcastAt = 2
	done.CompletedAt = 5
	pending := testRequest(2, withdrawals.StatusBroadcasted)

	require.NoError(t, archive.Record(ctx, &withdrawals.Report{Height: 4, Skipped: []string{"chainlock: offline"}}, "0x01", []*withdrawals.Request{pending}))
	require.NoError(t, archive.Record(ctx, &withdrawals.Report{Height: 5, Completed: 1, Released: 100}, "0x02", []*withdrawals.Request{done}))

	blocks, err := archive.Blocks(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, uint64(4), blocks[0].Height)
	require.Equal(t, "chainlock: offline", blocks[0].Skipped)
	require.Equal(t, uint64(100), blocks[1].Released)

	rows, err := archive.Settlements(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, done.ID.String(), rows[0].RequestID)
	require.Equal(t, uint64(5), rows[0].CompletedAt)

	empty, err := archive.Settlements(ctx, 6, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
	_, err = Open("postgres", "")
	require.Error(t, err)
}
