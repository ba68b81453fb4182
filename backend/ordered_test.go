package backend_test

import (
	"context"
	"math"
	"testing"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/backend/mock_backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

func TestOrderedIndex_KeyRoundTrip(t *testing.T) {
	mboxID := imap.NewMailboxID()

	for _, order := range []backend.Order{backend.Ascending, backend.Descending} {
		idx := backend.NewOrderedIndex(nil, order)

		for _, uid := range []imap.UID{0, 1, 42, math.MaxUint32} {
			got, err := idx.UID(idx.Key(mboxID, uid))
			require.NoError(t, err)
			require.Equal(t, uid, got, order.String())
		}
	}
}

func TestOrderedIndex_KeyOrder(t *testing.T) {
	mboxID := imap.NewMailboxID()

	asc := backend.NewOrderedIndex(nil, backend.Ascending)
	require.Less(t, string(asc.Key(mboxID, 1)), string(asc.Key(mboxID, 2)))

	desc := backend.NewOrderedIndex(nil, backend.Descending)
	require.Greater(t, string(desc.Key(mboxID, 1)), string(desc.Key(mboxID, 2)))
}

func TestOrderedIndex_Bounds(t *testing.T) {
	mboxID := imap.NewMailboxID()

	for _, order := range []backend.Order{backend.Ascending, backend.Descending} {
		idx := backend.NewOrderedIndex(nil, order)

		start, stop := idx.Bounds(mboxID, 3, 5)

		for uid := imap.UID(0); uid < 10; uid++ {
			want := uid >= 3 && uid <= 5
			require.Equal(t, want, backend.InRange(idx.Key(mboxID, uid), start, stop), "%v uid %v", order, uid)
		}

		start, stop = idx.Bounds(mboxID, 0, math.MaxUint32)
		require.True(t, backend.InRange(idx.Key(mboxID, 0), start, stop))
		require.True(t, backend.InRange(idx.Key(mboxID, math.MaxUint32), start, stop))

		other := imap.NewMailboxID()
		require.False(t, backend.InRange(idx.Key(other, 4), start, stop))
	}
}

func TestOrderedIndex_ScanEmptyRangeDoesNoIO(t *testing.T) {
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	// No call is expected on the table.
	table := mock_backend.NewMockTable(ctl)

	idx := backend.NewOrderedIndex(table, backend.Descending)

	rows, err := idx.Scan(context.Background(), imap.NewMailboxID(), backend.IndexScan{From: 9, To: 2})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestOrderedIndex_ScanDescendingReturnsAscending(t *testing.T) {
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	mboxID := imap.NewMailboxID()
	table := mock_backend.NewMockTable(ctl)
	idx := backend.NewOrderedIndex(table, backend.Descending)

	// Physical order of a descending backend: highest uid first.
	physical := []backend.Row{
		{Key: idx.Key(mboxID, 9), Cells: map[string][]byte{}},
		{Key: idx.Key(mboxID, 5), Cells: map[string][]byte{}},
		{Key: idx.Key(mboxID, 2), Cells: map[string][]byte{}},
	}

	table.EXPECT().Scan(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req backend.ScanRequest) (backend.Scanner, error) {
			require.Zero(t, req.Limit)
			return newSliceScanner(ctl, physical), nil
		},
	)

	rows, err := idx.Scan(context.Background(), mboxID, backend.IndexScan{From: 1, To: 10, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []imap.UID{2, 5}, uids(rows))
}

func TestOrderedIndex_ScanAscendingPushesLimit(t *testing.T) {
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	mboxID := imap.NewMailboxID()
	table := mock_backend.NewMockTable(ctl)
	idx := backend.NewOrderedIndex(table, backend.Ascending)

	physical := []backend.Row{
		{Key: idx.Key(mboxID, 2), Cells: map[string][]byte{}},
		{Key: idx.Key(mboxID, 5), Cells: map[string][]byte{}},
	}

	table.EXPECT().Scan(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req backend.ScanRequest) (backend.Scanner, error) {
			require.Equal(t, 2, req.Limit)
			return newSliceScanner(ctl, physical), nil
		},
	)

	rows, err := idx.Scan(context.Background(), mboxID, backend.IndexScan{From: 1, To: 10, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []imap.UID{2, 5}, uids(rows))
}

func newSliceScanner(ctl *gomock.Controller, rows []backend.Row) backend.Scanner {
	scanner := mock_backend.NewMockScanner(ctl)

	pos := -1

	scanner.EXPECT().Next().DoAndReturn(func() bool {
		pos++
		return pos < len(rows)
	}).AnyTimes()

	scanner.EXPECT().Row().DoAndReturn(func() backend.Row {
		return rows[pos]
	}).AnyTimes()

	scanner.EXPECT().Err().Return(nil).AnyTimes()
	scanner.EXPECT().Close().Return(nil)

	return scanner
}

func uids(rows []backend.IndexedRow) []imap.UID {
	res := make([]imap.UID, 0, len(rows))

	for _, row := range rows {
		res = append(res, row.UID)
	}

	return res
}
