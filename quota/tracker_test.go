package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/backend/mock_backend"
	"github.com/ProtonMail/mailstore/internal/backend_impl/bolt"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

var testRoot = Root{Component: "mail", Scope: ScopeUser, Identifier: "user@example.com"}

func newTestTracker(t *testing.T, strategy Strategy) *Tracker {
	client, err := bolt.NewClient(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, client.Close()) })

	return NewTracker(client.Table(backend.TableQuota), strategy)
}

func TestTracker_AbsentIsZero(t *testing.T) {
	tracker := newTestTracker(t, StrategyDiff)

	v, err := tracker.GetCurrentValue(context.Background(), testRoot.Key(TypeSize))
	require.NoError(t, err)
	require.Zero(t, v)

	usage, err := tracker.GetCurrentQuotas(context.Background(), testRoot)
	require.NoError(t, err)
	require.Equal(t, Usage{}, usage)
}

func TestTracker_IncreaseDecrease(t *testing.T) {
	tracker := newTestTracker(t, StrategyDiff)
	ctx := context.Background()

	require.NoError(t, tracker.Increase(ctx, testRoot.Key(TypeCount), 3))
	require.NoError(t, tracker.Increase(ctx, testRoot.Key(TypeSize), 1000))
	require.NoError(t, tracker.Decrease(ctx, testRoot.Key(TypeCount), 1))

	count, err := tracker.GetCurrentMessageCount(ctx, testRoot)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	size, err := tracker.GetCurrentStorage(ctx, testRoot)
	require.NoError(t, err)
	require.Equal(t, int64(1000), size)

	// Other roots are untouched.
	other := Root{Component: "mail", Scope: ScopeDomain, Identifier: "example.com"}

	usage, err := tracker.GetCurrentQuotas(ctx, other)
	require.NoError(t, err)
	require.Equal(t, Usage{}, usage)
}

func TestTracker_RejectsNonPositiveDelta(t *testing.T) {
	tracker := newTestTracker(t, StrategyDiff)

	for _, delta := range []int64{0, -1} {
		require.ErrorIs(t, tracker.Increase(context.Background(), testRoot.Key(TypeCount), delta), backend.ErrPrecondition)
		require.ErrorIs(t, tracker.Decrease(context.Background(), testRoot.Key(TypeCount), delta), backend.ErrPrecondition)
	}

	require.ErrorIs(t, tracker.SetCurrentQuotas(context.Background(), testRoot, Unlimited, 0), backend.ErrPrecondition)
}

func TestTracker_Usage(t *testing.T) {
	tracker := newTestTracker(t, StrategyDiff)
	ctx := context.Background()

	require.NoError(t, tracker.IncreaseUsage(ctx, testRoot, 2, 300))
	require.NoError(t, tracker.DecreaseUsage(ctx, testRoot, 1, 100))
	require.NoError(t, tracker.IncreaseUsage(ctx, testRoot, 0, 0))

	usage, err := tracker.GetCurrentQuotas(ctx, testRoot)
	require.NoError(t, err)
	require.Equal(t, Usage{Count: 1, Size: 200}, usage)
}

func TestTracker_SetCurrentQuotas(t *testing.T) {
	for _, strategy := range []Strategy{StrategyDiff, StrategyResetThenIncrease} {
		strategy := strategy

		t.Run(strategy.String(), func(t *testing.T) {
			tracker := newTestTracker(t, strategy)
			ctx := context.Background()

			require.NoError(t, tracker.IncreaseUsage(ctx, testRoot, 10, 100))

			for _, target := range []Usage{{Count: 12, Size: 90}, {Count: 12, Size: 90}, {Count: 0, Size: 0}, {Count: 4, Size: 4096}} {
				require.NoError(t, tracker.SetCurrentQuotas(ctx, testRoot, target.Count, target.Size))

				usage, err := tracker.GetCurrentQuotas(ctx, testRoot)
				require.NoError(t, err)
				require.Equal(t, target, usage)
			}
		})
	}
}

func TestTracker_SetCurrentQuotasCalls(t *testing.T) {
	tests := []struct {
		strategy Strategy
		deltas   []int64
	}{
		{strategy: StrategyDiff, deltas: []int64{2, -10}},
		{strategy: StrategyResetThenIncrease, deltas: []int64{-10, 12, -100, 90}},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.strategy.String(), func(t *testing.T) {
			ctl := gomock.NewController(t)
			defer ctl.Finish()

			table := expectSnapshot(ctl, 10, 100)

			columns := []string{"count", "count", "size", "size"}
			if tc.strategy == StrategyDiff {
				columns = []string{"count", "size"}
			}

			var calls []*gomock.Call

			for i, delta := range tc.deltas {
				calls = append(calls, table.EXPECT().
					Increment(gomock.Any(), []byte(testRoot.String()), familyQuota, columns[i], delta).
					Return(int64(0), nil))
			}

			gomock.InOrder(calls...)

			require.NoError(t, NewTracker(table, tc.strategy).SetCurrentQuotas(context.Background(), testRoot, 12, 90))
		})
	}
}

// A failure between two steps leaves the state of the first step behind. With the reset strategy that is a
// value of zero, with the diff strategy the stored value is unchanged.
func TestTracker_SetCurrentQuotasInterrupted(t *testing.T) {
	errCrash := errors.New("crash")

	t.Run("reset", func(t *testing.T) {
		ctl := gomock.NewController(t)
		defer ctl.Finish()

		table := expectSnapshot(ctl, 10, 100)

		gomock.InOrder(
			table.EXPECT().Increment(gomock.Any(), gomock.Any(), familyQuota, "count", int64(-10)).Return(int64(0), nil),
			table.EXPECT().Increment(gomock.Any(), gomock.Any(), familyQuota, "count", int64(12)).Return(int64(0), errCrash),
		)

		err := NewTracker(table, StrategyResetThenIncrease).SetCurrentQuotas(context.Background(), testRoot, 12, 90)
		require.ErrorIs(t, err, errCrash)
		require.ErrorIs(t, err, backend.ErrStorageIO)
	})

	t.Run("diff", func(t *testing.T) {
		ctl := gomock.NewController(t)
		defer ctl.Finish()

		table := expectSnapshot(ctl, 10, 100)

		gomock.InOrder(
			table.EXPECT().Increment(gomock.Any(), gomock.Any(), familyQuota, "count", int64(2)).Return(int64(12), nil),
			table.EXPECT().Increment(gomock.Any(), gomock.Any(), familyQuota, "size", int64(-10)).Return(int64(0), errCrash),
		)

		err := NewTracker(table, StrategyDiff).SetCurrentQuotas(context.Background(), testRoot, 12, 90)
		require.ErrorIs(t, err, errCrash)
	})
}

func TestResolvers(t *testing.T) {
	require.Equal(t, Root{Component: "mail", Scope: ScopeUser, Identifier: "bob@Example.com"}, UserRootResolver("mail").RootFor("bob@Example.com"))
	require.Equal(t, Root{Component: "mail", Scope: ScopeDomain, Identifier: "example.com"}, DomainRootResolver("mail").RootFor("bob@Example.com"))
	require.Equal(t, Root{Component: "mail", Scope: ScopeGlobal}, DomainRootResolver("mail").RootFor("bob"))

	scope, err := ParseScope("Domain")
	require.NoError(t, err)
	require.Equal(t, ScopeDomain, scope)

	_, err = ParseScope("planet")
	require.Error(t, err)
}

func expectSnapshot(ctl *gomock.Controller, count, size int64) *mock_backend.MockTable {
	table := mock_backend.NewMockTable(ctl)

	table.EXPECT().Get(gomock.Any(), []byte(testRoot.String()), familyQuota).Return(backend.Row{
		Key: []byte(testRoot.String()),
		Cells: map[string][]byte{
			"count": backend.EncodeInt64(count),
			"size":  backend.EncodeInt64(size),
		},
	}, nil)

	return table
}
