package imap

import (
	"testing"
	"time"

	"github.com/bradenaw/juniper/parallel"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"
)

func newTestGenerator(now *time.Time) *EpochUIDValidityGenerator {
	gen := NewEpochUIDValidityGenerator(time.Unix(0, 0))
	gen.now = func() time.Time { return *now }

	return gen
}

func TestEpochUIDValidityGenerator_SameSecond(t *testing.T) {
	now := time.Unix(100, 0)
	gen := newTestGenerator(&now)

	for want := UID(100); want < 110; want++ {
		uid, err := gen.Generate()
		require.NoError(t, err)
		require.Equal(t, want, uid)
	}

	// The clock catches up with the bumped values.
	now = time.Unix(105, 0)

	uid, err := gen.Generate()
	require.NoError(t, err)
	require.Equal(t, UID(110), uid)

	now = time.Unix(200, 0)

	uid, err = gen.Generate()
	require.NoError(t, err)
	require.Equal(t, UID(200), uid)
}

func TestEpochUIDValidityGenerator_Exhausted(t *testing.T) {
	now := time.Unix(0, 0).Add(-time.Second)
	gen := newTestGenerator(&now)

	_, err := gen.Generate()
	require.ErrorIs(t, err, ErrUIDValidityExhausted)

	now = time.Unix(int64(^uint32(0)), 0)

	uid, err := gen.Generate()
	require.NoError(t, err)
	require.Equal(t, UID(^uint32(0)), uid)

	_, err = gen.Generate()
	require.ErrorIs(t, err, ErrUIDValidityExhausted)

	now = now.Add(time.Second)

	_, err = gen.Generate()
	require.ErrorIs(t, err, ErrUIDValidityExhausted)
}

func TestEpochUIDValidityGenerator_GenerateParallel(t *testing.T) {
	gen := DefaultEpochUIDValidityGenerator()

	const count = 1000

	uids := make([]UID, count)

	parallel.Do(0, count, func(i int) {
		uid, err := gen.Generate()
		require.NoError(t, err)

		uids[i] = uid
	})

	slices.Sort(uids)

	for i := 0; i < count-1; i++ {
		require.Less(t, uids[i], uids[i+1])
	}
}

func TestIncrementalUIDValidityGenerator(t *testing.T) {
	gen := NewIncrementalUIDValidityGenerator()

	for want := UID(1); want <= 3; want++ {
		uid, err := gen.Generate()
		require.NoError(t, err)
		require.Equal(t, want, uid)
	}
}
