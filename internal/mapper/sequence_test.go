package mapper

import (
	"context"
	"sync"
	"testing"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceAllocator_Monotonic(t *testing.T) {
	withBackends(t, func(t *testing.T, client backend.Client) {
		f := newFixture(t, client)
		seq := NewSequenceAllocator(client.Table(backend.TableMailboxes))
		ctx := context.Background()

		_, ok, err := seq.LastUID(ctx, f.mbox.ID)
		require.NoError(t, err)
		require.False(t, ok)

		for want := imap.UID(1); want <= 5; want++ {
			uid, err := seq.NextUID(ctx, f.mbox.ID)
			require.NoError(t, err)
			require.Equal(t, want, uid)
		}

		last, ok, err := seq.LastUID(ctx, f.mbox.ID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, imap.UID(5), last)

		for want := imap.ModSeq(1); want <= 3; want++ {
			modSeq, err := seq.NextModSeq(ctx, f.mbox.ID)
			require.NoError(t, err)
			require.Equal(t, want, modSeq)
		}

		highest, err := seq.HighestModSeq(ctx, f.mbox.ID)
		require.NoError(t, err)
		require.Equal(t, imap.ModSeq(3), highest)
	})
}

func TestSequenceAllocator_Concurrent(t *testing.T) {
	const (
		workers = 8
		perWork = 20
	)

	withBackends(t, func(t *testing.T, client backend.Client) {
		f := newFixture(t, client)
		seq := NewSequenceAllocator(client.Table(backend.TableMailboxes))

		var (
			wg   sync.WaitGroup
			lock sync.Mutex
			seen = make(map[imap.UID]struct{})
		)

		for i := 0; i < workers; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				for j := 0; j < perWork; j++ {
					uid, err := seq.NextUID(context.Background(), f.mbox.ID)
					if !assert.NoError(t, err) {
						return
					}

					lock.Lock()
					_, dup := seen[uid]
					seen[uid] = struct{}{}
					lock.Unlock()

					assert.False(t, dup, "uid %v issued twice", uid)
				}
			}()
		}

		wg.Wait()

		require.Len(t, seen, workers*perWork)

		last, ok, err := seq.LastUID(context.Background(), f.mbox.ID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, imap.UID(workers*perWork), last)
	})
}

func TestSequenceAllocator_UnknownMailbox(t *testing.T) {
	withBackends(t, func(t *testing.T, client backend.Client) {
		seq := NewSequenceAllocator(client.Table(backend.TableMailboxes))
		mboxID := imap.NewMailboxID()

		_, err := seq.NextUID(context.Background(), mboxID)
		require.True(t, backend.IsErrNotFound(err))

		_, err = seq.NextModSeq(context.Background(), mboxID)
		require.True(t, backend.IsErrNotFound(err))

		_, _, err = seq.LastUID(context.Background(), mboxID)
		require.True(t, backend.IsErrNotFound(err))

		var berr *backend.Error
		require.ErrorAs(t, err, &berr)
		require.Equal(t, mboxID.String(), berr.Context)
	})
}
