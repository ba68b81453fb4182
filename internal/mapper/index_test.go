package mapper

import (
	"context"
	"strings"
	"testing"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/backend/mock_backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/ProtonMail/mailstore/store"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

func TestMessageIndex_Ranges(t *testing.T) {
	withBackends(t, func(t *testing.T, client backend.Client) {
		f := newFixture(t, client)

		for i := 0; i < 5; i++ {
			f.add(t)
		}

		require.Equal(t, []imap.UID{1, 2, 3, 4, 5}, f.uids(t, imap.All(), 0))
		require.Equal(t, []imap.UID{3}, f.uids(t, imap.One(3), 0))
		require.Empty(t, f.uids(t, imap.One(9), 0))
		require.Equal(t, []imap.UID{2, 3, 4}, f.uids(t, imap.Range(2, 4), 0))
		require.Equal(t, []imap.UID{4, 5}, f.uids(t, imap.From(4), 0))
		require.Empty(t, f.uids(t, imap.Range(4, 2), 0))
		require.Equal(t, []imap.UID{1, 2}, f.uids(t, imap.All(), 2))
		require.Equal(t, []imap.UID{3, 4}, f.uids(t, imap.From(3), 2))
	})
}

func TestMessageIndex_MailboxesAreIsolated(t *testing.T) {
	withBackends(t, func(t *testing.T, client backend.Client) {
		f := newFixture(t, client)

		other, err := f.mailboxes.Create(context.Background(), "user", "Archive")
		require.NoError(t, err)

		f.add(t)
		f.add(t)
		f.addTo(t, other.ID, "A: b\r\n\r\n", "x")

		require.Equal(t, []imap.UID{1, 2}, f.uids(t, imap.All(), 0))

		msgs, err := f.messages.FindInMailbox(context.Background(), other.ID, imap.All(), imap.FetchMetadata, 0)
		require.NoError(t, err)
		require.Equal(t, []imap.UID{1}, messageUIDs(msgs))
	})
}

func TestMessageIndex_EmptyRangeDoesNoIO(t *testing.T) {
	ctl := gomock.NewController(t)
	defer ctl.Finish()

	table := mock_backend.NewMockTable(ctl)

	client := mock_backend.NewMockClient(ctl)
	client.EXPECT().Table(gomock.Any()).Return(table).AnyTimes()
	client.EXPECT().Order().Return(backend.Descending).AnyTimes()

	mapper := NewMessageMapper(client, store.NewInMemoryStore())
	mboxID := imap.NewMailboxID()

	msgs, err := mapper.FindInMailbox(context.Background(), mboxID, imap.Range(7, 3), imap.FetchFull, 0)
	require.NoError(t, err)
	require.Empty(t, msgs)

	updated, err := mapper.UpdateFlags(context.Background(), mboxID, imap.Range(7, 3), mailbox.AddFlags(imap.FlagSeen))
	require.NoError(t, err)
	require.Empty(t, updated)

	expunged, err := mapper.ExpungeMarkedForDeletionInMailbox(context.Background(), mboxID, imap.Range(7, 3))
	require.NoError(t, err)
	require.Empty(t, expunged)
}

func TestMessageIndex_Content(t *testing.T) {
	withBackends(t, func(t *testing.T, client backend.Client) {
		f := newFixture(t, client)

		header := "Subject: hello\r\nContent-Type: text/html\r\n\r\n"
		body := strings.Repeat("0123456789", 10000)

		md := f.addTo(t, f.mbox.ID, header, body)
		require.Equal(t, int64(len(header)+len(body)), md.Size)

		msgs, err := f.messages.FindInMailbox(context.Background(), f.mbox.ID, imap.One(md.UID), imap.FetchFull, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.Equal(t, int64(len(header)), msgs[0].BodyStartOctet)
		require.Equal(t, md.Size, msgs[0].Size)
		require.Equal(t, header, readPart(t, msgs[0].Content.Header))
		require.Equal(t, body, readPart(t, msgs[0].Content.Body))

		full, err := mailbox.OpenFull(context.Background(), msgs[0].Content)
		require.NoError(t, err)
		require.NoError(t, full.Close())

		msgs, err = f.messages.FindInMailbox(context.Background(), f.mbox.ID, imap.One(md.UID), imap.FetchMetadata, 0)
		require.NoError(t, err)
		require.Nil(t, msgs[0].Content)

		msgs, err = f.messages.FindInMailbox(context.Background(), f.mbox.ID, imap.One(md.UID), imap.FetchHeaders, 0)
		require.NoError(t, err)
		require.Equal(t, header, readPart(t, msgs[0].Content.Header))

		_, err = msgs[0].Content.Body(context.Background())
		require.ErrorIs(t, err, ErrPartNotFetched)
	})
}

func TestMessageIndex_Record(t *testing.T) {
	withBackends(t, func(t *testing.T, client backend.Client) {
		f := newFixture(t, client)

		md := f.add(t, imap.FlagFlagged, "$Important", "custom")

		msgs, err := f.messages.FindInMailbox(context.Background(), f.mbox.ID, imap.One(md.UID), imap.FetchMetadata, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		msg := msgs[0]
		require.Equal(t, f.mbox.ID, msg.MailboxID)
		require.Equal(t, md.ModSeq, msg.ModSeq)
		require.Equal(t, md.InternalDate.UnixMilli(), msg.InternalDate.UnixMilli())
		require.Equal(t, "text", msg.MediaType)
		require.Equal(t, "plain", msg.SubType)
		require.True(t, msg.Flags.Equals(imap.NewFlagSet(imap.FlagFlagged, "$Important", "custom")))
		require.ElementsMatch(t, []string{"$Important", "custom"}, msg.Flags.Keywords())
	})
}

func TestMessageIndex_RejectsIncompleteRecord(t *testing.T) {
	withBackends(t, func(t *testing.T, client backend.Client) {
		f := newFixture(t, client)
		md := f.add(t)

		idx := backend.NewOrderedIndex(client.Table(backend.TableMessages), client.Order())

		require.NoError(t, idx.Table().Put(context.Background(), idx.Key(f.mbox.ID, md.UID+1), familyMessage, map[string][]byte{
			colModSeq:                 backend.EncodeInt64(9),
			flagColumn(imap.FlagSeen): flagOn,
		}))

		_, err := f.messages.FindInMailbox(context.Background(), f.mbox.ID, imap.All(), imap.FetchMetadata, 0)
		require.ErrorIs(t, err, backend.ErrStorageIO)

		require.Equal(t, []imap.UID{md.UID}, f.uids(t, imap.One(md.UID), 0))
	})
}

func TestMessageIndex_Counters(t *testing.T) {
	withBackends(t, func(t *testing.T, client backend.Client) {
		f := newFixture(t, client)

		f.add(t)
		f.add(t, imap.FlagSeen)
		f.add(t, imap.FlagDeleted)

		count, unseen := f.counters(t)
		require.Equal(t, int64(3), count)
		require.Equal(t, int64(2), unseen)
	})
}

func TestMessageIndex_DeleteLeavesCounters(t *testing.T) {
	withBackends(t, func(t *testing.T, client backend.Client) {
		f := newFixture(t, client)
		md := f.add(t)

		existed, err := f.messages.index.Delete(context.Background(), f.mbox.ID, md.UID)
		require.NoError(t, err)
		require.True(t, existed)

		existed, err = f.messages.index.Delete(context.Background(), f.mbox.ID, md.UID)
		require.NoError(t, err)
		require.False(t, existed)

		count, _ := f.counters(t)
		require.Equal(t, int64(1), count)
		require.Empty(t, f.uids(t, imap.All(), 0))
	})
}
