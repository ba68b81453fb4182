package mailstore_test

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ProtonMail/mailstore"
	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/internal/backend_impl/bolt"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/ProtonMail/mailstore/quota"
	"github.com/ProtonMail/mailstore/reporter"
	"github.com/ProtonMail/mailstore/store"
	"github.com/stretchr/testify/require"
)

const testMessage = "From: alice@example.com\r\nSubject: hello\r\nContent-Type: text/html; charset=utf-8\r\n\r\n<p>hello</p>\r\n"

var testOptions = map[string]func() []mailstore.Option{
	"bolt": func() []mailstore.Option {
		return []mailstore.Option{mailstore.WithColumnFamilyBackend()}
	},
	"badger": func() []mailstore.Option {
		return []mailstore.Option{mailstore.WithWideColumnBackend()}
	},
	"sqlite": func() []mailstore.Option {
		return []mailstore.Option{mailstore.WithSQLiteBackend(false)}
	},
	"disk content": func() []mailstore.Option {
		return []mailstore.Option{
			mailstore.WithContentStore(store.NewOnDiskStoreBuilder()),
			mailstore.WithPassphrase([]byte("passphrase")),
		}
	},
	"memory content": func() []mailstore.Option {
		return []mailstore.Option{mailstore.WithContentStore(&store.InMemoryStoreBuilder{})}
	},
}

func withStores(t *testing.T, fn func(t *testing.T, s *mailstore.Store)) {
	for name, opts := range testOptions {
		opts := opts

		t.Run(name, func(t *testing.T) {
			s, err := mailstore.New(append(opts(), mailstore.WithDataDir(t.TempDir()))...)
			require.NoError(t, err)
			defer func() { require.NoError(t, s.Close()) }()

			fn(t, s)
		})
	}
}

func appendLiteral(t *testing.T, s *mailstore.Store, mboxID imap.MailboxID, raw string, flags ...string) mailbox.MetaData {
	literal, err := mailbox.ParseLiteral(strings.NewReader(raw))
	require.NoError(t, err)

	md, err := s.Messages().Add(context.Background(), mboxID, literal.NewAppendMessage(mailbox.WithFlags(imap.NewFlagSet(flags...))))
	require.NoError(t, err)

	return md
}

func TestStore_MessageLifecycle(t *testing.T) {
	withStores(t, func(t *testing.T, s *mailstore.Store) {
		ctx := context.Background()

		inbox, err := s.Mailboxes().Create(ctx, "alice@example.com", "INBOX")
		require.NoError(t, err)

		md := appendLiteral(t, s, inbox.ID, testMessage)
		require.Equal(t, imap.UID(1), md.UID)
		require.Equal(t, int64(len(testMessage)), md.Size)

		msgs, err := s.Messages().FindInMailbox(ctx, inbox.ID, imap.One(md.UID), imap.FetchFull, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.Equal(t, "text", msgs[0].MediaType)
		require.Equal(t, "html", msgs[0].SubType)

		full, err := mailbox.OpenFull(ctx, msgs[0].Content)
		require.NoError(t, err)

		b, err := io.ReadAll(full)
		require.NoError(t, err)
		require.NoError(t, full.Close())
		require.Equal(t, testMessage, string(b))

		updated, err := s.Messages().UpdateFlags(ctx, inbox.ID, imap.All(), mailbox.AddFlags(imap.FlagSeen, imap.FlagDeleted))
		require.NoError(t, err)
		require.Len(t, updated, 1)

		expunged, err := s.Messages().ExpungeMarkedForDeletionInMailbox(ctx, inbox.ID, imap.All())
		require.NoError(t, err)
		require.Contains(t, expunged, md.UID)

		count, err := s.Messages().CountMessagesInMailbox(ctx, inbox.ID)
		require.NoError(t, err)
		require.Zero(t, count)
	})
}

func TestStore_QuotaFollowsMessages(t *testing.T) {
	withStores(t, func(t *testing.T, s *mailstore.Store) {
		ctx := context.Background()
		root := s.QuotaRoot("alice@example.com")

		inbox, err := s.Mailboxes().Create(ctx, "alice@example.com", "INBOX")
		require.NoError(t, err)

		archive, err := s.Mailboxes().Create(ctx, "alice@example.com", "Archive")
		require.NoError(t, err)

		first := appendLiteral(t, s, inbox.ID, testMessage)
		second := appendLiteral(t, s, inbox.ID, testMessage, imap.FlagDeleted)

		_, err = s.Messages().Copy(ctx, archive.ID, inbox.ID, first.UID)
		require.NoError(t, err)

		usage, err := s.Quota().GetCurrentQuotas(ctx, root)
		require.NoError(t, err)
		require.Equal(t, quota.Usage{Count: 3, Size: 3 * int64(len(testMessage))}, usage)

		_, err = s.Messages().ExpungeMarkedForDeletionInMailbox(ctx, inbox.ID, imap.One(second.UID))
		require.NoError(t, err)

		require.NoError(t, s.Mailboxes().Delete(ctx, archive.ID))

		usage, err = s.Quota().GetCurrentQuotas(ctx, root)
		require.NoError(t, err)
		require.Equal(t, quota.Usage{Count: 1, Size: int64(len(testMessage))}, usage)

		// Other users are accounted apart.
		other, err := s.Quota().GetCurrentQuotas(ctx, s.QuotaRoot("bob@example.com"))
		require.NoError(t, err)
		require.Equal(t, quota.Usage{}, other)
	})
}

func TestStore_RecalculateQuota(t *testing.T) {
	s, err := mailstore.New(mailstore.WithDataDir(t.TempDir()), mailstore.WithQuotaStrategy(quota.StrategyResetThenIncrease))
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	ctx := context.Background()
	root := s.QuotaRoot("alice@example.com")

	inbox, err := s.Mailboxes().Create(ctx, "alice@example.com", "INBOX")
	require.NoError(t, err)

	appendLiteral(t, s, inbox.ID, testMessage)
	appendLiteral(t, s, inbox.ID, testMessage)

	// Drift the stored usage away from the actual one.
	require.NoError(t, s.Quota().IncreaseUsage(ctx, root, 5, 5000))

	usage, err := s.RecalculateQuota(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, quota.Usage{Count: 2, Size: 2 * int64(len(testMessage))}, usage)

	stored, err := s.Quota().GetCurrentQuotas(ctx, root)
	require.NoError(t, err)
	require.Equal(t, usage, stored)
}

func TestStore_RecalculateSharedQuota(t *testing.T) {
	s, err := mailstore.New(
		mailstore.WithDataDir(t.TempDir()),
		mailstore.WithQuotaRootResolver(quota.DomainRootResolver("mail")),
	)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	ctx := context.Background()

	for _, user := range []string{"alice@example.com", "bob@example.com"} {
		mbox, err := s.Mailboxes().Create(ctx, user, "INBOX")
		require.NoError(t, err)

		appendLiteral(t, s, mbox.ID, testMessage)
	}

	usage, err := s.Quota().GetCurrentQuotas(ctx, s.QuotaRoot("alice@example.com"))
	require.NoError(t, err)
	require.Equal(t, int64(2), usage.Count)

	_, err = s.RecalculateQuota(ctx, "alice@example.com")
	require.True(t, mailstore.IsPrecondition(err))
}

func TestStore_Errors(t *testing.T) {
	s, err := mailstore.New(mailstore.WithDataDir(t.TempDir()))
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	ctx := context.Background()

	_, err = s.Mailboxes().Get(ctx, imap.NewMailboxID())
	require.True(t, mailstore.IsNotFound(err))

	_, err = s.Mailboxes().Create(ctx, "alice@example.com", "INBOX")
	require.NoError(t, err)

	_, err = s.Mailboxes().Create(ctx, "alice@example.com", "INBOX")
	require.True(t, mailstore.IsPrecondition(err))
	require.False(t, mailstore.IsStorageIO(err))
}

type testReporter struct {
	lock     sync.Mutex
	messages []string
}

func (r *testReporter) ReportException(any) error {
	return nil
}

func (r *testReporter) ReportMessage(msg string) error {
	return r.ReportMessageWithContext(msg, nil)
}

func (r *testReporter) ReportMessageWithContext(msg string, _ reporter.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.messages = append(r.messages, msg)

	return nil
}

func (r *testReporter) ReportExceptionWithContext(any, reporter.Context) error {
	return nil
}

func TestStore_ReporterAndListener(t *testing.T) {
	dir := t.TempDir()
	rep := &testReporter{}
	listener := &countingListener{}

	s, err := mailstore.New(mailstore.WithDataDir(dir), mailstore.WithReporter(rep), mailstore.WithListener(listener))
	require.NoError(t, err)

	ctx := context.Background()

	inbox, err := s.Mailboxes().Create(ctx, "alice@example.com", "INBOX")
	require.NoError(t, err)

	appendLiteral(t, s, inbox.ID, testMessage)
	appendLiteral(t, s, inbox.ID, testMessage)
	require.Equal(t, 2, listener.added)
	require.NoError(t, s.Close())

	// Drift the mailbox counter behind the store's back.
	client, err := bolt.NewClient(filepath.Join(dir, "backend"))
	require.NoError(t, err)

	_, err = client.Table(backend.TableMailboxes).IncrementExisting(ctx, inbox.ID.ToBytes(), "mbox", "count", 3)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	s, err = mailstore.New(mailstore.WithDataDir(dir), mailstore.WithReporter(rep), mailstore.WithListener(listener))
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	counters, err := s.Messages().RecalculateCounters(ctx, inbox.ID)
	require.NoError(t, err)
	require.Equal(t, mailbox.Counters{MessageCount: 2, UnseenCount: 2}, counters)
	require.Len(t, rep.messages, 1)

	require.NoError(t, s.Mailboxes().Delete(ctx, inbox.ID))
	require.Equal(t, 2, listener.removed)
}

type countingListener struct {
	lock           sync.Mutex
	added, removed int
}

func (l *countingListener) MessagesAdded(_ context.Context, _ imap.MailboxID, msgs []mailbox.MetaData) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.added += len(msgs)
}

func (l *countingListener) MessagesRemoved(_ context.Context, _ imap.MailboxID, msgs []mailbox.MetaData) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.removed += len(msgs)
}
