package mapper

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/internal/backend_impl/badger"
	"github.com/ProtonMail/mailstore/internal/backend_impl/bolt"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/ProtonMail/mailstore/store"
	"github.com/stretchr/testify/require"
)

var testBackends = map[string]func(t *testing.T) backend.Client{
	"bolt": func(t *testing.T) backend.Client {
		client, err := bolt.NewClient(t.TempDir())
		require.NoError(t, err)

		return client
	},
	"badger": func(t *testing.T) backend.Client {
		client, err := badger.NewClient("")
		require.NoError(t, err)

		return client
	},
}

// withBackends runs fn once per backend, so that both physical row orders are covered.
func withBackends(t *testing.T, fn func(t *testing.T, client backend.Client)) {
	for name, newClient := range testBackends {
		newClient := newClient

		t.Run(name, func(t *testing.T) {
			client := newClient(t)
			defer func() { require.NoError(t, client.Close()) }()

			fn(t, client)
		})
	}
}

type fixture struct {
	client    backend.Client
	content   store.ContentStore
	messages  *MessageMapper
	mailboxes *MailboxMapper
	listener  *recordingListener
	mbox      mailbox.Mailbox
}

func newFixture(t *testing.T, client backend.Client) *fixture {
	f := &fixture{
		client:   client,
		content:  store.NewChunkedStore(client.Table(backend.TableContent)),
		listener: &recordingListener{},
	}

	f.messages = NewMessageMapper(client, f.content, f.listener)
	f.mailboxes = NewMailboxMapper(client, f.messages, imap.NewIncrementalUIDValidityGenerator())

	mbox, err := f.mailboxes.Create(context.Background(), "user", "INBOX")
	require.NoError(t, err)

	f.mbox = mbox

	return f
}

func (f *fixture) add(t *testing.T, flags ...string) mailbox.MetaData {
	return f.addTo(t, f.mbox.ID, "Subject: test\r\n\r\n", "body\r\n", flags...)
}

func (f *fixture) addTo(t *testing.T, mboxID imap.MailboxID, header, body string, flags ...string) mailbox.MetaData {
	md, err := f.messages.Add(context.Background(), mboxID, &mailbox.AppendMessage{
		Flags:     imap.NewFlagSet(flags...),
		MediaType: "text",
		SubType:   "plain",
		Header:    strings.NewReader(header),
		Body:      strings.NewReader(body),
	})
	require.NoError(t, err)

	return md
}

func (f *fixture) uids(t *testing.T, rng imap.MessageRange, max int) []imap.UID {
	msgs, err := f.messages.FindInMailbox(context.Background(), f.mbox.ID, rng, imap.FetchMetadata, max)
	require.NoError(t, err)

	return messageUIDs(msgs)
}

func (f *fixture) counters(t *testing.T) (int64, int64) {
	count, err := f.messages.CountMessagesInMailbox(context.Background(), f.mbox.ID)
	require.NoError(t, err)

	unseen, err := f.messages.CountUnseenMessagesInMailbox(context.Background(), f.mbox.ID)
	require.NoError(t, err)

	return count, unseen
}

func (f *fixture) modSeq(t *testing.T) imap.ModSeq {
	modSeq, err := f.messages.GetHighestModSeq(context.Background(), f.mbox.ID)
	require.NoError(t, err)

	return modSeq
}

func messageUIDs(msgs []*mailbox.Message) []imap.UID {
	uids := make([]imap.UID, 0, len(msgs))

	for _, msg := range msgs {
		uids = append(uids, msg.UID)
	}

	return uids
}

func readPart(t *testing.T, open func(context.Context) (io.ReadCloser, error)) string {
	rc, err := open(context.Background())
	require.NoError(t, err)

	defer func() { require.NoError(t, rc.Close()) }()

	b, err := io.ReadAll(rc)
	require.NoError(t, err)

	return string(b)
}

type recordingListener struct {
	added   []mailbox.MetaData
	removed []mailbox.MetaData
	lock    sync.Mutex
}

func (l *recordingListener) MessagesAdded(_ context.Context, _ imap.MailboxID, msgs []mailbox.MetaData) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.added = append(l.added, msgs...)
}

func (l *recordingListener) MessagesRemoved(_ context.Context, _ imap.MailboxID, msgs []mailbox.MetaData) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.removed = append(l.removed, msgs...)
}

// hookedClient lets a test intercept the operations on the message table.
type hookedClient struct {
	backend.Client

	messages *hookedTable
}

func newHookedClient(client backend.Client) *hookedClient {
	return &hookedClient{
		Client:   client,
		messages: &hookedTable{Table: client.Table(backend.TableMessages)},
	}
}

func (c *hookedClient) Table(name string) backend.Table {
	if name == backend.TableMessages {
		return c.messages
	}

	return c.Client.Table(name)
}

type hookedTable struct {
	backend.Table

	beforePut    func(row []byte) error
	beforeDelete func(row []byte) error
}

func (t *hookedTable) Put(ctx context.Context, row []byte, family string, cells map[string][]byte) error {
	if t.beforePut != nil {
		if err := t.beforePut(row); err != nil {
			return err
		}
	}

	return t.Table.Put(ctx, row, family, cells)
}

func (t *hookedTable) PutExisting(ctx context.Context, row []byte, family string, cells map[string][]byte) error {
	if t.beforePut != nil {
		if err := t.beforePut(row); err != nil {
			return err
		}
	}

	return t.Table.PutExisting(ctx, row, family, cells)
}

func (t *hookedTable) Delete(ctx context.Context, row []byte) (bool, error) {
	if t.beforeDelete != nil {
		if err := t.beforeDelete(row); err != nil {
			return false, err
		}
	}

	return t.Table.Delete(ctx, row)
}
