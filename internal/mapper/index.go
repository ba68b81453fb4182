package mapper

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/ProtonMail/mailstore/store"
	"github.com/sirupsen/logrus"
)

var ErrPartNotFetched = errors.New("message part was not fetched")

// MessageIndex stores the message records of mailboxes and keeps the mailbox counters in line with them.
// Records are keyed by (mailbox, uid) through an OrderedIndex so lookups are always in ascending uid order,
// whatever the physical order of the backend.
type MessageIndex struct {
	messages  *backend.OrderedIndex
	mailboxes backend.Table
	content   store.ContentStore
}

func NewMessageIndex(client backend.Client, content store.ContentStore) *MessageIndex {
	return &MessageIndex{
		messages:  backend.NewOrderedIndex(client.Table(backend.TableMessages), client.Order()),
		mailboxes: client.Table(backend.TableMailboxes),
		content:   content,
	}
}

// Add stores the content of msg, then its record, then updates the mailbox counters. The uid and the
// mod-sequence of msg must already be allocated. Size and BodyStartOctet are filled from the stored content.
// A failure after the content was written leaves orphan content behind but never a record without content.
func (idx *MessageIndex) Add(ctx context.Context, mboxID imap.MailboxID, msg *mailbox.Message, header, body io.Reader) error {
	ref := contentRef(mboxID, msg.UID)

	headerLen, bodyLen, err := idx.content.Put(ctx, ref, header, body)
	if err != nil {
		return wrap("store content", mboxID, err)
	}

	msg.MailboxID = mboxID
	msg.Size = headerLen + bodyLen
	msg.BodyStartOctet = headerLen

	if msg.Flags == nil {
		msg.Flags = imap.NewFlagSet()
	}

	if err := idx.messages.Table().Put(ctx, idx.messages.Key(mboxID, msg.UID), familyMessage, encodeMessage(msg)); err != nil {
		return wrap("add message", mboxID, err)
	}

	if err := idx.adjustCounters(ctx, mboxID, 1, boolToInt(isUnseen(msg.Flags))); err != nil {
		return err
	}

	if err := idx.registerKeywords(ctx, mboxID, msg.Flags); err != nil {
		return err
	}

	msg.Content = idx.contentOf(ref, imap.FetchFull)

	return nil
}

// Get returns the records of the range in ascending uid order. With max > 0 only the records with the max
// lowest uids are returned. An empty range returns no record without touching the backend.
func (idx *MessageIndex) Get(
	ctx context.Context,
	mboxID imap.MailboxID,
	rng imap.MessageRange,
	fetch imap.FetchType,
	max int,
) ([]*mailbox.Message, error) {
	return idx.find(ctx, mboxID, rng, nil, max, fetch)
}

// Delete removes the record of a message and reports whether it existed. Counters and content are left
// untouched.
func (idx *MessageIndex) Delete(ctx context.Context, mboxID imap.MailboxID, uid imap.UID) (bool, error) {
	existed, err := idx.messages.Table().Delete(ctx, idx.messages.Key(mboxID, uid))
	if err != nil {
		return false, wrap("delete message", mboxID, err)
	}

	return existed, nil
}

// DeleteContent removes the content of the given messages. Failures are logged only: orphan content is
// invisible to readers.
func (idx *MessageIndex) DeleteContent(ctx context.Context, mboxID imap.MailboxID, uids ...imap.UID) {
	if len(uids) == 0 {
		return
	}

	refs := make([]string, 0, len(uids))

	for _, uid := range uids {
		refs = append(refs, contentRef(mboxID, uid))
	}

	if err := idx.content.Delete(ctx, refs...); err != nil {
		logrus.WithError(err).WithField("mailbox", mboxID.ShortID()).Warn("Failed to delete message content")
	}
}

func (idx *MessageIndex) CountTotal(ctx context.Context, mboxID imap.MailboxID) (int64, error) {
	return idx.readCounter(ctx, mboxID, "count messages", colCount)
}

func (idx *MessageIndex) CountUnseen(ctx context.Context, mboxID imap.MailboxID) (int64, error) {
	return idx.readCounter(ctx, mboxID, "count unseen messages", colUnseen)
}

// Keywords returns every keyword registered on the mailbox.
func (idx *MessageIndex) Keywords(ctx context.Context, mboxID imap.MailboxID) ([]string, error) {
	row, err := idx.mailboxes.Get(ctx, mboxID.ToBytes(), familyMailbox)
	if err != nil {
		return nil, wrap("get keywords", mboxID, err)
	}

	var keywords []string

	for _, col := range row.Columns() {
		if strings.HasPrefix(col, keywordPrefix) {
			keywords = append(keywords, row.String(col))
		}
	}

	return keywords, nil
}

func (idx *MessageIndex) find(
	ctx context.Context,
	mboxID imap.MailboxID,
	rng imap.MessageRange,
	filter *backend.Filter,
	limit int,
	fetch imap.FetchType,
) ([]*mailbox.Message, error) {
	if rng.IsEmpty() {
		return nil, nil
	}

	from, to := rng.Bounds()

	rows, err := idx.messages.Scan(ctx, mboxID, backend.IndexScan{
		From:   from,
		To:     to,
		Family: familyMessage,
		Filter: filter,
		Limit:  limit,
	})
	if err != nil {
		return nil, wrap("find messages", mboxID, err)
	}

	msgs := make([]*mailbox.Message, 0, len(rows))

	for _, row := range rows {
		msg, err := decodeMessage(mboxID, row)
		if err != nil {
			return nil, wrap("decode message", mboxID, err)
		}

		if fetch != imap.FetchMetadata {
			msg.Content = idx.contentOf(contentRef(mboxID, msg.UID), fetch)
		}

		msgs = append(msgs, msg)
	}

	return msgs, nil
}

// putFlags writes the flags and mod-sequence of an existing record. It reports false, writing nothing, if the
// record is gone, e.g. expunged since it was read.
func (idx *MessageIndex) putFlags(
	ctx context.Context,
	mboxID imap.MailboxID,
	uid imap.UID,
	old, flags imap.FlagSet,
	modSeq imap.ModSeq,
) (bool, error) {
	cells := encodeFlags(old, flags)
	cells[colModSeq] = backend.EncodeInt64(int64(modSeq))

	if err := idx.messages.Table().PutExisting(ctx, idx.messages.Key(mboxID, uid), familyMessage, cells); err != nil {
		if backend.IsErrNotFound(err) {
			return false, nil
		}

		return false, wrap("update flags", mboxID, err)
	}

	return true, nil
}

// adjustCounters applies deltas to the message counters of the mailbox. Each counter is a separate
// atomic increment.
func (idx *MessageIndex) adjustCounters(ctx context.Context, mboxID imap.MailboxID, count, unseen int64) error {
	if count != 0 {
		if _, err := idx.mailboxes.IncrementExisting(ctx, mboxID.ToBytes(), familyMailbox, colCount, count); err != nil {
			return wrap("adjust message count", mboxID, err)
		}
	}

	if unseen != 0 {
		if _, err := idx.mailboxes.IncrementExisting(ctx, mboxID.ToBytes(), familyMailbox, colUnseen, unseen); err != nil {
			return wrap("adjust unseen count", mboxID, err)
		}
	}

	return nil
}

func (idx *MessageIndex) registerKeywords(ctx context.Context, mboxID imap.MailboxID, flags imap.FlagSet) error {
	keywords := flags.Keywords()
	if len(keywords) == 0 {
		return nil
	}

	cells := make(map[string][]byte, len(keywords))

	for _, keyword := range keywords {
		cells[keywordColumn(keyword)] = []byte(keyword)
	}

	if err := idx.mailboxes.Put(ctx, mboxID.ToBytes(), familyMailbox, cells); err != nil {
		return wrap("register keywords", mboxID, err)
	}

	return nil
}

func (idx *MessageIndex) readCounter(ctx context.Context, mboxID imap.MailboxID, op, column string) (int64, error) {
	row, err := idx.mailboxes.Get(ctx, mboxID.ToBytes(), familyMailbox, column)
	if err != nil {
		return 0, wrap(op, mboxID, err)
	}

	v, err := row.Int(column)
	if err != nil {
		return 0, wrap(op, mboxID, err)
	}

	return v, nil
}

func (idx *MessageIndex) contentOf(ref string, fetch imap.FetchType) mailbox.Content {
	return &storedContent{store: idx.content, ref: ref, fetch: fetch}
}

// storedContent opens the parts of a message from the content store on demand.
type storedContent struct {
	store store.ContentStore
	ref   string
	fetch imap.FetchType
}

func (c *storedContent) Header(ctx context.Context) (io.ReadCloser, error) {
	if !c.fetch.WantsHeaders() {
		return nil, ErrPartNotFetched
	}

	return c.store.Header(ctx, c.ref)
}

func (c *storedContent) Body(ctx context.Context) (io.ReadCloser, error) {
	if !c.fetch.WantsBody() {
		return nil, ErrPartNotFetched
	}

	return c.store.Body(ctx, c.ref)
}
