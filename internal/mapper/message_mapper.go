package mapper

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/ProtonMail/mailstore/metrics"
	"github.com/ProtonMail/mailstore/reporter"
	"github.com/ProtonMail/mailstore/store"
	"github.com/sirupsen/logrus"
)

// MessageMapper implements mailbox.MessageMapper on top of the sequence allocator, the message index,
// the flags engine and the expunge coordinator.
type MessageMapper struct {
	seq     *SequenceAllocator
	index   *MessageIndex
	flags   *FlagsUpdateEngine
	expunge *ExpungeCoordinator

	listeners []mailbox.Listener
}

func NewMessageMapper(client backend.Client, content store.ContentStore, listeners ...mailbox.Listener) *MessageMapper {
	seq := NewSequenceAllocator(client.Table(backend.TableMailboxes))
	index := NewMessageIndex(client, content)

	return &MessageMapper{
		seq:       seq,
		index:     index,
		flags:     NewFlagsUpdateEngine(index, seq),
		expunge:   NewExpungeCoordinator(index, seq),
		listeners: listeners,
	}
}

func (m *MessageMapper) Add(ctx context.Context, mboxID imap.MailboxID, msg *mailbox.AppendMessage) (mailbox.MetaData, error) {
	uid, err := m.seq.NextUID(ctx, mboxID)
	if err != nil {
		return mailbox.MetaData{}, err
	}

	modSeq, err := m.seq.NextModSeq(ctx, mboxID)
	if err != nil {
		return mailbox.MetaData{}, err
	}

	rec := &mailbox.Message{
		UID:          uid,
		ModSeq:       modSeq,
		InternalDate: msg.InternalDate,
		MediaType:    msg.MediaType,
		SubType:      msg.SubType,
		Flags:        msg.Flags,
	}

	if rec.InternalDate.IsZero() {
		rec.InternalDate = time.Now()
	}

	if err := m.index.Add(ctx, mboxID, rec, orEmpty(msg.Header), orEmpty(msg.Body)); err != nil {
		return mailbox.MetaData{}, err
	}

	metrics.MessagesAdded(1)

	logEntry(ctx, mboxID).WithField("uid", uid).Debug("Added message")

	m.notifyAdded(ctx, mboxID, rec.MetaData())

	return rec.MetaData(), nil
}

func (m *MessageMapper) FindInMailbox(
	ctx context.Context,
	mboxID imap.MailboxID,
	rng imap.MessageRange,
	fetch imap.FetchType,
	max int,
) ([]*mailbox.Message, error) {
	return m.index.Get(ctx, mboxID, rng, fetch, max)
}

func (m *MessageMapper) UpdateFlags(
	ctx context.Context,
	mboxID imap.MailboxID,
	rng imap.MessageRange,
	transform mailbox.FlagsTransform,
) ([]mailbox.UpdatedFlags, error) {
	res, err := m.flags.UpdateFlags(ctx, mboxID, rng, transform)
	if err != nil {
		reporter.MessageWithContext(ctx,
			"Flag update partially applied",
			reporter.Context{"error": err, "mailbox": mboxID.String(), "range": rng.String(), "applied": len(res)},
		)
	}

	return res, err
}

func (m *MessageMapper) ExpungeMarkedForDeletionInMailbox(
	ctx context.Context,
	mboxID imap.MailboxID,
	rng imap.MessageRange,
) (map[imap.UID]mailbox.MetaData, error) {
	res, err := m.expunge.Expunge(ctx, mboxID, rng)
	if err != nil {
		reporter.MessageWithContext(ctx,
			"Expunge partially applied",
			reporter.Context{"error": err, "mailbox": mboxID.String(), "range": rng.String(), "removed": len(res)},
		)
	}

	if len(res) > 0 {
		removed := make([]mailbox.MetaData, 0, len(res))

		for _, md := range res {
			removed = append(removed, md)
		}

		m.notifyRemoved(ctx, mboxID, removed...)
	}

	return res, err
}

// Delete removes a single message whatever its flags. Like Expunge, the row removal, the counter update
// and the mod-sequence bump are separate steps.
func (m *MessageMapper) Delete(ctx context.Context, mboxID imap.MailboxID, uid imap.UID) (bool, error) {
	msgs, err := m.index.Get(ctx, mboxID, imap.One(uid), imap.FetchMetadata, 0)
	if err != nil || len(msgs) == 0 {
		return false, err
	}

	existed, err := m.index.Delete(ctx, mboxID, uid)
	if err != nil || !existed {
		return false, err
	}

	if err := m.index.adjustCounters(ctx, mboxID, -1, -boolToInt(isUnseen(msgs[0].Flags))); err != nil {
		return true, err
	}

	if _, err := m.seq.NextModSeq(ctx, mboxID); err != nil {
		return true, err
	}

	m.index.DeleteContent(ctx, mboxID, uid)

	metrics.MessagesRemoved(1)

	m.notifyRemoved(ctx, mboxID, msgs[0].MetaData())

	return true, nil
}

// Copy adds a copy of a message of srcID to dstID. The copy gets a new uid and mod-sequence, keeps the flags
// of the original and is marked \Recent. Content is streamed from the original.
func (m *MessageMapper) Copy(ctx context.Context, dstID, srcID imap.MailboxID, uid imap.UID) (mailbox.MetaData, error) {
	msgs, err := m.index.Get(ctx, srcID, imap.One(uid), imap.FetchFull, 0)
	if err != nil {
		return mailbox.MetaData{}, err
	}

	if len(msgs) == 0 {
		return mailbox.MetaData{}, backend.Wrap("copy message", srcID.String(), fmt.Errorf("uid %v: %w", uid, backend.ErrNotFound))
	}

	src := msgs[0]

	header, err := src.Content.Header(ctx)
	if err != nil {
		return mailbox.MetaData{}, wrap("copy message", srcID, err)
	}

	defer func() { _ = header.Close() }()

	body, err := src.Content.Body(ctx)
	if err != nil {
		return mailbox.MetaData{}, wrap("copy message", srcID, err)
	}

	defer func() { _ = body.Close() }()

	return m.Add(ctx, dstID, &mailbox.AppendMessage{
		InternalDate: src.InternalDate,
		Flags:        src.Flags.Add(imap.FlagRecent),
		MediaType:    src.MediaType,
		SubType:      src.SubType,
		Header:       header,
		Body:         body,
	})
}

func (m *MessageMapper) CountMessagesInMailbox(ctx context.Context, mboxID imap.MailboxID) (int64, error) {
	return m.index.CountTotal(ctx, mboxID)
}

func (m *MessageMapper) CountUnseenMessagesInMailbox(ctx context.Context, mboxID imap.MailboxID) (int64, error) {
	return m.index.CountUnseen(ctx, mboxID)
}

func (m *MessageMapper) GetLastUID(ctx context.Context, mboxID imap.MailboxID) (imap.UID, bool, error) {
	return m.seq.LastUID(ctx, mboxID)
}

func (m *MessageMapper) GetHighestModSeq(ctx context.Context, mboxID imap.MailboxID) (imap.ModSeq, error) {
	return m.seq.HighestModSeq(ctx, mboxID)
}

// GetApplicableFlags returns the client settable system flags and every keyword used in the mailbox.
// Keywords stay registered after the last message carrying them is gone.
func (m *MessageMapper) GetApplicableFlags(ctx context.Context, mboxID imap.MailboxID) (imap.FlagSet, error) {
	keywords, err := m.index.Keywords(ctx, mboxID)
	if err != nil {
		return nil, err
	}

	return imap.NewFlagSet(imap.SystemFlags...).Remove(imap.FlagRecent).Add(keywords...), nil
}

func (m *MessageMapper) FindFirstUnseenMessageUID(ctx context.Context, mboxID imap.MailboxID) (imap.UID, bool, error) {
	msgs, err := m.index.find(ctx, mboxID, imap.All(), backend.ColumnEquals(flagColumn(imap.FlagSeen), flagOff), 1, imap.FetchMetadata)
	if err != nil || len(msgs) == 0 {
		return 0, false, err
	}

	return msgs[0].UID, true, nil
}

func (m *MessageMapper) FindRecentMessageUIDs(ctx context.Context, mboxID imap.MailboxID) ([]imap.UID, error) {
	msgs, err := m.index.find(ctx, mboxID, imap.All(), backend.ColumnEquals(flagColumn(imap.FlagRecent), flagOn), 0, imap.FetchMetadata)
	if err != nil {
		return nil, err
	}

	uids := make([]imap.UID, 0, len(msgs))

	for _, msg := range msgs {
		uids = append(uids, msg.UID)
	}

	return uids, nil
}

// RecalculateCounters recounts the messages of the mailbox and moves the stored counters by the difference.
// Mutations running concurrently with the recount can make it miss or double count them; it is meant to be
// run on a quiet mailbox.
func (m *MessageMapper) RecalculateCounters(ctx context.Context, mboxID imap.MailboxID) (mailbox.Counters, error) {
	msgs, err := m.index.Get(ctx, mboxID, imap.All(), imap.FetchMetadata, 0)
	if err != nil {
		return mailbox.Counters{}, err
	}

	var counters mailbox.Counters

	for _, msg := range msgs {
		counters.MessageCount++
		counters.UnseenCount += boolToInt(isUnseen(msg.Flags))
	}

	storedCount, err := m.index.CountTotal(ctx, mboxID)
	if err != nil {
		return mailbox.Counters{}, err
	}

	storedUnseen, err := m.index.CountUnseen(ctx, mboxID)
	if err != nil {
		return mailbox.Counters{}, err
	}

	countDelta, unseenDelta := counters.MessageCount-storedCount, counters.UnseenCount-storedUnseen

	if countDelta == 0 && unseenDelta == 0 {
		return counters, nil
	}

	if countDelta != 0 {
		metrics.CounterDrift(colCount)
	}

	if unseenDelta != 0 {
		metrics.CounterDrift(colUnseen)
	}

	logEntry(ctx, mboxID).
		WithField("count", storedCount).
		WithField("unseen", storedUnseen).
		WithField("actualCount", counters.MessageCount).
		WithField("actualUnseen", counters.UnseenCount).
		Warn("Fixing inconsistent mailbox counters")

	reporter.MessageWithContext(ctx,
		"Mailbox counters were inconsistent",
		reporter.Context{"mailbox": mboxID.String(), "countDelta": countDelta, "unseenDelta": unseenDelta},
	)

	if err := m.index.adjustCounters(ctx, mboxID, countDelta, unseenDelta); err != nil {
		return mailbox.Counters{}, err
	}

	return counters, nil
}

// deleteAll removes every message of the mailbox and returns the metadata of the removed ones. Counters are
// not touched; the mailbox row is about to be removed.
func (m *MessageMapper) deleteAll(ctx context.Context, mboxID imap.MailboxID) ([]mailbox.MetaData, error) {
	msgs, err := m.index.Get(ctx, mboxID, imap.All(), imap.FetchMetadata, 0)
	if err != nil {
		return nil, err
	}

	removed := make([]mailbox.MetaData, 0, len(msgs))
	uids := make([]imap.UID, 0, len(msgs))

	for _, msg := range msgs {
		existed, err := m.index.Delete(ctx, mboxID, msg.UID)
		if err != nil {
			return removed, err
		}

		if existed {
			removed = append(removed, msg.MetaData())
			uids = append(uids, msg.UID)
		}
	}

	m.index.DeleteContent(ctx, mboxID, uids...)

	metrics.MessagesRemoved(len(removed))

	return removed, nil
}

func (m *MessageMapper) notifyAdded(ctx context.Context, mboxID imap.MailboxID, msgs ...mailbox.MetaData) {
	for _, l := range m.listeners {
		l.MessagesAdded(ctx, mboxID, msgs)
	}
}

func (m *MessageMapper) notifyRemoved(ctx context.Context, mboxID imap.MailboxID, msgs ...mailbox.MetaData) {
	if len(msgs) == 0 {
		return
	}

	for _, l := range m.listeners {
		l.MessagesRemoved(ctx, mboxID, msgs)
	}
}

func logEntry(ctx context.Context, mboxID imap.MailboxID) *logrus.Entry {
	entry := logrus.WithField("mailbox", mboxID.ShortID())

	if session, ok := mailbox.SessionFromContext(ctx); ok {
		entry = entry.WithField("session", session.ID).WithField("user", session.User)
	}

	return entry
}

func orEmpty(r io.Reader) io.Reader {
	if r == nil {
		return strings.NewReader("")
	}

	return r
}
