package mapper

import (
	"context"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/metrics"
	"github.com/sirupsen/logrus"
)

// SequenceAllocator hands out the uids and mod-sequences of a mailbox. Both are counters on the mailbox
// row, so every value is issued exactly once even with concurrent allocators on other processes.
type SequenceAllocator struct {
	table backend.Table
}

func NewSequenceAllocator(table backend.Table) *SequenceAllocator {
	return &SequenceAllocator{table: table}
}

func (s *SequenceAllocator) NextUID(ctx context.Context, mboxID imap.MailboxID) (imap.UID, error) {
	v, err := s.table.IncrementExisting(ctx, mboxID.ToBytes(), familyMailbox, colLastUID, 1)
	if err != nil {
		return 0, wrap("next uid", mboxID, err)
	}

	metrics.UIDAllocated()

	logrus.WithField("mailbox", mboxID.ShortID()).WithField("uid", v).Debug("Allocated uid")

	return imap.UID(v), nil
}

func (s *SequenceAllocator) NextModSeq(ctx context.Context, mboxID imap.MailboxID) (imap.ModSeq, error) {
	v, err := s.table.IncrementExisting(ctx, mboxID.ToBytes(), familyMailbox, colModSeq, 1)
	if err != nil {
		return 0, wrap("next modseq", mboxID, err)
	}

	metrics.ModSeqAllocated()

	logrus.WithField("mailbox", mboxID.ShortID()).WithField("modseq", v).Debug("Allocated mod-sequence")

	return imap.ModSeq(v), nil
}

// LastUID returns the highest uid issued so far, or false if none was.
func (s *SequenceAllocator) LastUID(ctx context.Context, mboxID imap.MailboxID) (imap.UID, bool, error) {
	v, err := s.read(ctx, mboxID, "last uid", colLastUID)
	if err != nil {
		return 0, false, err
	}

	return imap.UID(v), v > 0, nil
}

func (s *SequenceAllocator) HighestModSeq(ctx context.Context, mboxID imap.MailboxID) (imap.ModSeq, error) {
	v, err := s.read(ctx, mboxID, "highest modseq", colModSeq)
	if err != nil {
		return 0, err
	}

	return imap.ModSeq(v), nil
}

func (s *SequenceAllocator) read(ctx context.Context, mboxID imap.MailboxID, op, column string) (int64, error) {
	row, err := s.table.Get(ctx, mboxID.ToBytes(), familyMailbox, column)
	if err != nil {
		return 0, wrap(op, mboxID, err)
	}

	v, err := row.Int(column)
	if err != nil {
		return 0, wrap(op, mboxID, err)
	}

	return v, nil
}

// wrap classifies err and counts it before handing it to the caller.
func wrap(op string, mboxID imap.MailboxID, err error) error {
	if err == nil {
		return nil
	}

	wrapped := backend.Wrap(op, mboxID.String(), err)

	if berr, ok := wrapped.(*backend.Error); ok {
		metrics.BackendError(op, berr.Kind.String())
	}

	return wrapped
}
