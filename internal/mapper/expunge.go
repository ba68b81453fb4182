package mapper

import (
	"context"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/ProtonMail/mailstore/metrics"
	"github.com/sirupsen/logrus"
)

// ExpungeCoordinator removes the records flagged \Deleted from a range.
type ExpungeCoordinator struct {
	index *MessageIndex
	seq   *SequenceAllocator
}

func NewExpungeCoordinator(index *MessageIndex, seq *SequenceAllocator) *ExpungeCoordinator {
	return &ExpungeCoordinator{index: index, seq: seq}
}

// Expunge removes the \Deleted records of the range and returns the metadata they had before removal.
// Only rows this call actually removed are returned and subtracted from the counters: rows removed in the
// meantime by someone else are skipped. The mod-sequence is bumped once if anything was removed.
//
// The steps are not atomic. If a row deletion fails, the counters are still reconciled with the rows
// removed so far and those rows are returned together with the error.
func (c *ExpungeCoordinator) Expunge(ctx context.Context, mboxID imap.MailboxID, rng imap.MessageRange) (map[imap.UID]mailbox.MetaData, error) {
	res := make(map[imap.UID]mailbox.MetaData)

	msgs, err := c.index.find(ctx, mboxID, rng, backend.ColumnEquals(flagColumn(imap.FlagDeleted), flagOn), 0, imap.FetchMetadata)
	if err != nil {
		return nil, err
	}

	if len(msgs) == 0 {
		return res, nil
	}

	var (
		removed     []imap.UID
		unseen      int64
		expungeErr  error
		logEntry    = logrus.WithField("mailbox", mboxID.ShortID())
		skippedRows int
	)

	for _, msg := range msgs {
		existed, err := c.index.Delete(ctx, mboxID, msg.UID)
		if err != nil {
			expungeErr = err
			break
		}

		if !existed {
			metrics.ExpungeRowSkipped()
			skippedRows++

			continue
		}

		res[msg.UID] = msg.MetaData()
		removed = append(removed, msg.UID)
		unseen += boolToInt(isUnseen(msg.Flags))
	}

	if skippedRows > 0 {
		logEntry.WithField("skipped", skippedRows).Warn("Expunge found rows already removed")
	}

	if len(removed) == 0 {
		return res, expungeErr
	}

	if err := c.index.adjustCounters(ctx, mboxID, -int64(len(removed)), -unseen); err != nil && expungeErr == nil {
		expungeErr = err
	}

	if _, err := c.seq.NextModSeq(ctx, mboxID); err != nil && expungeErr == nil {
		expungeErr = err
	}

	c.index.DeleteContent(ctx, mboxID, removed...)

	metrics.MessagesRemoved(len(removed))

	if expungeErr != nil {
		logEntry.WithError(expungeErr).WithField("removed", len(removed)).Error("Expunge aborted")
	} else {
		logEntry.WithField("removed", len(removed)).Debug("Expunged messages")
	}

	return res, expungeErr
}
