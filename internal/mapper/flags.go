package mapper

import (
	"context"

	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/ProtonMail/mailstore/metrics"
	"github.com/sirupsen/logrus"
)

// FlagsUpdateEngine applies flag transforms to the records of a range.
type FlagsUpdateEngine struct {
	index *MessageIndex
	seq   *SequenceAllocator
}

func NewFlagsUpdateEngine(index *MessageIndex, seq *SequenceAllocator) *FlagsUpdateEngine {
	return &FlagsUpdateEngine{index: index, seq: seq}
}

// UpdateFlags returns one entry per record of the range, in ascending uid order. Records whose flags do not
// change are neither written nor given a new mod-sequence; their entry carries the current mod-sequence.
// A single mod-sequence is allocated for the call, on the first record that changes.
//
// Records removed concurrently between the read and the write are left out of the result and do not count
// towards the unseen counter.
//
// Writes are not rolled back: on failure the entries of the records handled so far are returned with the
// error, and the unseen counter reflects the writes that were applied.
func (e *FlagsUpdateEngine) UpdateFlags(
	ctx context.Context,
	mboxID imap.MailboxID,
	rng imap.MessageRange,
	transform mailbox.FlagsTransform,
) ([]mailbox.UpdatedFlags, error) {
	msgs, err := e.index.Get(ctx, mboxID, rng, imap.FetchMetadata, 0)
	if err != nil {
		return nil, err
	}

	var (
		res         = make([]mailbox.UpdatedFlags, 0, len(msgs))
		modSeq      imap.ModSeq
		unseenDelta int64
		keywords    = imap.NewFlagSet()
		updateErr   error
	)

	for _, msg := range msgs {
		newFlags := transform(msg.Flags)

		if newFlags.Equals(msg.Flags) {
			metrics.FlagsUnchanged()

			res = append(res, mailbox.UpdatedFlags{
				UID:      msg.UID,
				OldFlags: msg.Flags,
				NewFlags: msg.Flags,
				ModSeq:   msg.ModSeq,
			})

			continue
		}

		if modSeq == 0 {
			if modSeq, updateErr = e.seq.NextModSeq(ctx, mboxID); updateErr != nil {
				break
			}
		}

		applied, err := e.index.putFlags(ctx, mboxID, msg.UID, msg.Flags, newFlags, modSeq)
		if err != nil {
			metrics.FlagsFailed()
			updateErr = err

			break
		}

		if !applied {
			metrics.FlagsSkipped()

			logrus.WithField("mailbox", mboxID.ShortID()).
				WithField("uid", msg.UID).
				Warn("Message removed during flag update, skipping")

			continue
		}

		metrics.FlagsChanged()

		unseenDelta += boolToInt(isUnseen(newFlags)) - boolToInt(isUnseen(msg.Flags))
		keywords = keywords.Add(newFlags.Keywords()...)

		res = append(res, mailbox.UpdatedFlags{
			UID:      msg.UID,
			OldFlags: msg.Flags,
			NewFlags: newFlags,
			ModSeq:   modSeq,
		})
	}

	if err := e.index.adjustCounters(ctx, mboxID, 0, unseenDelta); err != nil && updateErr == nil {
		updateErr = err
	}

	if err := e.index.registerKeywords(ctx, mboxID, keywords); err != nil && updateErr == nil {
		updateErr = err
	}

	if updateErr != nil {
		logrus.WithError(updateErr).
			WithField("mailbox", mboxID.ShortID()).
			WithField("applied", len(res)).
			WithField("requested", len(msgs)).
			Error("Flag update aborted")
	}

	return res, updateErr
}
