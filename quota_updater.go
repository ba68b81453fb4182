package mailstore

import (
	"context"

	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/internal/mapper"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/ProtonMail/mailstore/quota"
	"github.com/ProtonMail/mailstore/reporter"
	"github.com/sirupsen/logrus"
)

// quotaUpdater accounts added and removed messages to the quota root of the mailbox owner.
type quotaUpdater struct {
	tracker   *quota.Tracker
	resolver  quota.RootResolver
	mailboxes *mapper.MailboxMapper
}

func newQuotaUpdater(tracker *quota.Tracker, resolver quota.RootResolver) *quotaUpdater {
	return &quotaUpdater{
		tracker:  tracker,
		resolver: resolver,
	}
}

func (u *quotaUpdater) MessagesAdded(ctx context.Context, mboxID imap.MailboxID, msgs []mailbox.MetaData) {
	root, ok := u.rootOf(ctx, mboxID)
	if !ok {
		return
	}

	count, size := usageOf(msgs)

	if err := u.tracker.IncreaseUsage(ctx, root, count, size); err != nil {
		u.failed(ctx, mboxID, root, "increase", err)
	}
}

func (u *quotaUpdater) MessagesRemoved(ctx context.Context, mboxID imap.MailboxID, msgs []mailbox.MetaData) {
	root, ok := u.rootOf(ctx, mboxID)
	if !ok {
		return
	}

	count, size := usageOf(msgs)

	if err := u.tracker.DecreaseUsage(ctx, root, count, size); err != nil {
		u.failed(ctx, mboxID, root, "decrease", err)
	}
}

func (u *quotaUpdater) rootOf(ctx context.Context, mboxID imap.MailboxID) (quota.Root, bool) {
	mbox, err := u.mailboxes.Get(ctx, mboxID)
	if err != nil {
		logrus.WithError(err).WithField("mailbox", mboxID.ShortID()).Error("Failed to resolve quota root")

		reporter.ExceptionWithContext(ctx, "Failed to resolve quota root", reporter.Context{
			"mailbox": mboxID.String(),
			"error":   err,
		})

		return quota.Root{}, false
	}

	return u.resolver.RootFor(mbox.User), true
}

func (u *quotaUpdater) failed(ctx context.Context, mboxID imap.MailboxID, root quota.Root, op string, err error) {
	logrus.WithError(err).
		WithField("mailbox", mboxID.ShortID()).
		WithField("root", root.String()).
		Errorf("Failed to %v quota usage", op)

	reporter.ExceptionWithContext(ctx, "Failed to update quota usage", reporter.Context{
		"mailbox": mboxID.String(),
		"root":    root.String(),
		"op":      op,
		"error":   err,
	})
}

func usageOf(msgs []mailbox.MetaData) (int64, int64) {
	var size int64

	for _, msg := range msgs {
		size += msg.Size
	}

	return int64(len(msgs)), size
}
