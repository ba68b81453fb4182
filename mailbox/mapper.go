package mailbox

import (
	"context"

	"github.com/ProtonMail/mailstore/imap"
)

// MessageMapper is the message side of the storage layer, used by protocol handlers. Each call is a
// synchronous round trip to the backend. Compound calls are not atomic; see the individual methods.
type MessageMapper interface {
	// Add allocates a uid and a mod-sequence and stores the message. Content is written first, then the
	// record, then the mailbox counters.
	Add(ctx context.Context, mboxID imap.MailboxID, msg *AppendMessage) (MetaData, error)

	// FindInMailbox returns the records of the range in ascending uid order. With max > 0 only the max
	// lowest uids are returned.
	FindInMailbox(ctx context.Context, mboxID imap.MailboxID, rng imap.MessageRange, fetch imap.FetchType, max int) ([]*Message, error)

	// UpdateFlags applies the transform to every record of the range. Records whose flags do not change are
	// not written. On error the updates applied so far are returned along with it.
	UpdateFlags(ctx context.Context, mboxID imap.MailboxID, rng imap.MessageRange, transform FlagsTransform) ([]UpdatedFlags, error)

	// ExpungeMarkedForDeletionInMailbox removes the records of the range flagged \Deleted and returns the
	// metadata of the records this call removed.
	ExpungeMarkedForDeletionInMailbox(ctx context.Context, mboxID imap.MailboxID, rng imap.MessageRange) (map[imap.UID]MetaData, error)

	// Delete removes a single message and reports whether it existed.
	Delete(ctx context.Context, mboxID imap.MailboxID, uid imap.UID) (bool, error)

	// Copy adds a copy of a message to another mailbox under a new uid.
	Copy(ctx context.Context, dstID, srcID imap.MailboxID, uid imap.UID) (MetaData, error)

	CountMessagesInMailbox(ctx context.Context, mboxID imap.MailboxID) (int64, error)
	CountUnseenMessagesInMailbox(ctx context.Context, mboxID imap.MailboxID) (int64, error)

	// GetLastUID returns false if no uid was issued yet.
	GetLastUID(ctx context.Context, mboxID imap.MailboxID) (imap.UID, bool, error)
	GetHighestModSeq(ctx context.Context, mboxID imap.MailboxID) (imap.ModSeq, error)

	// GetApplicableFlags returns the system flags and every keyword ever used in the mailbox.
	GetApplicableFlags(ctx context.Context, mboxID imap.MailboxID) (imap.FlagSet, error)

	// FindFirstUnseenMessageUID returns false if every message is seen.
	FindFirstUnseenMessageUID(ctx context.Context, mboxID imap.MailboxID) (imap.UID, bool, error)
	FindRecentMessageUIDs(ctx context.Context, mboxID imap.MailboxID) ([]imap.UID, error)

	// RecalculateCounters recounts the messages of the mailbox and fixes the stored counters.
	RecalculateCounters(ctx context.Context, mboxID imap.MailboxID) (Counters, error)
}

type MailboxMapper interface {
	Create(ctx context.Context, user, name string) (Mailbox, error)
	Get(ctx context.Context, mboxID imap.MailboxID) (Mailbox, error)
	FindByName(ctx context.Context, user, name string) (Mailbox, error)
	List(ctx context.Context, user string) ([]Mailbox, error)
	Rename(ctx context.Context, mboxID imap.MailboxID, name string) error

	// Delete removes the mailbox together with its messages and their content.
	Delete(ctx context.Context, mboxID imap.MailboxID) error
}

// Listener is notified after messages were added to or removed from a mailbox.
type Listener interface {
	MessagesAdded(ctx context.Context, mboxID imap.MailboxID, msgs []MetaData)
	MessagesRemoved(ctx context.Context, mboxID imap.MailboxID, msgs []MetaData)
}
