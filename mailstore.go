// Package mailstore stores mailboxes and messages over non-transactional key/value backends.
package mailstore

import (
	"context"
	"errors"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/internal/mapper"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/ProtonMail/mailstore/quota"
	"github.com/ProtonMail/mailstore/reporter"
	"github.com/ProtonMail/mailstore/store"
	"github.com/sirupsen/logrus"
)

// Store is a mail store: a backend, a content store, and the mappers and quota tracker built on them.
type Store struct {
	dir string

	client  backend.Client
	content store.ContentStore

	messages  *mapper.MessageMapper
	mailboxes *mapper.MailboxMapper
	quota     *quota.Tracker
	resolver  quota.RootResolver
	reporter  reporter.Reporter
}

// New creates a new store with the given options.
func New(withOpt ...Option) (*Store, error) {
	builder := newBuilder()

	for _, opt := range withOpt {
		opt.config(builder)
	}

	return builder.build()
}

// Dir returns the directory the store keeps its data in.
func (s *Store) Dir() string {
	return s.dir
}

// Messages returns the message mapper. Partial failures are reported to the store reporter unless the
// context already carries one.
func (s *Store) Messages() mailbox.MessageMapper {
	return &reportingMessageMapper{MessageMapper: s.messages, store: s}
}

func (s *Store) Mailboxes() mailbox.MailboxMapper {
	return s.mailboxes
}

func (s *Store) Quota() *quota.Tracker {
	return s.quota
}

// QuotaRoot returns the quota root the messages of user are accounted to.
func (s *Store) QuotaRoot(user string) quota.Root {
	return s.resolver.RootFor(user)
}

// RecalculateQuota recounts the messages of every mailbox of user and sets the current quotas of its root to
// the result. Only roots holding a single user can be recounted this way.
func (s *Store) RecalculateQuota(ctx context.Context, user string) (quota.Usage, error) {
	root := s.QuotaRoot(user)

	if root.Scope != quota.ScopeUser {
		return quota.Usage{}, backend.Precondition("recalculate quota", root.String(), "root is shared by several users")
	}

	mboxes, err := s.mailboxes.List(ctx, user)
	if err != nil {
		return quota.Usage{}, err
	}

	var usage quota.Usage

	for _, mbox := range mboxes {
		msgs, err := s.messages.FindInMailbox(ctx, mbox.ID, imap.All(), imap.FetchMetadata, 0)
		if err != nil {
			return quota.Usage{}, err
		}

		for _, msg := range msgs {
			usage.Count++
			usage.Size += msg.Size
		}
	}

	if err := s.quota.SetCurrentQuotas(ctx, root, usage.Count, usage.Size); err != nil {
		return quota.Usage{}, err
	}

	return usage, nil
}

// Close closes the content store and the backend.
func (s *Store) Close() error {
	var errs []error

	if err := s.content.Close(); err != nil {
		errs = append(errs, err)
	}

	if err := s.client.Close(); err != nil {
		errs = append(errs, err)
	}

	logrus.WithField("dir", s.dir).Debug("Closed mail store")

	return errors.Join(errs...)
}

type reportingMessageMapper struct {
	*mapper.MessageMapper

	store *Store
}

func (m *reportingMessageMapper) UpdateFlags(
	ctx context.Context,
	mboxID imap.MailboxID,
	rng imap.MessageRange,
	transform mailbox.FlagsTransform,
) ([]mailbox.UpdatedFlags, error) {
	return m.MessageMapper.UpdateFlags(m.store.withReporter(ctx), mboxID, rng, transform)
}

func (m *reportingMessageMapper) ExpungeMarkedForDeletionInMailbox(
	ctx context.Context,
	mboxID imap.MailboxID,
	rng imap.MessageRange,
) (map[imap.UID]mailbox.MetaData, error) {
	return m.MessageMapper.ExpungeMarkedForDeletionInMailbox(m.store.withReporter(ctx), mboxID, rng)
}

func (m *reportingMessageMapper) RecalculateCounters(ctx context.Context, mboxID imap.MailboxID) (mailbox.Counters, error) {
	return m.MessageMapper.RecalculateCounters(m.store.withReporter(ctx), mboxID)
}

func (m *reportingMessageMapper) Add(ctx context.Context, mboxID imap.MailboxID, msg *mailbox.AppendMessage) (mailbox.MetaData, error) {
	return m.MessageMapper.Add(m.store.withReporter(ctx), mboxID, msg)
}

func (m *reportingMessageMapper) Copy(ctx context.Context, dstID, srcID imap.MailboxID, uid imap.UID) (mailbox.MetaData, error) {
	return m.MessageMapper.Copy(m.store.withReporter(ctx), dstID, srcID, uid)
}

func (m *reportingMessageMapper) Delete(ctx context.Context, mboxID imap.MailboxID, uid imap.UID) (bool, error) {
	return m.MessageMapper.Delete(m.store.withReporter(ctx), mboxID, uid)
}
