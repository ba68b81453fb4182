package mailstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/internal/backend_impl"
	"github.com/ProtonMail/mailstore/internal/mapper"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/ProtonMail/mailstore/quota"
	"github.com/ProtonMail/mailstore/reporter"
	"github.com/ProtonMail/mailstore/store"
	"github.com/sirupsen/logrus"
)

const quotaComponent = "mail"

type storeBuilder struct {
	dir            string
	backendBuilder backend.Builder
	contentBuilder store.Builder
	passphrase     []byte
	reporter       reporter.Reporter
	resolver       quota.RootResolver
	strategy       quota.Strategy
	uidValidity    imap.UIDValidityGenerator
	listeners      []mailbox.Listener
}

func newBuilder() *storeBuilder {
	return &storeBuilder{
		backendBuilder: backend_impl.NewColumnFamilyBuilder(),
		reporter:       &reporter.NullReporter{},
		resolver:       quota.UserRootResolver(quotaComponent),
		strategy:       quota.StrategyDiff,
		uidValidity:    imap.DefaultEpochUIDValidityGenerator(),
	}
}

func (builder *storeBuilder) build() (*Store, error) {
	if builder.dir == "" {
		dir, err := os.MkdirTemp("", "mailstore-*")
		if err != nil {
			return nil, err
		}

		builder.dir = dir
	}

	if err := os.MkdirAll(builder.dir, 0o700); err != nil {
		return nil, err
	}

	client, err := builder.backendBuilder.New(filepath.Join(builder.dir, "backend"))
	if err != nil {
		return nil, fmt.Errorf("failed to open backend: %w", err)
	}

	content, err := builder.newContentStore(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to open content store: %w", err)
	}

	tracker := quota.NewTracker(client.Table(backend.TableQuota), builder.strategy)
	updater := newQuotaUpdater(tracker, builder.resolver)

	messages := mapper.NewMessageMapper(client, content, append([]mailbox.Listener{updater}, builder.listeners...)...)
	mailboxes := mapper.NewMailboxMapper(client, messages, builder.uidValidity)

	updater.mailboxes = mailboxes

	logrus.WithField("dir", builder.dir).WithField("order", client.Order()).Info("Opened mail store")

	return &Store{
		dir:       builder.dir,
		client:    client,
		content:   content,
		messages:  messages,
		mailboxes: mailboxes,
		quota:     tracker,
		resolver:  builder.resolver,
		reporter:  builder.reporter,
	}, nil
}

// newContentStore opens the configured content store, or keeps content in the backend itself if none is.
// Either way, writers are serialized per message.
func (builder *storeBuilder) newContentStore(client backend.Client) (store.ContentStore, error) {
	if builder.contentBuilder == nil {
		return store.NewWriteControlledStore(store.NewChunkedStore(client.Table(backend.TableContent))), nil
	}

	return store.NewWriteControlledStoreBuilder(builder.contentBuilder).New(filepath.Join(builder.dir, "content"), builder.passphrase)
}

func (s *Store) withReporter(ctx context.Context) context.Context {
	if _, ok := reporter.GetReporterFromContext(ctx); ok {
		return ctx
	}

	return reporter.NewContextWithReporter(ctx, s.reporter)
}
