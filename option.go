package mailstore

import (
	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/internal/backend_impl"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/ProtonMail/mailstore/quota"
	"github.com/ProtonMail/mailstore/reporter"
	"github.com/ProtonMail/mailstore/store"
)

// Option represents a type that can be used to configure the store.
type Option interface {
	config(*storeBuilder)
}

// WithDataDir instructs the store to keep its data in the given directory. A temporary directory is used otherwise.
func WithDataDir(dir string) Option {
	return &withDataDir{
		dir: dir,
	}
}

type withDataDir struct {
	dir string
}

func (opt withDataDir) config(builder *storeBuilder) {
	builder.dir = opt.dir
}

// WithColumnFamilyBackend selects the bolt backend. This is the default.
func WithColumnFamilyBackend() Option {
	return &withBackend{builder: backend_impl.NewColumnFamilyBuilder()}
}

// WithWideColumnBackend selects the badger backend.
func WithWideColumnBackend() Option {
	return &withBackend{builder: backend_impl.NewWideColumnBuilder()}
}

// WithSQLiteBackend selects the sqlite backend. With debug set, every transaction is logged with its own id.
func WithSQLiteBackend(debug bool) Option {
	return &withBackend{builder: backend_impl.NewSQLiteBuilder(debug)}
}

// WithBackend instructs the store to use the given backend.
func WithBackend(builder backend.Builder) Option {
	return &withBackend{builder: builder}
}

type withBackend struct {
	builder backend.Builder
}

func (opt withBackend) config(builder *storeBuilder) {
	builder.backendBuilder = opt.builder
}

// WithContentStore instructs the store to keep message content in the given content store rather than in the
// backend.
func WithContentStore(contentBuilder store.Builder) Option {
	return &withContentStore{
		builder: contentBuilder,
	}
}

type withContentStore struct {
	builder store.Builder
}

func (opt withContentStore) config(builder *storeBuilder) {
	builder.contentBuilder = opt.builder
}

// WithPassphrase sets the passphrase content stores encrypt message content with.
func WithPassphrase(passphrase []byte) Option {
	return &withPassphrase{
		passphrase: passphrase,
	}
}

type withPassphrase struct {
	passphrase []byte
}

func (opt withPassphrase) config(builder *storeBuilder) {
	builder.passphrase = opt.passphrase
}

// WithReporter instructs the store to report partial failures and inconsistencies to the given reporter.
func WithReporter(reporter reporter.Reporter) Option {
	return &withReporter{
		reporter: reporter,
	}
}

type withReporter struct {
	reporter reporter.Reporter
}

func (opt withReporter) config(builder *storeBuilder) {
	builder.reporter = opt.reporter
}

// WithQuotaRootResolver sets how mailbox owners map to quota roots. Every user has its own root by default.
func WithQuotaRootResolver(resolver quota.RootResolver) Option {
	return &withQuotaRootResolver{
		resolver: resolver,
	}
}

type withQuotaRootResolver struct {
	resolver quota.RootResolver
}

func (opt withQuotaRootResolver) config(builder *storeBuilder) {
	builder.resolver = opt.resolver
}

// WithQuotaStrategy sets how current quotas are moved to new values.
func WithQuotaStrategy(strategy quota.Strategy) Option {
	return &withQuotaStrategy{
		strategy: strategy,
	}
}

type withQuotaStrategy struct {
	strategy quota.Strategy
}

func (opt withQuotaStrategy) config(builder *storeBuilder) {
	builder.strategy = opt.strategy
}

// WithUIDValidityGenerator sets the generator of the uid validity of new mailboxes.
func WithUIDValidityGenerator(generator imap.UIDValidityGenerator) Option {
	return &withUIDValidityGenerator{
		generator: generator,
	}
}

type withUIDValidityGenerator struct {
	generator imap.UIDValidityGenerator
}

func (opt withUIDValidityGenerator) config(builder *storeBuilder) {
	builder.uidValidity = opt.generator
}

// WithListener registers a listener notified after messages are added or removed.
func WithListener(listener mailbox.Listener) Option {
	return &withListener{
		listener: listener,
	}
}

type withListener struct {
	listener mailbox.Listener
}

func (opt withListener) config(builder *storeBuilder) {
	builder.listeners = append(builder.listeners, opt.listener)
}
