package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/reporter"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const fileName = "store.sqlite3"

const schema = `CREATE TABLE IF NOT EXISTS cells (
	tbl TEXT NOT NULL,
	row BLOB NOT NULL,
	family TEXT NOT NULL,
	col TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (tbl, row, family, col)
) WITHOUT ROWID`

// Client is a backend storing every cell as one row of an sqlite table. Blobs compare bytewise so message
// rows are laid out in ascending key order.
type Client struct {
	db    *sql.DB
	lock  sync.RWMutex
	debug bool
}

func NewClient(ctx context.Context, dir string, debug bool) (*Client, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", getDatabaseConn(filepath.Join(dir, fileName)))
	if err != nil {
		return nil, err
	}

	client := &Client{db: db, debug: debug}

	if err := client.init(ctx); err != nil {
		_ = db.Close()

		return nil, err
	}

	return client, nil
}

func (c *Client) init(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		return fmt.Errorf("failed to enable db pragma: %w", err)
	}

	return c.wrapTx(ctx, func(ctx context.Context, tx *sql.Tx, entry *logrus.Entry) error {
		entry.Debugf("Creating cell table")

		_, err := tx.ExecContext(ctx, schema)

		return err
	})
}

func (c *Client) Table(name string) backend.Table {
	return &table{client: c, name: name}
}

func (c *Client) Order() backend.Order {
	return backend.Ascending
}

func (c *Client) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.db.Close()
}

func (c *Client) read(ctx context.Context, op func(context.Context, *sql.DB) error) error {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.debug {
		rdID := uuid.NewString()

		logrus.Debugf("Begin Read %v", rdID)
		defer logrus.Debugf("End Read %v", rdID)
	}

	return op(ctx, c.db)
}

func (c *Client) wrapTx(ctx context.Context, op func(context.Context, *sql.Tx, *logrus.Entry) error) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	var entry *logrus.Entry

	if c.debug {
		entry = logrus.WithField("tx", uuid.NewString())
	} else {
		entry = logrus.WithField("tx", "tx")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if v := recover(); v != nil {
			if err := tx.Rollback(); err != nil {
				panic(fmt.Errorf("rolling back while recovering (%v): %w", v, err))
			}

			panic(v)
		}
	}()

	if err := op(ctx, tx, entry); err != nil {
		if c.debug {
			entry.Debugf("Rolling back Transaction")
		}

		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("rolling back transaction: %w", rerr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		if !errors.Is(err, context.Canceled) {
			reporter.MessageWithContext(ctx,
				"Failed to commit database transaction",
				reporter.Context{"error": err},
			)
		}

		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type Builder struct {
	debug bool
}

type Option interface {
	apply(builder *Builder)
}

type dbDebugOption struct{}

func (dbDebugOption) apply(builder *Builder) {
	builder.debug = true
}

// Debug enables logging of the transactions. Written to debug log.
func Debug() Option {
	return &dbDebugOption{}
}

func NewBuilder(options ...Option) backend.Builder {
	builder := &Builder{}

	for _, opt := range options {
		opt.apply(builder)
	}

	return builder
}

func (b *Builder) New(dir string) (backend.Client, error) {
	return NewClient(context.Background(), dir, b.debug)
}

func (*Builder) Delete(dir string) error {
	path := filepath.Join(dir, fileName)

	for _, file := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	return nil
}

func getDatabaseConn(path string) string {
	return fmt.Sprintf("file:%v?cache=shared&_journal=WAL&_busy_timeout=5000", path)
}
