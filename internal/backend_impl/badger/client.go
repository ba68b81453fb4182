package badger

import (
	"bytes"
	"context"
	"errors"
	"os"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"
)

const maxConflictRetries = 100

// Client is a wide-column backend on top of badger. Rows are laid out in ascending key order.
type Client struct {
	db *badger.DB
}

// NewClient opens a badger database in dir. An empty dir keeps everything in memory.
func NewClient(dir string) (*Client, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(logrus.StandardLogger()).
		WithLoggingLevel(badger.ERROR)

	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Client{db: db}, nil
}

func (c *Client) Table(name string) backend.Table {
	return &table{db: c.db, name: name}
}

func (c *Client) Order() backend.Order {
	return backend.Ascending
}

func (c *Client) Close() error {
	return c.db.Close()
}

type table struct {
	db   *badger.DB
	name string
}

// update runs fn in a read-write transaction, retrying when a concurrent transaction touched the same keys.
func (t *table) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := t.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxConflictRetries {
			return err
		}

		logrus.WithField("table", t.name).WithField("attempt", attempt).Debug("Retrying conflicting transaction")
	}
}

func (t *table) Increment(ctx context.Context, row []byte, family, column string, delta int64) (int64, error) {
	return t.increment(ctx, row, family, column, delta, false)
}

func (t *table) IncrementExisting(ctx context.Context, row []byte, family, column string, delta int64) (int64, error) {
	return t.increment(ctx, row, family, column, delta, true)
}

func (t *table) increment(ctx context.Context, row []byte, family, column string, delta int64, mustExist bool) (int64, error) {
	var value int64

	if err := t.update(ctx, func(txn *badger.Txn) error {
		value = 0

		if mustExist {
			cells, err := t.readFamily(txn, row, family)
			if err != nil {
				return err
			}

			if len(cells) == 0 {
				return backend.ErrNotFound
			}
		}

		// Get registers the key as read even when it is missing, so that concurrent increments conflict.
		item, err := txn.Get(cellKey(t.name, row, family, column))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err == nil {
			cur, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			if value, err = backend.DecodeInt64(cur); err != nil {
				return err
			}
		}

		value += delta

		return txn.Set(cellKey(t.name, row, family, column), backend.EncodeInt64(value))
	}); err != nil {
		return 0, err
	}

	return value, nil
}

func (t *table) Get(ctx context.Context, row []byte, family string, columns ...string) (backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return backend.Row{}, err
	}

	var cells map[string][]byte

	if err := t.db.View(func(txn *badger.Txn) error {
		var err error

		cells, err = t.readFamily(txn, row, family)

		return err
	}); err != nil {
		return backend.Row{}, err
	}

	if len(cells) == 0 {
		return backend.Row{}, backend.ErrNotFound
	}

	return backend.Row{Key: bytes.Clone(row), Cells: cells}.Project(columns), nil
}

func (t *table) Put(ctx context.Context, row []byte, family string, cells map[string][]byte) error {
	return t.put(ctx, row, family, cells, false)
}

func (t *table) PutExisting(ctx context.Context, row []byte, family string, cells map[string][]byte) error {
	return t.put(ctx, row, family, cells, true)
}

func (t *table) put(ctx context.Context, row []byte, family string, cells map[string][]byte, mustExist bool) error {
	return t.update(ctx, func(txn *badger.Txn) error {
		if mustExist {
			// Iterating registers the cells as read, so a concurrent delete of the row conflicts.
			existing, err := t.readFamily(txn, row, family)
			if err != nil {
				return err
			}

			if len(existing) == 0 {
				return backend.ErrNotFound
			}
		}

		for col, value := range cells {
			key := cellKey(t.name, row, family, col)

			if value == nil {
				if err := txn.Delete(key); err != nil {
					return err
				}
			} else if err := txn.Set(key, value); err != nil {
				return err
			}
		}

		return nil
	})
}

func (t *table) Delete(ctx context.Context, row []byte) (bool, error) {
	var existed bool

	if err := t.update(ctx, func(txn *badger.Txn) error {
		existed = false

		it := txn.NewIterator(badger.IteratorOptions{Prefix: rowPrefix(t.name, row)})
		defer it.Close()

		var keys [][]byte

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		existed = len(keys) > 0

		return nil
	}); err != nil {
		return false, err
	}

	return existed, nil
}

func (t *table) Scan(ctx context.Context, req backend.ScanRequest) (backend.Scanner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		rows  []backend.Row
		start = tablePrefix(t.name)
	)

	if req.Start != nil {
		start = append(start, escapeRow(req.Start)...)
	}

	if err := t.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: tablePrefix(t.name), PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		var (
			curKey   []byte
			curCells map[string][]byte
		)

		flush := func() bool {
			if len(curCells) > 0 && req.Filter.Match(curCells) {
				rows = append(rows, backend.Row{Key: curKey, Cells: curCells}.Project(req.Columns))
			}

			curKey, curCells = nil, nil

			return req.Limit > 0 && len(rows) >= req.Limit
		}

		for it.Seek(start); it.Valid(); it.Next() {
			row, family, column, err := decodeCellKey(t.name, it.Item().Key())
			if err != nil {
				return err
			}

			if req.Stop != nil && bytes.Compare(row, req.Stop) >= 0 {
				break
			}

			if curKey != nil && !bytes.Equal(curKey, row) {
				if flush() {
					return nil
				}
			}

			if curKey == nil {
				if err := ctx.Err(); err != nil {
					return err
				}

				curKey, curCells = row, make(map[string][]byte)
			}

			if family != req.Family {
				continue
			}

			value, err := valueCopy(it.Item())
			if err != nil {
				return err
			}

			curCells[column] = value
		}

		flush()

		return nil
	}); err != nil {
		return nil, err
	}

	return backend.NewSliceScanner(rows), nil
}

func (t *table) readFamily(txn *badger.Txn, row []byte, family string) (map[string][]byte, error) {
	prefix := cellKey(t.name, row, family, "")

	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 16})
	defer it.Close()

	cells := make(map[string][]byte)

	for it.Rewind(); it.Valid(); it.Next() {
		value, err := valueCopy(it.Item())
		if err != nil {
			return nil, err
		}

		cells[string(it.Item().Key()[len(prefix):])] = value
	}

	return cells, nil
}

// valueCopy never returns nil for a present cell, as nil values mean removal in Put.
func valueCopy(item *badger.Item) ([]byte, error) {
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}

	if value == nil {
		value = []byte{}
	}

	return value, nil
}

type Builder struct{}

func NewBuilder() backend.Builder {
	return &Builder{}
}

func (*Builder) New(dir string) (backend.Client, error) {
	return NewClient(dir)
}

func (*Builder) Delete(dir string) error {
	return os.RemoveAll(dir)
}
