package sqlite3

import (
	"bytes"
	"context"
	"database/sql"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/sirupsen/logrus"
)

type table struct {
	client *Client
	name   string
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (t *table) Increment(ctx context.Context, row []byte, family, column string, delta int64) (int64, error) {
	return t.increment(ctx, row, family, column, delta, false)
}

func (t *table) IncrementExisting(ctx context.Context, row []byte, family, column string, delta int64) (int64, error) {
	return t.increment(ctx, row, family, column, delta, true)
}

func (t *table) increment(ctx context.Context, row []byte, family, column string, delta int64, mustExist bool) (int64, error) {
	var value int64

	if err := t.client.wrapTx(ctx, func(ctx context.Context, tx *sql.Tx, _ *logrus.Entry) error {
		cells, err := t.readFamily(ctx, tx, row, family)
		if err != nil {
			return err
		}

		if len(cells) == 0 && mustExist {
			return backend.ErrNotFound
		}

		if value, err = (backend.Row{Cells: cells}).Int(column); err != nil {
			return err
		}

		value += delta

		return t.upsert(ctx, tx, row, family, column, backend.EncodeInt64(value))
	}); err != nil {
		return 0, err
	}

	return value, nil
}

func (t *table) Get(ctx context.Context, row []byte, family string, columns ...string) (backend.Row, error) {
	var cells map[string][]byte

	if err := t.client.read(ctx, func(ctx context.Context, db *sql.DB) error {
		var err error

		cells, err = t.readFamily(ctx, db, row, family)

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
	return t.client.wrapTx(ctx, func(ctx context.Context, tx *sql.Tx, _ *logrus.Entry) error {
		if mustExist {
			existing, err := t.readFamily(ctx, tx, row, family)
			if err != nil {
				return err
			}

			if len(existing) == 0 {
				return backend.ErrNotFound
			}
		}

		for col, value := range cells {
			if value == nil {
				if _, err := tx.ExecContext(ctx,
					"DELETE FROM cells WHERE tbl = ? AND row = ? AND family = ? AND col = ?",
					t.name, row, family, col,
				); err != nil {
					return err
				}

				continue
			}

			if err := t.upsert(ctx, tx, row, family, col, value); err != nil {
				return err
			}
		}

		return nil
	})
}

func (t *table) Delete(ctx context.Context, row []byte) (bool, error) {
	var existed bool

	if err := t.client.wrapTx(ctx, func(ctx context.Context, tx *sql.Tx, _ *logrus.Entry) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM cells WHERE tbl = ? AND row = ?", t.name, row)
		if err != nil {
			return err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}

		existed = affected > 0

		return nil
	}); err != nil {
		return false, err
	}

	return existed, nil
}

func (t *table) Scan(ctx context.Context, req backend.ScanRequest) (backend.Scanner, error) {
	query := "SELECT row, col, value FROM cells WHERE tbl = ? AND family = ? AND row >= ?"
	args := []any{t.name, req.Family, req.Start}

	if req.Start == nil {
		args[2] = []byte{}
	}

	if req.Stop != nil {
		query += " AND row < ?"
		args = append(args, req.Stop)
	}

	query += " ORDER BY row, col"

	var rows []backend.Row

	if err := t.client.read(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}

		defer func() { _ = res.Close() }()

		var cur backend.Row

		flush := func() bool {
			if cur.Key != nil && req.Filter.Match(cur.Cells) {
				rows = append(rows, cur.Project(req.Columns))
			}

			cur = backend.Row{}

			return req.Limit > 0 && len(rows) >= req.Limit
		}

		for res.Next() {
			var (
				key, value []byte
				col        string
			)

			if err := res.Scan(&key, &col, &value); err != nil {
				return err
			}

			if cur.Key != nil && !bytes.Equal(cur.Key, key) {
				if flush() {
					return nil
				}
			}

			if cur.Key == nil {
				cur = backend.Row{Key: key, Cells: make(map[string][]byte)}
			}

			cur.Cells[col] = nonNil(value)
		}

		if err := res.Err(); err != nil {
			return err
		}

		flush()

		return nil
	}); err != nil {
		return nil, err
	}

	return backend.NewSliceScanner(rows), nil
}

func (t *table) readFamily(ctx context.Context, q queryer, row []byte, family string) (map[string][]byte, error) {
	res, err := q.QueryContext(ctx,
		"SELECT col, value FROM cells WHERE tbl = ? AND row = ? AND family = ?",
		t.name, row, family,
	)
	if err != nil {
		return nil, err
	}

	defer func() { _ = res.Close() }()

	cells := make(map[string][]byte)

	for res.Next() {
		var (
			col   string
			value []byte
		)

		if err := res.Scan(&col, &value); err != nil {
			return nil, err
		}

		cells[col] = nonNil(value)
	}

	if err := res.Err(); err != nil {
		return nil, err
	}

	return cells, nil
}

func (t *table) upsert(ctx context.Context, tx *sql.Tx, row []byte, family, column string, value []byte) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO cells (tbl, row, family, col, value) VALUES (?, ?, ?, ?, ?) "+
			"ON CONFLICT (tbl, row, family, col) DO UPDATE SET value = excluded.value",
		t.name, row, family, column, value,
	)

	return err
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}

	return b
}
