package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const fileName = "store.db"

// Client is a column-family backend stored in a single bolt file. Each table is a top-level bucket holding
// one nested bucket per row, which in turn holds one bucket per column family. Message rows are laid out in
// descending uid order.
type Client struct {
	db *bolt.DB
}

func NewClient(dir string) (*Client, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	db, err := bolt.Open(filepath.Join(dir, fileName), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{backend.TableMailboxes, backend.TableMessages, backend.TableContent, backend.TableQuota} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}

		return nil
	}); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logrus.WithField("path", db.Path()).Debug("Opened bolt backend")

	return &Client{db: db}, nil
}

func (c *Client) Table(name string) backend.Table {
	return &table{db: c.db, name: []byte(name)}
}

func (c *Client) Order() backend.Order {
	return backend.Descending
}

func (c *Client) Close() error {
	return c.db.Close()
}

type table struct {
	db   *bolt.DB
	name []byte
}

func (t *table) Increment(ctx context.Context, row []byte, family, column string, delta int64) (int64, error) {
	return t.increment(ctx, row, family, column, delta, false)
}

func (t *table) IncrementExisting(ctx context.Context, row []byte, family, column string, delta int64) (int64, error) {
	return t.increment(ctx, row, family, column, delta, true)
}

func (t *table) increment(ctx context.Context, row []byte, family, column string, delta int64, mustExist bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var value int64

	if err := t.db.Update(func(tx *bolt.Tx) error {
		fam := familyBucket(tx.Bucket(t.name), row, family)

		if fam == nil || isEmpty(fam) {
			if mustExist {
				return backend.ErrNotFound
			}

			rowBkt, err := tx.Bucket(t.name).CreateBucketIfNotExists(row)
			if err != nil {
				return err
			}

			if fam, err = rowBkt.CreateBucketIfNotExists([]byte(family)); err != nil {
				return err
			}
		}

		if cur := fam.Get([]byte(column)); cur != nil {
			v, err := backend.DecodeInt64(cur)
			if err != nil {
				return err
			}

			value = v
		}

		value += delta

		return fam.Put([]byte(column), backend.EncodeInt64(value))
	}); err != nil {
		return 0, err
	}

	return value, nil
}

func (t *table) Get(ctx context.Context, row []byte, family string, columns ...string) (backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return backend.Row{}, err
	}

	var res backend.Row

	if err := t.db.View(func(tx *bolt.Tx) error {
		cells, ok := readFamily(familyBucket(tx.Bucket(t.name), row, family))
		if !ok {
			return backend.ErrNotFound
		}

		res = backend.Row{Key: bytes.Clone(row), Cells: cells}.Project(columns)

		return nil
	}); err != nil {
		return backend.Row{}, err
	}

	return res, nil
}

func (t *table) Put(ctx context.Context, row []byte, family string, cells map[string][]byte) error {
	return t.put(ctx, row, family, cells, false)
}

func (t *table) PutExisting(ctx context.Context, row []byte, family string, cells map[string][]byte) error {
	return t.put(ctx, row, family, cells, true)
}

func (t *table) put(ctx context.Context, row []byte, family string, cells map[string][]byte, mustExist bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return t.db.Update(func(tx *bolt.Tx) error {
		tbl := tx.Bucket(t.name)

		if mustExist {
			if fam := familyBucket(tbl, row, family); fam == nil || isEmpty(fam) {
				return backend.ErrNotFound
			}
		}

		rowBkt, err := tbl.CreateBucketIfNotExists(row)
		if err != nil {
			return err
		}

		fam, err := rowBkt.CreateBucketIfNotExists([]byte(family))
		if err != nil {
			return err
		}

		for col, value := range cells {
			if value == nil {
				if err := fam.Delete([]byte(col)); err != nil {
					return err
				}
			} else if err := fam.Put([]byte(col), value); err != nil {
				return err
			}
		}

		return pruneRow(tbl, rowBkt, row, family)
	})
}

func (t *table) Delete(ctx context.Context, row []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var existed bool

	if err := t.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(t.name).DeleteBucket(row); err != nil {
			if errors.Is(err, bolt.ErrBucketNotFound) {
				return nil
			}

			return err
		}

		existed = true

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

	var rows []backend.Row

	if err := t.db.View(func(tx *bolt.Tx) error {
		tbl := tx.Bucket(t.name)
		cursor := tbl.Cursor()

		var key []byte

		if req.Start != nil {
			key, _ = cursor.Seek(req.Start)
		} else {
			key, _ = cursor.First()
		}

		for ; key != nil; key, _ = cursor.Next() {
			if req.Stop != nil && bytes.Compare(key, req.Stop) >= 0 {
				break
			}

			if err := ctx.Err(); err != nil {
				return err
			}

			cells, ok := readFamily(familyBucket(tbl, key, req.Family))
			if !ok || !req.Filter.Match(cells) {
				continue
			}

			rows = append(rows, backend.Row{Key: bytes.Clone(key), Cells: cells}.Project(req.Columns))

			if req.Limit > 0 && len(rows) >= req.Limit {
				break
			}
		}

		return nil
	}); err != nil {
		return nil, err
	}

	return backend.NewSliceScanner(rows), nil
}

func familyBucket(tbl *bolt.Bucket, row []byte, family string) *bolt.Bucket {
	rowBkt := tbl.Bucket(row)
	if rowBkt == nil {
		return nil
	}

	return rowBkt.Bucket([]byte(family))
}

// readFamily copies the cells out of the bucket, as bolt values are only valid during the transaction.
func readFamily(fam *bolt.Bucket) (map[string][]byte, bool) {
	if fam == nil {
		return nil, false
	}

	cells := make(map[string][]byte)

	if err := fam.ForEach(func(k, v []byte) error {
		cells[string(k)] = bytes.Clone(v)
		return nil
	}); err != nil {
		return nil, false
	}

	if len(cells) == 0 {
		return nil, false
	}

	return cells, true
}

// pruneRow drops the family bucket once its last cell is gone, then the row bucket once its last family is.
func pruneRow(tbl, rowBkt *bolt.Bucket, row []byte, family string) error {
	if !isEmpty(rowBkt.Bucket([]byte(family))) {
		return nil
	}

	if err := rowBkt.DeleteBucket([]byte(family)); err != nil {
		return err
	}

	if !isEmpty(rowBkt) {
		return nil
	}

	return tbl.DeleteBucket(row)
}

func isEmpty(bkt *bolt.Bucket) bool {
	k, _ := bkt.Cursor().First()

	return k == nil
}

type Builder struct{}

func NewBuilder() backend.Builder {
	return &Builder{}
}

func (*Builder) New(dir string) (backend.Client, error) {
	return NewClient(dir)
}

func (*Builder) Delete(dir string) error {
	return os.Remove(filepath.Join(dir, fileName))
}
