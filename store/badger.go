package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/logging"
	"github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"
)

// BadgerStore keeps content chunks as badger values keyed by ref, part and chunk index.
type BadgerStore struct {
	db       *badger.DB
	gcExitCh chan struct{}
	wg       sync.WaitGroup
}

func NewBadgerStore(path string, passphrase []byte) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(logrus.StandardLogger()).
		WithLoggingLevel(badger.ERROR)

	if len(passphrase) > 0 {
		opts = opts.
			WithEncryptionKey(hash(passphrase)).
			WithIndexCacheSize(128 * 1024 * 1024)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		db:       db,
		gcExitCh: make(chan struct{}),
	}

	store.wg.Add(1)

	logging.GoAnnotated(context.Background(), store.startGCCollector, logging.Labels{"job": "badger-gc", "path": path})

	return store, nil
}

func (b *BadgerStore) startGCCollector(ctx context.Context) {
	// Garbage collection needs to be run manually by us at some point.
	// See https://dgraph.io/docs/badger/get-started/#garbage-collection for more details.
	defer b.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var runs int

			for b.db.RunValueLogGC(0.5) == nil {
				runs++
			}

			logging.Entry(ctx).WithField("runs", runs).Debug("Collected value log garbage")

		case <-b.gcExitCh:
			return
		}
	}
}

func partPrefix(ref string, part Part) []byte {
	return append(append([]byte(ref), 0x00), byte(part))
}

func badgerLengthKey(ref string, part Part) []byte {
	return append(partPrefix(ref, part), 'n')
}

func badgerChunkKey(ref string, part Part, idx uint32) []byte {
	return binary.BigEndian.AppendUint32(append(partPrefix(ref, part), 'c'), idx)
}

func (b *BadgerStore) Put(ctx context.Context, ref string, header, body io.Reader) (int64, int64, error) {
	headerLen, err := b.putPart(ctx, ref, PartHeader, header)
	if err != nil {
		return 0, 0, err
	}

	bodyLen, err := b.putPart(ctx, ref, PartBody, body)
	if err != nil {
		return 0, 0, err
	}

	return headerLen, bodyLen, nil
}

func (b *BadgerStore) putPart(ctx context.Context, ref string, part Part, r io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)

	var total int64

	for idx := uint32(0); ; idx++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		chunk, done, err := readChunk(r, buf)
		if err != nil {
			return 0, err
		}

		if len(chunk) > 0 {
			if err := b.db.Update(func(txn *badger.Txn) error {
				return txn.Set(badgerChunkKey(ref, part, idx), bytes.Clone(chunk))
			}); err != nil {
				return 0, err
			}

			total += int64(len(chunk))
		}

		if done {
			break
		}
	}

	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerLengthKey(ref, part), backend.EncodeInt64(total))
	}); err != nil {
		return 0, err
	}

	return total, nil
}

func (b *BadgerStore) Header(_ context.Context, ref string) (io.ReadCloser, error) {
	return b.open(ref, PartHeader)
}

func (b *BadgerStore) Body(_ context.Context, ref string) (io.ReadCloser, error) {
	return b.open(ref, PartBody)
}

func (b *BadgerStore) open(ref string, part Part) (io.ReadCloser, error) {
	var length int64

	if err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerLengthKey(ref, part))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			length, err = backend.DecodeInt64(val)
			return err
		})
	}); errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("no content for %v: %w", ref, backend.ErrNotFound)
	} else if err != nil {
		return nil, err
	}

	return &badgerReader{db: b.db, ref: ref, part: part, remaining: length}, nil
}

func (b *BadgerStore) Delete(_ context.Context, refs ...string) error {
	var keys [][]byte

	if err := b.db.View(func(txn *badger.Txn) error {
		for _, ref := range refs {
			it := txn.NewIterator(badger.IteratorOptions{Prefix: append([]byte(ref), 0x00)})

			for it.Rewind(); it.Valid(); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}

			it.Close()
		}

		return nil
	}); err != nil {
		return err
	}

	// Large messages do not fit a single transaction.
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}

	return wb.Flush()
}

func (b *BadgerStore) Close() error {
	close(b.gcExitCh)
	b.wg.Wait()

	return b.db.Close()
}

type badgerReader struct {
	db        *badger.DB
	ref       string
	part      Part
	next      uint32
	remaining int64
	buf       []byte
}

func (r *badgerReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		if r.remaining <= 0 {
			return 0, io.EOF
		}

		if err := r.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(badgerChunkKey(r.ref, r.part, r.next))
			if err != nil {
				return err
			}

			r.buf, err = item.ValueCopy(nil)

			return err
		}); errors.Is(err, badger.ErrKeyNotFound) {
			return 0, io.ErrUnexpectedEOF
		} else if err != nil {
			return 0, err
		}

		if len(r.buf) == 0 {
			return 0, io.ErrUnexpectedEOF
		}

		if int64(len(r.buf)) > r.remaining {
			r.buf = r.buf[:r.remaining]
		}

		r.next++
		r.remaining -= int64(len(r.buf))
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]

	return n, nil
}

func (r *badgerReader) Close() error {
	r.buf = nil
	r.remaining = 0

	return nil
}

type BadgerStoreBuilder struct{}

func (*BadgerStoreBuilder) New(dir string, passphrase []byte) (ContentStore, error) {
	return NewBadgerStore(dir, passphrase)
}

func (*BadgerStoreBuilder) Delete(dir string) error {
	return os.RemoveAll(dir)
}
