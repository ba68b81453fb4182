package store

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

type syncRef struct {
	lock    sync.RWMutex
	counter int32
}

// WriteControlledStore ensures that the content of a ref can safely be read by multiple readers while only
// one writer replaces or deletes it. Readers hold their lock until the stream is closed.
type WriteControlledStore struct {
	impl ContentStore

	lock       sync.Mutex
	entryTable map[string]*syncRef
	lockPool   []*syncRef
}

func NewWriteControlledStore(impl ContentStore) *WriteControlledStore {
	return &WriteControlledStore{
		impl:       impl,
		entryTable: make(map[string]*syncRef),
	}
}

func (w *WriteControlledStore) acquireSyncRef(ref string) *syncRef {
	w.lock.Lock()
	defer w.lock.Unlock()

	v, ok := w.entryTable[ref]
	if !ok {
		var s *syncRef

		if len(w.lockPool) != 0 {
			s = w.lockPool[0]
			s.counter = 1
			w.lockPool = w.lockPool[1:]
		} else {
			s = &syncRef{counter: 1}
		}

		w.entryTable[ref] = s

		return s
	}

	atomic.AddInt32(&v.counter, 1)

	return v
}

func (w *WriteControlledStore) releaseSyncRef(ref string, s *syncRef) {
	if atomic.AddInt32(&s.counter, -1) <= 0 {
		w.lock.Lock()
		defer w.lock.Unlock()

		if atomic.LoadInt32(&s.counter) <= 0 {
			delete(w.entryTable, ref)
			w.lockPool = append(w.lockPool, s)
		}
	}
}

func (w *WriteControlledStore) Put(ctx context.Context, ref string, header, body io.Reader) (int64, int64, error) {
	s := w.acquireSyncRef(ref)
	defer w.releaseSyncRef(ref, s)

	s.lock.Lock()
	defer s.lock.Unlock()

	return w.impl.Put(ctx, ref, header, body)
}

func (w *WriteControlledStore) Header(ctx context.Context, ref string) (io.ReadCloser, error) {
	return w.open(ctx, ref, PartHeader)
}

func (w *WriteControlledStore) Body(ctx context.Context, ref string) (io.ReadCloser, error) {
	return w.open(ctx, ref, PartBody)
}

func (w *WriteControlledStore) open(ctx context.Context, ref string, part Part) (io.ReadCloser, error) {
	s := w.acquireSyncRef(ref)

	s.lock.RLock()

	rc, err := Open(ctx, w.impl, ref, part)
	if err != nil {
		s.lock.RUnlock()
		w.releaseSyncRef(ref, s)

		return nil, err
	}

	return &lockedReader{ReadCloser: rc, release: func() {
		s.lock.RUnlock()
		w.releaseSyncRef(ref, s)
	}}, nil
}

func (w *WriteControlledStore) Delete(ctx context.Context, refs ...string) error {
	for _, ref := range refs {
		if err := func() error {
			s := w.acquireSyncRef(ref)
			defer w.releaseSyncRef(ref, s)

			s.lock.Lock()
			defer s.lock.Unlock()

			return w.impl.Delete(ctx, ref)
		}(); err != nil {
			return err
		}
	}

	return nil
}

func (w *WriteControlledStore) Close() error {
	return w.impl.Close()
}

type lockedReader struct {
	io.ReadCloser

	once    sync.Once
	release func()
}

func (r *lockedReader) Close() error {
	err := r.ReadCloser.Close()

	r.once.Do(r.release)

	return err
}

type WriteControlledStoreBuilder struct {
	builder Builder
}

func NewWriteControlledStoreBuilder(builder Builder) *WriteControlledStoreBuilder {
	return &WriteControlledStoreBuilder{builder: builder}
}

func (w *WriteControlledStoreBuilder) New(dir string, passphrase []byte) (ContentStore, error) {
	impl, err := w.builder.New(dir, passphrase)
	if err != nil {
		return nil, err
	}

	return NewWriteControlledStore(impl), nil
}

func (w *WriteControlledStoreBuilder) Delete(dir string) error {
	return w.builder.Delete(dir)
}
