package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ProtonMail/mailstore/backend"
)

type inMemoryStore struct {
	data map[string][2][]byte
	lock sync.RWMutex
}

func NewInMemoryStore() ContentStore {
	return &inMemoryStore{
		data: make(map[string][2][]byte),
	}
}

func (c *inMemoryStore) Put(_ context.Context, ref string, header, body io.Reader) (int64, int64, error) {
	h, err := io.ReadAll(header)
	if err != nil {
		return 0, 0, err
	}

	b, err := io.ReadAll(body)
	if err != nil {
		return 0, 0, err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	c.data[ref] = [2][]byte{h, b}

	return int64(len(h)), int64(len(b)), nil
}

func (c *inMemoryStore) Header(_ context.Context, ref string) (io.ReadCloser, error) {
	return c.open(ref, PartHeader)
}

func (c *inMemoryStore) Body(_ context.Context, ref string) (io.ReadCloser, error) {
	return c.open(ref, PartBody)
}

func (c *inMemoryStore) open(ref string, part Part) (io.ReadCloser, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	parts, ok := c.data[ref]
	if !ok {
		return nil, fmt.Errorf("no content for %v: %w", ref, backend.ErrNotFound)
	}

	return io.NopCloser(bytes.NewReader(parts[part])), nil
}

func (c *inMemoryStore) Delete(_ context.Context, refs ...string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	for _, ref := range refs {
		delete(c.data, ref)
	}

	return nil
}

func (c *inMemoryStore) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.data = make(map[string][2][]byte)

	return nil
}

type InMemoryStoreBuilder struct{}

func (*InMemoryStoreBuilder) New(string, []byte) (ContentStore, error) {
	return NewInMemoryStore(), nil
}

func (*InMemoryStoreBuilder) Delete(string) error {
	return nil
}
