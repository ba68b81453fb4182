package store

import (
	"context"
	"errors"
	"io"
)

// chunkSize bounds how much of a message part is held in memory at once.
const chunkSize = 64 * 1024

type Part int

const (
	PartHeader Part = iota
	PartBody
)

func (p Part) String() string {
	if p == PartBody {
		return "body"
	}

	return "header"
}

// ContentStore holds the raw header and body of messages. Parts are streamed in and out; implementations
// never require a whole literal in memory except the in-memory store.
type ContentStore interface {
	// Put stores both parts of the message under ref and returns their lengths.
	Put(ctx context.Context, ref string, header, body io.Reader) (int64, int64, error)

	// Header and Body open a part of a stored message. They fail with backend.ErrNotFound if ref is unknown.
	Header(ctx context.Context, ref string) (io.ReadCloser, error)
	Body(ctx context.Context, ref string) (io.ReadCloser, error)

	// Delete removes the content of the given refs. Unknown refs are ignored.
	Delete(ctx context.Context, refs ...string) error

	Close() error
}

type Builder interface {
	New(dir string, passphrase []byte) (ContentStore, error)
	Delete(dir string) error
}

// Open opens the given part of a stored message.
func Open(ctx context.Context, store ContentStore, ref string, part Part) (io.ReadCloser, error) {
	if part == PartBody {
		return store.Body(ctx, ref)
	}

	return store.Header(ctx, ref)
}

// ReadAll reads a whole part of a stored message.
func ReadAll(ctx context.Context, store ContentStore, ref string, part Part) ([]byte, error) {
	rc, err := Open(ctx, store, ref, part)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rc.Close() }()

	return io.ReadAll(rc)
}

// readChunk fills buf from r. It returns the filled prefix and whether r is exhausted.
func readChunk(r io.Reader, buf []byte) ([]byte, bool, error) {
	n, err := io.ReadFull(r, buf)

	switch {
	case err == nil:
		return buf[:n], false, nil

	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], true, nil

	default:
		return nil, false, err
	}
}
