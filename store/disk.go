package store

import (
	"bufio"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ProtonMail/mailstore/backend"
)

// Each part is stored in its own file as a sequence of segments:
//
//	length (4 bytes) | nonce | sealed chunk
//
// The additional data of a segment holds its index and whether it is the last one, so segments can be
// neither reordered nor dropped.

const maxSegmentLen = 1 << 24

var ErrCorruptSegment = errors.New("corrupt content segment")

type onDiskStore struct {
	path string
	gcm  cipher.AEAD
	cmp  Compressor
	sem  *Semaphore
}

func NewCipher(pass []byte) (cipher.AEAD, error) {
	aes, err := aes.NewCipher(hash(pass))
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(aes)
}

func NewOnDiskStore(path string, pass []byte, opt ...Option) (ContentStore, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, err
	}

	gcm, err := NewCipher(pass)
	if err != nil {
		return nil, err
	}

	store := &onDiskStore{
		path: path,
		gcm:  gcm,
	}

	for _, opt := range opt {
		opt.config(store)
	}

	return store, nil
}

func (c *onDiskStore) lock(ctx context.Context) (func(), error) {
	if c.sem == nil {
		return func() {}, nil
	}

	if err := c.sem.LockContext(ctx); err != nil {
		return nil, err
	}

	return c.sem.Unlock, nil
}

func (c *onDiskStore) fileName(ref string, part Part) string {
	return filepath.Join(c.path, hashString(ref)+"."+part.String())
}

func (c *onDiskStore) Put(ctx context.Context, ref string, header, body io.Reader) (int64, int64, error) {
	unlock, err := c.lock(ctx)
	if err != nil {
		return 0, 0, err
	}

	defer unlock()

	headerLen, err := c.writePart(ctx, c.fileName(ref, PartHeader), header)
	if err != nil {
		return 0, 0, err
	}

	bodyLen, err := c.writePart(ctx, c.fileName(ref, PartBody), body)
	if err != nil {
		return 0, 0, err
	}

	return headerLen, bodyLen, nil
}

// writePart writes to a temporary file renamed into place once complete.
func (c *onDiskStore) writePart(ctx context.Context, path string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(c.path, ".tmp-*")
	if err != nil {
		return 0, err
	}

	defer func() { _ = os.Remove(tmp.Name()) }()

	w := bufio.NewWriter(tmp)

	total, err := c.writeSegments(ctx, w, r)
	if err != nil {
		_ = tmp.Close()
		return 0, err
	}

	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return 0, err
	}

	if err := tmp.Close(); err != nil {
		return 0, err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}

	return total, nil
}

func (c *onDiskStore) writeSegments(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	cur, next := make([]byte, chunkSize), make([]byte, chunkSize)

	chunk, done, err := readChunk(r, cur)
	if err != nil {
		return 0, err
	}

	var total int64

	for idx := uint32(0); ; idx++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var following []byte

		if !done {
			if following, done, err = readChunk(r, next); err != nil {
				return 0, err
			}

			// A full chunk followed by nothing is the last one.
			if len(following) == 0 {
				done = true
			}
		}

		last := done && len(following) == 0

		if err := c.writeSegment(w, idx, last, chunk); err != nil {
			return 0, err
		}

		total += int64(len(chunk))

		if last {
			return total, nil
		}

		chunk = following
		cur, next = next, cur
	}
}

func (c *onDiskStore) writeSegment(w io.Writer, idx uint32, last bool, b []byte) error {
	if c.cmp != nil {
		enc, err := c.cmp.Compress(b)
		if err != nil {
			return err
		}

		b = enc
	}

	nonce := make([]byte, c.gcm.NonceSize())

	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	sealed := c.gcm.Seal(nonce, nonce, b, segmentAD(idx, last))

	if err := binary.Write(w, binary.BigEndian, uint32(len(sealed))); err != nil {
		return err
	}

	_, err := w.Write(sealed)

	return err
}

func segmentAD(idx uint32, last bool) []byte {
	ad := make([]byte, 5)

	binary.BigEndian.PutUint32(ad, idx)

	if last {
		ad[4] = 1
	}

	return ad
}

func (c *onDiskStore) Header(ctx context.Context, ref string) (io.ReadCloser, error) {
	return c.open(ctx, ref, PartHeader)
}

func (c *onDiskStore) Body(ctx context.Context, ref string) (io.ReadCloser, error) {
	return c.open(ctx, ref, PartBody)
}

func (c *onDiskStore) open(ctx context.Context, ref string, part Part) (io.ReadCloser, error) {
	unlock, err := c.lock(ctx)
	if err != nil {
		return nil, err
	}

	defer unlock()

	file, err := os.Open(c.fileName(ref, part))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no content for %v: %w", ref, backend.ErrNotFound)
	} else if err != nil {
		return nil, err
	}

	return &segmentReader{store: c, file: file, r: bufio.NewReader(file)}, nil
}

func (c *onDiskStore) Delete(ctx context.Context, refs ...string) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}

	defer unlock()

	for _, ref := range refs {
		for _, part := range []Part{PartHeader, PartBody} {
			if err := os.Remove(c.fileName(ref, part)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
	}

	return nil
}

func (c *onDiskStore) Close() error {
	return nil
}

type segmentReader struct {
	store *onDiskStore
	file  *os.File
	r     *bufio.Reader
	idx   uint32
	buf   []byte
	done  bool
}

func (s *segmentReader) Read(p []byte) (int, error) {
	for len(s.buf) == 0 {
		if s.done {
			return 0, io.EOF
		}

		if err := s.readSegment(); err != nil {
			return 0, err
		}
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]

	return n, nil
}

func (s *segmentReader) readSegment() error {
	var length uint32

	if err := binary.Read(s.r, binary.BigEndian, &length); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: missing final segment", ErrCorruptSegment)
		}

		return err
	}

	if length < uint32(s.store.gcm.NonceSize()) || length > maxSegmentLen {
		return fmt.Errorf("%w: invalid length %v", ErrCorruptSegment, length)
	}

	sealed := make([]byte, length)

	if _, err := io.ReadFull(s.r, sealed); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSegment, err)
	}

	nonce, sealed := sealed[:s.store.gcm.NonceSize()], sealed[s.store.gcm.NonceSize():]

	// The segment is either the last one or not; try the likelier first.
	b, err := s.store.gcm.Open(nil, nonce, sealed, segmentAD(s.idx, false))
	if err != nil {
		if b, err = s.store.gcm.Open(nil, nonce, sealed, segmentAD(s.idx, true)); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptSegment, err)
		}

		s.done = true
	}

	if s.store.cmp != nil {
		if b, err = s.store.cmp.Decompress(b); err != nil {
			return err
		}
	}

	s.buf = b
	s.idx++

	return nil
}

func (s *segmentReader) Close() error {
	return s.file.Close()
}

type OnDiskStoreBuilder struct {
	opts []Option
}

func NewOnDiskStoreBuilder(opts ...Option) *OnDiskStoreBuilder {
	return &OnDiskStoreBuilder{opts: opts}
}

func (b *OnDiskStoreBuilder) New(dir string, passphrase []byte) (ContentStore, error) {
	return NewOnDiskStore(dir, passphrase, b.opts...)
}

func (*OnDiskStoreBuilder) Delete(dir string) error {
	return os.RemoveAll(dir)
}
