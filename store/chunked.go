package store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ProtonMail/mailstore/backend"
)

const lengthColumn = "n"

func chunkColumn(idx int) string {
	return fmt.Sprintf("c:%08d", idx)
}

// chunkedStore keeps content in a backend table: one row per ref, one family per part and one column per
// chunk. The length column is written last and marks the part as complete.
type chunkedStore struct {
	table backend.Table
}

func NewChunkedStore(table backend.Table) ContentStore {
	return &chunkedStore{table: table}
}

func (s *chunkedStore) Put(ctx context.Context, ref string, header, body io.Reader) (int64, int64, error) {
	headerLen, err := s.putPart(ctx, ref, PartHeader, header)
	if err != nil {
		return 0, 0, err
	}

	bodyLen, err := s.putPart(ctx, ref, PartBody, body)
	if err != nil {
		return 0, 0, err
	}

	return headerLen, bodyLen, nil
}

func (s *chunkedStore) putPart(ctx context.Context, ref string, part Part, r io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)

	var total int64

	for idx := 0; ; idx++ {
		chunk, done, err := readChunk(r, buf)
		if err != nil {
			return 0, err
		}

		if len(chunk) > 0 {
			if err := s.table.Put(ctx, []byte(ref), part.String(), map[string][]byte{
				chunkColumn(idx): bytes.Clone(chunk),
			}); err != nil {
				return 0, err
			}

			total += int64(len(chunk))
		}

		if done {
			break
		}
	}

	if err := s.table.Put(ctx, []byte(ref), part.String(), map[string][]byte{
		lengthColumn: backend.EncodeInt64(total),
	}); err != nil {
		return 0, err
	}

	return total, nil
}

func (s *chunkedStore) Header(ctx context.Context, ref string) (io.ReadCloser, error) {
	return s.open(ctx, ref, PartHeader)
}

func (s *chunkedStore) Body(ctx context.Context, ref string) (io.ReadCloser, error) {
	return s.open(ctx, ref, PartBody)
}

func (s *chunkedStore) open(ctx context.Context, ref string, part Part) (io.ReadCloser, error) {
	row, err := s.table.Get(ctx, []byte(ref), part.String(), lengthColumn)
	if err != nil {
		return nil, err
	}

	if !row.Has(lengthColumn) {
		return nil, fmt.Errorf("incomplete %v of %v: %w", part, ref, backend.ErrNotFound)
	}

	length, err := row.Int(lengthColumn)
	if err != nil {
		return nil, err
	}

	return &chunkReader{
		ctx:       ctx,
		table:     s.table,
		row:       []byte(ref),
		family:    part.String(),
		remaining: length,
	}, nil
}

func (s *chunkedStore) Delete(ctx context.Context, refs ...string) error {
	for _, ref := range refs {
		if _, err := s.table.Delete(ctx, []byte(ref)); err != nil {
			return err
		}
	}

	return nil
}

func (s *chunkedStore) Close() error {
	return nil
}

// chunkReader fetches one chunk at a time.
type chunkReader struct {
	ctx       context.Context
	table     backend.Table
	row       []byte
	family    string
	next      int
	remaining int64
	buf       []byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		if r.remaining <= 0 {
			return 0, io.EOF
		}

		col := chunkColumn(r.next)

		row, err := r.table.Get(r.ctx, r.row, r.family, col)
		if err != nil {
			return 0, err
		}

		chunk := row.Value(col)
		if len(chunk) == 0 {
			return 0, io.ErrUnexpectedEOF
		}

		if int64(len(chunk)) > r.remaining {
			chunk = chunk[:r.remaining]
		}

		r.buf = chunk
		r.next++
		r.remaining -= int64(len(chunk))
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]

	return n, nil
}

func (r *chunkReader) Close() error {
	r.buf = nil
	r.remaining = 0

	return nil
}
