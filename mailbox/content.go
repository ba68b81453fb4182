package mailbox

import (
	"context"
	"io"
)

// Content gives access to the header and body streams of a stored message. Streams are opened on demand
// and must be closed by the caller.
type Content interface {
	Header(ctx context.Context) (io.ReadCloser, error)
	Body(ctx context.Context) (io.ReadCloser, error)
}

// OpenFull returns a stream of the whole literal, header followed by body.
func OpenFull(ctx context.Context, content Content) (io.ReadCloser, error) {
	header, err := content.Header(ctx)
	if err != nil {
		return nil, err
	}

	body, err := content.Body(ctx)
	if err != nil {
		_ = header.Close()
		return nil, err
	}

	return &multiReadCloser{
		Reader:  io.MultiReader(header, body),
		closers: []io.Closer{header, body},
	}, nil
}

type multiReadCloser struct {
	io.Reader

	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var firstErr error

	for _, c := range m.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
