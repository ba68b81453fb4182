package mailbox

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

const (
	defaultMediaType = "text"
	defaultSubType   = "plain"
)

// maxHeaderLen bounds the header kept in memory while a literal is split.
const maxHeaderLen = 1 << 20

var ErrHeaderTooLong = errors.New("message header too long")

// Literal is a raw message split into its header and body. The body is streamed from the source reader.
type Literal struct {
	Header    []byte
	Body      io.Reader
	MediaType string
	SubType   string
}

// ParseLiteral splits a raw RFC 5322 message at the first empty line and parses the header for the media
// type. Messages without a Content-Type are text/plain.
func ParseLiteral(r io.Reader) (*Literal, error) {
	br := bufio.NewReader(r)

	var (
		header bytes.Buffer

		// midLine is set while the reader returns a line longer than its buffer in pieces.
		midLine bool
	)

	for {
		line, err := br.ReadSlice('\n')
		if err != nil && !errors.Is(err, bufio.ErrBufferFull) && !errors.Is(err, io.EOF) {
			return nil, err
		}

		header.Write(line)

		if header.Len() > maxHeaderLen {
			return nil, ErrHeaderTooLong
		}

		if errors.Is(err, io.EOF) || (!midLine && isBlankLine(line)) {
			break
		}

		midLine = errors.Is(err, bufio.ErrBufferFull)
	}

	mediaType, subType := parseMediaType(header.Bytes())

	return &Literal{
		Header:    header.Bytes(),
		Body:      br,
		MediaType: mediaType,
		SubType:   subType,
	}, nil
}

func isBlankLine(line []byte) bool {
	return bytes.Equal(line, []byte("\r\n")) || bytes.Equal(line, []byte("\n"))
}

// parseMediaType falls back to text/plain when the header is malformed, so that such messages can still be
// stored.
func parseMediaType(header []byte) (string, string) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(header)))
	if err != nil {
		return defaultMediaType, defaultSubType
	}

	msgHeader := message.Header{Header: h}

	if !msgHeader.Has("Content-Type") {
		return defaultMediaType, defaultSubType
	}

	contentType, _, err := msgHeader.ContentType()
	if err != nil {
		return defaultMediaType, defaultSubType
	}

	mediaType, subType, ok := strings.Cut(contentType, "/")
	if !ok {
		return defaultMediaType, defaultSubType
	}

	return mediaType, subType
}

// NewAppendMessage turns a parsed literal into a message ready to be added.
func (l *Literal) NewAppendMessage(opts ...AppendOption) *AppendMessage {
	msg := &AppendMessage{
		MediaType: l.MediaType,
		SubType:   l.SubType,
		Header:    bytes.NewReader(l.Header),
		Body:      l.Body,
	}

	for _, opt := range opts {
		opt.config(msg)
	}

	return msg
}
