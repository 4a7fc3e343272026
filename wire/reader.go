package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxMessageSize bounds a single framed message, headers and terminator included.
const MaxMessageSize = 64 * 1024

// MaxBodySize bounds the Content-Length a response may declare.
const MaxBodySize = 32 << 20

var ErrMessageTooLarge = errors.New("wire: message too large")

// Reader frames messages out of a byte stream. Lines may end in "\r\n", "\n\r" or "\n"; a message
// ends at the first empty line. Framing is incremental, a message that arrives in several reads is
// reassembled before it is returned.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r. If r already is a large enough *bufio.Reader it is used as is, so bytes
// consumed before the first message (the registration handshake) stay consistent.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4096)}
}

// ReadMessage returns the next framed message. Blank lines ahead of a message are skipped. io.EOF is
// returned when the stream ends cleanly between messages, io.ErrUnexpectedEOF when it ends inside
// one.
func (r *Reader) ReadMessage() (*Message, error) {
	budget := MaxMessageSize
	var m *Message

	for {
		raw, err := r.readLine(&budget)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line := strings.Trim(raw, "\r\n")

		if errors.Is(err, io.EOF) {
			// The last line of a message may arrive without its terminator, it is still incomplete
			if m == nil && strings.TrimSpace(line) == "" {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}

		switch {
		case m == nil && line == "":
			continue
		case m == nil:
			m = &Message{Start: line}
		case line == "":
			return m, nil
		default:
			m.Lines = append(m.Lines, line)
		}
	}
}

// ReadResponse reads one response. When the response carries a Content-Length header the body is
// read in full right after the terminator.
func (r *Reader) ReadResponse() (*Response, error) {
	m, err := r.ReadMessage()
	if err != nil {
		return nil, err
	}
	res, err := ParseResponse(m)
	if err != nil {
		return nil, err
	}

	if _, ok := res.Header.Get(HeaderContentLength); !ok {
		return res, nil
	}
	n, ok := res.Header.Int(HeaderContentLength)
	if !ok {
		return nil, fmt.Errorf("%w: bad %s", ErrMalformed, HeaderContentLength)
	}
	if n > MaxBodySize {
		return nil, fmt.Errorf("%w: body of %d bytes", ErrMessageTooLarge, n)
	}

	// The buffer grows with the bytes that actually arrive, not with the declared length.
	var body bytes.Buffer
	if _, err := io.CopyN(&body, r.br, int64(n)); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading body: %w", err)
	}
	res.Body = body.Bytes()
	return res, nil
}

func (r *Reader) readLine(budget *int) (string, error) {
	var line []byte
	for {
		frag, err := r.br.ReadSlice('\n')
		*budget -= len(frag)
		if *budget < 0 {
			return "", ErrMessageTooLarge
		}
		line = append(line, frag...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(line), err
	}
}
