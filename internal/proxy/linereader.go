package proxy

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const (
	DefaultMaxLineBytes   = 8 << 10
	DefaultMaxHeaderBytes = 64 << 10

	readBufferSize = 4 << 10
)

var (
	// ErrConnectionClosed means the stream ended before the delimiter.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrLineTooLong means more than the maximum number of bytes arrived
	// without the delimiter.
	ErrLineTooLong = errors.New("line too long")
	// ErrHeaderTooLarge means a header block exceeded its byte budget before
	// the terminating blank line.
	ErrHeaderTooLarge = errors.New("header block too large")
)

// LineReader reads delimited tokens from a client stream. Bytes it buffers
// past a delimiter stay available through Read, so the reader can replace the
// underlying stream once parsing is done.
type LineReader struct {
	br  *bufio.Reader
	max int
}

// NewLineReader returns a LineReader over r that refuses tokens longer than
// max bytes. max <= 0 selects DefaultMaxLineBytes.
func NewLineReader(r io.Reader, max int) *LineReader {
	if max <= 0 {
		max = DefaultMaxLineBytes
	}
	return &LineReader{br: bufio.NewReaderSize(r, readBufferSize), max: max}
}

// ReadUntil returns everything before the next delim. The delimiter is
// consumed but not included.
func (l *LineReader) ReadUntil(delim byte) (string, error) {
	s, _, err := l.ReadUntilAny(string(delim))
	return s, err
}

// ReadUntilAny is like ReadUntil but stops at the first byte found in delims
// and reports which one it was.
func (l *LineReader) ReadUntilAny(delims string) (string, byte, error) {
	var sb strings.Builder
	for {
		c, err := l.br.ReadByte()
		if err != nil {
			return "", 0, eofToClosed(err)
		}
		if strings.IndexByte(delims, c) >= 0 {
			return sb.String(), c, nil
		}
		if sb.Len() >= l.max {
			return "", 0, ErrLineTooLong
		}
		sb.WriteByte(c)
	}
}

// ReadByte returns the next byte, or ErrConnectionClosed at end of stream.
func (l *LineReader) ReadByte() (byte, error) {
	c, err := l.br.ReadByte()
	if err != nil {
		return 0, eofToClosed(err)
	}
	return c, nil
}

// DiscardHeaders consumes the rest of the current line and every header line
// after it, through the blank line that ends the header block. No more than
// max bytes are consumed; max <= 0 selects DefaultMaxHeaderBytes.
func (l *LineReader) DiscardHeaders(max int) error {
	if max <= 0 {
		max = DefaultMaxHeaderBytes
	}

	n := 0
	first := true
	lineStart := true
	for {
		chunk, err := l.br.ReadSlice('\n')
		n += len(chunk)
		if n > max {
			return ErrHeaderTooLarge
		}
		switch {
		case err == nil:
			if !first && lineStart && isBlankLine(chunk) {
				return nil
			}
			first = false
			lineStart = true
		case errors.Is(err, bufio.ErrBufferFull):
			// Long line; keep reading the same line.
			lineStart = false
		default:
			return eofToClosed(err)
		}
	}
}

func isBlankLine(b []byte) bool {
	return string(b) == "\r\n" || string(b) == "\n"
}

// Read drains buffered bytes first, then reads from the underlying stream.
func (l *LineReader) Read(p []byte) (int, error) {
	return l.br.Read(p)
}

func eofToClosed(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrConnectionClosed
	}
	return err
}
