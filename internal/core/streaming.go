package core

// streaming.go cleans uploaded CSV bytes on the way into encoding/csv:
// a leading UTF-8 BOM is dropped, invalid UTF-8 bytes become '?', and
// reading past a size cap fails with ErrFileTooLarge.

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrFileTooLarge is returned when an upload exceeds the configured size cap.
var ErrFileTooLarge = errors.New("file too large")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type bomSkipper struct {
	br      *bufio.Reader
	checked bool
}

// SkipBOM returns a reader that drops a leading UTF-8 byte order mark.
// Spreadsheet programs on Windows add one when exporting CSV.
func SkipBOM(r io.Reader) io.Reader {
	return &bomSkipper{br: bufio.NewReader(r)}
}

func (b *bomSkipper) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		if head, err := b.br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
			_, _ = b.br.Discard(len(utf8BOM))
		}
	}
	return b.br.Read(p)
}

type utf8Sanitizer struct {
	r     io.Reader
	carry []byte // start of a multi-byte rune split across reads
}

// SanitizeUTF8 returns a reader that replaces each invalid UTF-8 byte with
// '?'. Replacement is byte for byte, so the stream never grows.
func SanitizeUTF8(r io.Reader) io.Reader {
	return &utf8Sanitizer{r: r, carry: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n := copy(p, s.carry)
	s.carry = s.carry[n:]

	var err error
	if n < len(p) {
		var m int
		m, err = s.r.Read(p[n:])
		n += m
	}
	if n == 0 {
		return 0, err
	}
	atEOF := err == io.EOF && len(s.carry) == 0

	for i := 0; i < n; {
		if p[i] < utf8.RuneSelf {
			i++
			continue
		}
		r, size := utf8.DecodeRune(p[i:n])
		if r == utf8.RuneError && size == 1 {
			if !atEOF && len(s.carry) == 0 && !utf8.FullRune(p[i:n]) {
				// Hold back the partial rune until the next read.
				s.carry = append(s.carry[:0], p[i:n]...)
				if err == io.EOF {
					err = nil
				}
				return i, err
			}
			p[i] = '?'
		}
		i += size
	}
	return n, err
}

type cappedReader struct {
	r         io.Reader
	remaining int64
	max       int64
}

// CapSize returns a reader that fails with ErrFileTooLarge once more than
// max bytes have been read. A max of 0 or less disables the cap.
func CapSize(r io.Reader, max int64) io.Reader {
	if max <= 0 {
		return r
	}
	// One extra byte distinguishes "exactly max" from "more than max".
	return &cappedReader{r: io.LimitReader(r, max+1), remaining: max, max: max}
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n + int(c.remaining), fmt.Errorf("%w: exceeds %d MB limit", ErrFileTooLarge, c.max/(1024*1024))
	}
	return n, err
}

// WrapForCSV applies BOM skipping and UTF-8 sanitizing in that order.
func WrapForCSV(r io.Reader) io.Reader {
	return SanitizeUTF8(SkipBOM(r))
}
