// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

// Package wire implements the length-prefixed word framing of the RouterOS
// binary API. A sentence is a sequence of words, each prefixed with a
// variable-length size, terminated by a zero-length word.
package wire

import (
	"fmt"
	"io"
	"strings"
)

// MaxWordLength caps the size of a single word. Anything larger is treated as
// a framing violation and kills the session.
const MaxWordLength = 16 * 1024 * 1024

// Error is a framing or transport failure. It is fatal for the session that
// produced it: the socket can no longer be trusted to be word-aligned.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("routeros wire: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wireErrorf(op, format string, args ...interface{}) *Error {
	return &Error{Op: op, Err: fmt.Errorf(format, args...)}
}

// AppendLength appends the variable-length encoding of l to buf.
//
//	0x00..0x7F            1 byte
//	0x80..0xBF ..         2 bytes
//	0xC0..0xDF .. ..      3 bytes
//	0xE0..0xEF .. .. ..   4 bytes
//	0xF0 .. .. .. ..      5 bytes, length in the trailing 4 bytes
func AppendLength(buf []byte, l int) []byte {
	switch {
	case l < 0x80:
		return append(buf, byte(l))
	case l < 0x4000:
		return append(buf, byte(l>>8)|0x80, byte(l))
	case l < 0x200000:
		return append(buf, byte(l>>16)|0xC0, byte(l>>8), byte(l))
	case l < 0x10000000:
		return append(buf, byte(l>>24)|0xE0, byte(l>>16), byte(l>>8), byte(l))
	default:
		return append(buf, 0xF0, byte(l>>24), byte(l>>16), byte(l>>8), byte(l))
	}
}

// AppendWord appends the encoded word (length prefix + bytes) to buf.
func AppendWord(buf []byte, word string) []byte {
	buf = AppendLength(buf, len(word))
	return append(buf, word...)
}

// EncodeSentence encodes words followed by the zero-length terminator.
func EncodeSentence(words []string) []byte {
	n := 1 // terminator
	for _, w := range words {
		n += len(w) + 5
	}
	buf := make([]byte, 0, n)
	for _, w := range words {
		buf = AppendWord(buf, w)
	}
	return append(buf, 0x00)
}

// WriteSentence writes the full encoded sentence to w in a single Write call
// so that concurrent writers never interleave words on the socket.
func WriteSentence(w io.Writer, words []string) error {
	if _, err := w.Write(EncodeSentence(words)); err != nil {
		return &Error{Op: "write", Err: err}
	}
	return nil
}

// ReadLength decodes one variable-length size prefix from r.
func ReadLength(r io.Reader) (int, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:1]); err != nil {
		return 0, &Error{Op: "read length", Err: err}
	}
	c := int(b[0])
	var extra int
	switch {
	case c&0x80 == 0x00:
		return c, nil
	case c&0xC0 == 0x80:
		c &= 0x3F
		extra = 1
	case c&0xE0 == 0xC0:
		c &= 0x1F
		extra = 2
	case c&0xF0 == 0xE0:
		c &= 0x0F
		extra = 3
	case c == 0xF0:
		// Length follows big-endian in the next four bytes.
		c = 0
		extra = 4
	default:
		// 0xF1..0xFF are not part of the framing.
		return 0, wireErrorf("read length", "reserved control byte %#x", c)
	}
	if _, err := io.ReadFull(r, b[:extra]); err != nil {
		return 0, &Error{Op: "read length", Err: err}
	}
	for i := 0; i < extra; i++ {
		c = c<<8 | int(b[i])
	}
	return c, nil
}

// ReadWord decodes one length-prefixed word from r. Invalid UTF-8 bytes are
// replaced rather than treated as fatal; RouterOS occasionally emits raw
// binary in attribute values.
func ReadWord(r io.Reader) (string, error) {
	l, err := ReadLength(r)
	if err != nil {
		return "", err
	}
	if l > MaxWordLength {
		return "", wireErrorf("read word", "word length %d exceeds %d byte cap", l, MaxWordLength)
	}
	if l == 0 {
		return "", nil
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", &Error{Op: "read word", Err: err}
	}
	return strings.ToValidUTF8(string(buf), "�"), nil
}

// ReadSentence reads words until the zero-length terminator. The terminator
// itself is not part of the returned sentence. An empty sentence (lone
// terminator) is returned as a nil slice; the caller decides whether that is
// meaningful.
func ReadSentence(r io.Reader) (Sentence, error) {
	var s Sentence
	for {
		w, err := ReadWord(r)
		if err != nil {
			return nil, err
		}
		if w == "" {
			return s, nil
		}
		s = append(s, w)
	}
}
