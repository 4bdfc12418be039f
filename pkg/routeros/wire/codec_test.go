// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLengthRoundTrip(t *testing.T) {
	lengths := []int{
		0, 1, 0x7F,
		0x80, 0x100, 0x3FFF,
		0x4000, 0x10000, 0x1FFFFF,
		0x200000, 0x1000000, 0xFFFFFFF,
	}
	for _, l := range lengths {
		buf := AppendLength(nil, l)
		got, err := ReadLength(bytes.NewReader(buf))
		require.NoError(t, err, "length %#x", l)
		assert.Equal(t, l, got, "length %#x", l)
	}
}

func TestLengthEncodingWidths(t *testing.T) {
	for _, tt := range []struct {
		l     int
		width int
	}{
		{0x00, 1},
		{0x7F, 1},
		{0x80, 2},
		{0x3FFF, 2},
		{0x4000, 3},
		{0x1FFFFF, 3},
		{0x200000, 4},
		{0xFFFFFFF, 4},
		{0x10000000, 5},
	} {
		assert.Len(t, AppendLength(nil, tt.l), tt.width, "length %#x", tt.l)
	}
}

func TestFiveByteLength(t *testing.T) {
	// 0xF0 control byte is discarded, length is the next 4 big-endian bytes.
	buf := []byte{0xF0, 0x00, 0x00, 0x01, 0x02}
	got, err := ReadLength(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, 0x102, got)
}

func TestReservedControlBytes(t *testing.T) {
	// Only 0xF0 introduces the 5-byte form; 0xF1..0xFF are undefined and
	// mean the stream is no longer word-aligned.
	for _, b := range []byte{0xF1, 0xF8, 0xFF} {
		buf := []byte{b, 0x00, 0x00, 0x01, 0x02}
		_, err := ReadLength(bytes.NewReader(buf))
		require.Error(t, err, "control byte %#x", b)
		var wireErr *Error
		assert.ErrorAs(t, err, &wireErr)
	}
}

func TestSentenceRoundTrip(t *testing.T) {
	for _, words := range [][]string{
		{"/login"},
		{"/ping", "=address=8.8.8.8", "=count=4", ".tag=7"},
		{"!re", "=seq=0", "=time=12ms"},
		{"!done", ".tag=42"},
		{"/interface/print"},
	} {
		enc := EncodeSentence(words)
		got, err := ReadSentence(bytes.NewReader(enc))
		require.NoError(t, err)
		assert.Equal(t, Sentence(words), got)
	}
}

func TestEmptySentence(t *testing.T) {
	got, err := ReadSentence(bytes.NewReader([]byte{0x00}))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLongWordRoundTrip(t *testing.T) {
	word := strings.Repeat("x", 0x5000) // forces a 3-byte prefix
	enc := EncodeSentence([]string{word})
	got, err := ReadSentence(bytes.NewReader(enc))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, word, got[0])
}

func TestOversizeWord(t *testing.T) {
	buf := AppendLength(nil, MaxWordLength+1)
	_, err := ReadWord(bytes.NewReader(buf))
	require.Error(t, err)
	var werr *Error
	assert.ErrorAs(t, err, &werr)
}

func TestShortRead(t *testing.T) {
	// Word claims 10 bytes but only 3 are available.
	buf := AppendWord(nil, "abc")
	buf[0] = 10
	_, err := ReadWord(bytes.NewReader(buf))
	require.Error(t, err)
	var werr *Error
	assert.ErrorAs(t, err, &werr)

	// Truncated mid-sentence: a word but no terminator.
	_, err = ReadSentence(bytes.NewReader(AppendWord(nil, "!re")))
	assert.Error(t, err)
}

func TestInvalidUTF8Replaced(t *testing.T) {
	raw := []byte{0x02, 0xFF, 0xFE}
	got, err := ReadWord(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "��", got)
}

func TestSentenceAccessors(t *testing.T) {
	s := Sentence{"!re", "=seq=1", "=time=12ms", ".tag=9"}
	assert.Equal(t, ReplyRe, s.Reply())
	assert.False(t, s.IsTerminal())
	assert.Equal(t, "9", s.Tag())

	v, ok := s.Attr("time")
	require.True(t, ok)
	assert.Equal(t, "12ms", v)
	_, ok = s.Attr("ttl")
	assert.False(t, ok)

	attrs := s.Attributes()
	assert.Equal(t, map[string]string{"seq": "1", "time": "12ms"}, attrs)

	done := Sentence{"!done", ".tag=9"}
	assert.True(t, done.IsTerminal())

	trap := Sentence{"!trap", "=message=invalid user name or password"}
	assert.True(t, trap.IsTerminal())
	assert.Equal(t, "invalid user name or password", trap.TrapMessage())
}
