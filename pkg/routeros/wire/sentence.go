// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package wire

import "strings"

// Reply words. The first word of every device reply is one of these.
const (
	ReplyRe    = "!re"    // intermediate record
	ReplyDone  = "!done"  // terminal success
	ReplyTrap  = "!trap"  // device-reported error, terminal for the tag
	ReplyFatal = "!fatal" // fatal error, terminal for the connection
)

// Sentence is an ordered list of words. Replies start with a reply word;
// requests start with a command path. Remaining words are `=key=value`
// attributes or `.key=value` API attributes.
type Sentence []string

// Reply returns the reply word, or "" if the sentence is not a reply.
func (s Sentence) Reply() string {
	if len(s) > 0 && strings.HasPrefix(s[0], "!") {
		return s[0]
	}
	return ""
}

// IsTerminal reports whether the sentence ends the stream for its tag.
func (s Sentence) IsTerminal() bool {
	switch s.Reply() {
	case ReplyDone, ReplyTrap, ReplyFatal:
		return true
	}
	return false
}

// Tag returns the value of the `.tag` attribute, or "".
func (s Sentence) Tag() string {
	for _, w := range s {
		if strings.HasPrefix(w, ".tag=") {
			return w[len(".tag="):]
		}
	}
	return ""
}

// Attr returns the value of the `=key=` attribute and whether it was present.
func (s Sentence) Attr(key string) (string, bool) {
	prefix := "=" + key + "="
	for _, w := range s {
		if strings.HasPrefix(w, prefix) {
			return w[len(prefix):], true
		}
	}
	return "", false
}

// Attributes collects all `=key=value` words into a map. `.key=value` API
// attributes (tags) are excluded. Later duplicates win, which matches how
// RouterOS emits rolling updates.
func (s Sentence) Attributes() map[string]string {
	m := make(map[string]string, len(s))
	for _, w := range s {
		if !strings.HasPrefix(w, "=") {
			continue
		}
		kv := strings.SplitN(w[1:], "=", 2)
		if len(kv) == 2 {
			m[kv[0]] = kv[1]
		}
	}
	return m
}

// TrapMessage returns the human-readable message of a !trap/!fatal reply.
func (s Sentence) TrapMessage() string {
	if msg, ok := s.Attr("message"); ok {
		return msg
	}
	// !fatal carries its reason as a bare word.
	if len(s) > 1 {
		return strings.Join([]string(s[1:]), " ")
	}
	return "unknown device error"
}
