// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

// Package command translates high-level diagnostic operations (ping,
// traceroute, generic prints) into API sentences, collects their streaming
// replies, and normalizes the raw device records into bounded numeric
// summaries.
package command

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Ping defaults, matching RouterOS's own.
const (
	DefaultPingCount    = 4
	DefaultPingSize     = 64
	DefaultPingInterval = time.Second

	// pingOverhead pads the ping deadline beyond count*interval to absorb
	// login latency and the final !done.
	pingOverhead = 5 * time.Second
)

// Op is a device operation that can be rendered as an API sentence.
type Op interface {
	Sentence() []string
}

// Ping is an ICMP echo batch against one target.
type Ping struct {
	Target   string
	Count    int
	Size     int
	Interval time.Duration
}

// WithDefaults fills zero fields with the RouterOS defaults.
func (p Ping) WithDefaults() Ping {
	if p.Count <= 0 {
		p.Count = DefaultPingCount
	}
	if p.Size <= 0 {
		p.Size = DefaultPingSize
	}
	if p.Interval <= 0 {
		p.Interval = DefaultPingInterval
	}
	return p
}

// Sentence renders the /ping request.
func (p Ping) Sentence() []string {
	p = p.WithDefaults()
	return []string{
		"/ping",
		"=address=" + p.Target,
		"=count=" + strconv.Itoa(p.Count),
		"=size=" + strconv.Itoa(p.Size),
		"=interval=" + formatSeconds(p.Interval),
	}
}

// Deadline is how long the device may stream before we give up: one interval
// per probe plus a fixed overhead.
func (p Ping) Deadline() time.Duration {
	p = p.WithDefaults()
	return time.Duration(p.Count)*p.Interval + pingOverhead
}

// Traceroute is a hop-by-hop path probe against one target.
type Traceroute struct {
	Target string
	Count  int
}

// Sentence renders the /tool/traceroute request.
func (t Traceroute) Sentence() []string {
	count := t.Count
	if count <= 0 {
		count = 3
	}
	return []string{
		"/tool/traceroute",
		"=address=" + t.Target,
		"=count=" + strconv.Itoa(count),
	}
}

// Generic is a raw command path with attributes, passed through verbatim.
// Unknown paths are the device's problem to reject.
type Generic struct {
	Path  string
	Attrs map[string]string
}

// Sentence renders the request with attributes in sorted order so the same
// operation always produces the same bytes.
func (g Generic) Sentence() []string {
	words := []string{g.Path}
	keys := make([]string, 0, len(g.Attrs))
	for k := range g.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		words = append(words, fmt.Sprintf("=%s=%s", k, g.Attrs[k]))
	}
	return words
}

// formatSeconds renders a duration the way the RouterOS CLI expects interval
// values: whole seconds when round, decimal seconds otherwise.
func formatSeconds(d time.Duration) string {
	if d%time.Second == 0 {
		return strconv.Itoa(int(d / time.Second))
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 2, 64)
}
