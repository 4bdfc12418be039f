// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint{Host: "10.0.0.1", Port: 8728, Op: "ping", Target: "8.8.8.8", Count: 4}
	b := Fingerprint{Host: "10.0.0.1", Port: 8728, Op: "ping", Target: "8.8.8.8", Count: 4}
	assert.Equal(t, a.Key(), b.Key())
	assert.Len(t, a.Key(), 32)
}

func TestFingerprintDistinct(t *testing.T) {
	base := Fingerprint{Host: "10.0.0.1", Port: 8728, Op: "ping", Target: "8.8.8.8", Count: 4}
	for name, other := range map[string]Fingerprint{
		"host":   {Host: "10.0.0.2", Port: 8728, Op: "ping", Target: "8.8.8.8", Count: 4},
		"port":   {Host: "10.0.0.1", Port: 8729, Op: "ping", Target: "8.8.8.8", Count: 4},
		"op":     {Host: "10.0.0.1", Port: 8728, Op: "traceroute", Target: "8.8.8.8", Count: 4},
		"target": {Host: "10.0.0.1", Port: 8728, Op: "ping", Target: "8.8.4.4", Count: 4},
		"count":  {Host: "10.0.0.1", Port: 8728, Op: "ping", Target: "8.8.8.8", Count: 5},
		"extra":  {Host: "10.0.0.1", Port: 8728, Op: "ping", Target: "8.8.8.8", Count: 4, Extra: map[string]string{"username": "x"}},
	} {
		assert.NotEqual(t, base.Key(), other.Key(), "field %s must change the key", name)
	}
}

func TestCachePutGet(t *testing.T) {
	c := New(time.Minute, 10)
	c.Put("k", "v")
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok = c.Get("absent")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 50.0, stats.HitRate)
}

func TestCacheExpiry(t *testing.T) {
	c := New(time.Minute, 10)
	c.PutTTL("k", "v", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok, "expired entries must be invisible")
}

func TestCacheSizePressurePurgesOldest(t *testing.T) {
	c := New(time.Minute, 10)
	for i := 0; i < 10; i++ {
		// Earlier entries expire sooner, making them purge candidates.
		c.PutTTL(fmt.Sprintf("k%d", i), i, time.Minute+time.Duration(i)*time.Second)
	}
	c.Put("overflow", "v")

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Size, 10)
	assert.GreaterOrEqual(t, stats.Evictions, uint64(1))

	_, ok := c.Get("k0")
	assert.False(t, ok, "entry closest to expiry purged first")
	_, ok = c.Get("overflow")
	assert.True(t, ok)
	_, ok = c.Get("k9")
	assert.True(t, ok, "newest entries survive the purge")
}

func TestCacheFlush(t *testing.T) {
	c := New(time.Minute, 10)
	c.Put("a", 1)
	c.Put("b", 2)
	assert.Equal(t, 2, c.Flush())
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCacheReplaceDoesNotGrow(t *testing.T) {
	c := New(time.Minute, 10)
	for i := 0; i < 5; i++ {
		c.Put("same", i)
	}
	assert.Equal(t, 1, c.Stats().Size)
	v, ok := c.Get("same")
	require.True(t, ok)
	assert.Equal(t, 4, v)
}
