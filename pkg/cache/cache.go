// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

// Package cache is the short-TTL result cache that shields routers from
// duplicate monitoring work. Entries are keyed by a stable fingerprint of
// the request and never mutate; they are replaced whole.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	gocache "github.com/patrickmn/go-cache"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Defaults mirror the collector's environment defaults.
const (
	DefaultTTL     = 30 * time.Second
	DefaultMaxSize = 1000

	// purgeFraction of the oldest entries (by expiry) is dropped when an
	// insert would exceed MaxSize.
	purgeFraction = 0.20
)

// Fingerprint identifies an idempotent operation. Field order is fixed and
// empty fields are omitted, so the same request always hashes the same
// regardless of how the caller assembled it.
type Fingerprint struct {
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Op       string            `json:"op"`
	Target   string            `json:"target,omitempty"`
	Count    int               `json:"count,omitempty"`
	Size     int               `json:"size,omitempty"`
	Interval string            `json:"interval,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Key returns the MD5 hex digest of the fingerprint's canonical JSON.
// jsoniter sorts map keys like encoding/json, so Extra is order-insensitive.
func (f Fingerprint) Key() string {
	raw, err := json.Marshal(f)
	if err != nil {
		// A map[string]string cannot fail to marshal; keep the signature
		// simple and fall back to an unmistakably distinct key.
		return "fingerprint-error"
	}
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// Stats is a cache counters snapshot.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	TTL       float64 `json:"ttl_seconds"`
	HitRate   float64 `json:"hit_rate_percent"`
}

// Cache is a TTL cache with size-pressure eviction of the oldest entries.
// Only successful results belong here; callers enforce that.
type Cache struct {
	store   *gocache.Cache
	ttl     time.Duration
	maxSize int

	purgeMu   sync.Mutex
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache with the given default TTL and size bound. A zero ttl
// or maxSize falls back to the defaults. Expired entries are additionally
// reaped by a background janitor.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		store:   gocache.New(ttl, 2*ttl),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get returns the cached value, or nil/false on miss or expiry.
func (c *Cache) Get(key string) (interface{}, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return v, true
}

// Put stores the value under the default TTL, replacing any prior entry.
// When the cache is full, the 20% of entries closest to expiry are dropped
// first.
func (c *Cache) Put(key string, value interface{}) {
	c.PutTTL(key, value, c.ttl)
}

// PutTTL stores the value with an explicit TTL.
func (c *Cache) PutTTL(key string, value interface{}, ttl time.Duration) {
	if c.store.ItemCount() >= c.maxSize {
		c.purgeOldest()
	}
	c.store.Set(key, value, ttl)
}

// purgeOldest removes the purgeFraction of entries with the nearest expiry.
func (c *Cache) purgeOldest() {
	c.purgeMu.Lock()
	defer c.purgeMu.Unlock()

	items := c.store.Items()
	if len(items) < c.maxSize {
		return // another writer purged while we waited
	}
	type aged struct {
		key    string
		expiry int64
	}
	byExpiry := make([]aged, 0, len(items))
	for k, it := range items {
		byExpiry = append(byExpiry, aged{key: k, expiry: it.Expiration})
	}
	sort.Slice(byExpiry, func(i, j int) bool { return byExpiry[i].expiry < byExpiry[j].expiry })

	n := int(float64(len(byExpiry)) * purgeFraction)
	if n < 1 {
		n = 1
	}
	for _, a := range byExpiry[:n] {
		c.store.Delete(a.key)
	}
	c.evictions.Add(uint64(n))
}

// Flush drops every entry and returns how many were removed.
func (c *Cache) Flush() int {
	n := c.store.ItemCount()
	c.store.Flush()
	return n
}

// Stats returns a counters snapshot with the hit rate derived outside any
// lock.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		Size:      c.store.ItemCount(),
		MaxSize:   c.maxSize,
		TTL:       c.ttl.Seconds(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total) * 100
	}
	return s
}
