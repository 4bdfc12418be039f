// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

// Package governor bounds the load the collector may offer: a process-wide
// worker cap that fails fast, and per-router semaphores that queue up to the
// caller's deadline.
package governor

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when the global worker limit is reached. It maps to
// HTTP 429 and is retryable.
var ErrBusy = errors.New("global worker limit reached")

// Defaults match the collector's environment defaults.
const (
	DefaultMaxWorkers = 50
	DefaultMaxPerHost = 200
)

// Governor implements the two backpressure layers in front of the pools.
type Governor struct {
	workers    *semaphore.Weighted
	maxPerHost int64

	mu    sync.Mutex
	hosts map[string]*hostSlot
}

// hostSlot is one router's semaphore plus a reference count of holders and
// waiters. The map entry is dropped when the count reaches zero, so the map
// only ever tracks routers with work in flight.
type hostSlot struct {
	sem  *semaphore.Weighted
	refs int
}

// New returns a governor with the given global and per-router limits.
func New(maxWorkers, maxPerHost int) *Governor {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if maxPerHost <= 0 {
		maxPerHost = DefaultMaxPerHost
	}
	return &Governor{
		workers:    semaphore.NewWeighted(int64(maxWorkers)),
		maxPerHost: int64(maxPerHost),
		hosts:      make(map[string]*hostSlot),
	}
}

// AcquireWorker claims a global worker slot without blocking. ErrBusy means
// the process is saturated and the caller should be rejected immediately.
func (g *Governor) AcquireWorker() error {
	if !g.workers.TryAcquire(1) {
		return ErrBusy
	}
	return nil
}

// ReleaseWorker returns a global slot.
func (g *Governor) ReleaseWorker() {
	g.workers.Release(1)
}

// AcquireHost claims a slot on the router's semaphore, blocking until one is
// free or ctx expires. The semaphore is keyed by pool key so all requests to
// one device share the bound regardless of credentials in flight.
func (g *Governor) AcquireHost(ctx context.Context, key string) error {
	slot := g.retainHost(key)
	if err := slot.sem.Acquire(ctx, 1); err != nil {
		g.releaseRef(key)
		return err
	}
	return nil
}

// ReleaseHost returns a slot on the router's semaphore.
func (g *Governor) ReleaseHost(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot, ok := g.hosts[key]
	if !ok {
		return
	}
	slot.sem.Release(1)
	slot.refs--
	if slot.refs == 0 {
		delete(g.hosts, key)
	}
}

func (g *Governor) retainHost(key string) *hostSlot {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot, ok := g.hosts[key]
	if !ok {
		slot = &hostSlot{sem: semaphore.NewWeighted(g.maxPerHost)}
		g.hosts[key] = slot
	}
	slot.refs++
	return slot
}

// hostCount reports how many routers currently have tracked work.
func (g *Governor) hostCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.hosts)
}

func (g *Governor) releaseRef(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot, ok := g.hosts[key]
	if !ok {
		return
	}
	slot.refs--
	if slot.refs == 0 {
		delete(g.hosts, key)
	}
}
