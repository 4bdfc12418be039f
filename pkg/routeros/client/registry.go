// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package client

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"

	"github.com/tripleplay-networks/sentinel-collector/pkg/util/log"
)

// Registry holds one Pool per pool key. The registry map is guarded by a
// short-hold mutex; all long operations happen inside the pools.
type Registry struct {
	cfg PoolConfig
	clk clock.Clock

	mu    sync.Mutex
	pools map[string]*Pool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRegistry returns a registry creating pools with the given config and
// starts the background janitor.
func NewRegistry(cfg PoolConfig) *Registry {
	cfg = cfg.withDefaults()
	r := &Registry{
		cfg:   cfg,
		clk:   cfg.Clock,
		pools: make(map[string]*Pool),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Pool returns the pool for the endpoint's key, creating it on first use.
func (r *Registry) Pool(ep Endpoint) *Pool {
	ep = ep.withDefaults()
	key := ep.PoolKey()
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[key]
	if !ok {
		p = NewPool(key, r.cfg)
		r.pools[key] = p
		log.Debugf("routeros: new pool for %s (max %d)", key, r.cfg.MaxSize)
	}
	return p
}

// Acquire is shorthand for Pool(ep).Acquire.
func (r *Registry) Acquire(ctx context.Context, ep Endpoint) (*Session, *Pool, error) {
	p := r.Pool(ep)
	s, err := p.Acquire(ctx, ep)
	if err != nil {
		return nil, nil, err
	}
	return s, p, nil
}

func (r *Registry) snapshot() []*Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	return pools
}

// Stats returns per-pool counters keyed by pool key.
func (r *Registry) Stats() map[string]PoolStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]PoolStats, len(r.pools))
	for key, p := range r.pools {
		out[key] = p.Stats()
	}
	return out
}

func (r *Registry) janitor() {
	defer close(r.done)
	ticker := r.clk.Ticker(defaultJanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, p := range r.snapshot() {
				p.sweep()
			}
		case <-r.stop:
			return
		}
	}
}

// Drain stops the janitor and closes every pool. It waits briefly for the
// janitor to exit so no sweep races the close.
func (r *Registry) Drain() error {
	var errs *multierror.Error
	r.stopOnce.Do(func() {
		close(r.stop)
		select {
		case <-r.done:
		case <-time.After(time.Second):
			errs = multierror.Append(errs, log.Errorf("routeros: janitor did not stop in time"))
		}
		r.mu.Lock()
		pools := r.pools
		r.pools = make(map[string]*Pool)
		r.mu.Unlock()
		for key, p := range pools {
			p.Close()
			log.Debugf("routeros: drained pool %s", key)
		}
	})
	return errs.ErrorOrNil()
}
