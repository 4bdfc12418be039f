// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tripleplay-networks/sentinel-collector/pkg/util/log"
)

// Pool defaults.
const (
	DefaultMaxPoolSize     = 50
	DefaultIdleTimeout     = 300 * time.Second
	DefaultLivenessAge     = 60 * time.Second
	defaultLivenessProbe   = 3 * time.Second
	defaultJanitorInterval = 60 * time.Second
)

// PoolConfig tunes a per-router session pool.
type PoolConfig struct {
	// MaxSize bounds the number of sessions (including in-flight dials).
	MaxSize int
	// IdleTimeout is the age after which an idle session is a candidate for
	// janitor eviction.
	IdleTimeout time.Duration
	// LivenessAge is the idle age beyond which an acquired session is probed
	// before being handed out.
	LivenessAge time.Duration
	// Dial configures connect/login for new sessions.
	Dial DialConfig
	// Clock is swappable for tests. Nil means the real clock.
	Clock clock.Clock
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxPoolSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.LivenessAge <= 0 {
		c.LivenessAge = DefaultLivenessAge
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// PoolStats is a snapshot of a pool's accounting counters.
type PoolStats struct {
	Created uint64 `json:"created"`
	Reused  uint64 `json:"reused"`
	Failed  uint64 `json:"failed"`
	Evicted uint64 `json:"evicted"`
	Size    int    `json:"size"`
	Idle    int    `json:"idle"`
}

// Pool maintains a bounded set of sessions for one pool key
// (host, port, username). Acquire prefers the most recently used idle
// session; at capacity callers block until a release or their deadline.
type Pool struct {
	key string
	cfg PoolConfig
	clk clock.Clock

	mu           sync.Mutex
	sessions     []*Session
	placeholders int // dials in progress, counted against MaxSize
	waiters      []chan struct{}
	closed       bool

	created atomic.Uint64
	reused  atomic.Uint64
	failed  atomic.Uint64
	evicted atomic.Uint64
}

// NewPool returns an empty pool for the given key.
func NewPool(key string, cfg PoolConfig) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{key: key, cfg: cfg, clk: cfg.Clock}
}

// Key returns the pool's (host, port, username) identity.
func (p *Pool) Key() string { return p.key }

// Acquire returns a session marked Busy, dialing a new one when allowed. It
// blocks at capacity until an idle session appears or ctx expires, in which
// case ErrPoolExhausted is returned.
func (p *Pool) Acquire(ctx context.Context, ep Endpoint) (*Session, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrSessionClosed
		}

		if s := p.takeIdleLocked(); s != nil {
			idleFor := p.clk.Now().Sub(s.LastUsed())
			p.mu.Unlock()
			if idleFor > p.cfg.LivenessAge && !p.probe(s) {
				p.evict(s)
				continue
			}
			p.reused.Add(1)
			return s, nil
		}

		if len(p.sessions)+p.placeholders < p.cfg.MaxSize {
			p.placeholders++
			p.mu.Unlock()
			return p.dial(ctx, ep)
		}

		// At capacity: queue behind a release.
		w := make(chan struct{}, 1)
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		select {
		case <-w:
		case <-ctx.Done():
			p.removeWaiter(w)
			return nil, ErrPoolExhausted
		}
	}
}

// takeIdleLocked picks the most recently used idle session and marks it Busy.
// Dead sessions encountered during the scan are dropped on the spot.
func (p *Pool) takeIdleLocked() *Session {
	var best *Session
	for i := 0; i < len(p.sessions); {
		s := p.sessions[i]
		if s.State() == StateDead {
			p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
			p.evicted.Add(1)
			continue
		}
		if s.State() == StateIdle && (best == nil || s.LastUsed().After(best.LastUsed())) {
			best = s
		}
		i++
	}
	if best == nil {
		return nil
	}
	if !best.setState(StateBusy) {
		return nil // raced with death; next Acquire pass cleans up
	}
	return best
}

// dial performs connect+login off-lock while holding a placeholder slot.
func (p *Pool) dial(ctx context.Context, ep Endpoint) (*Session, error) {
	s, err := Dial(ctx, ep, p.cfg.Dial)

	p.mu.Lock()
	p.placeholders--
	if err != nil {
		p.failed.Add(1)
		p.signalLocked()
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		s.Close()
		return nil, ErrSessionClosed
	}
	s.setState(StateBusy)
	p.sessions = append(p.sessions, s)
	p.created.Add(1)
	p.mu.Unlock()
	return s, nil
}

// Release returns a session to the pool. Dead sessions are evicted instead;
// either way exactly one waiter is woken.
func (p *Pool) Release(s *Session) {
	if s.State() == StateDead || !s.setState(StateIdle) {
		p.evict(s)
		return
	}
	p.mu.Lock()
	p.signalLocked()
	p.mu.Unlock()
}

// evict removes the session from the pool and closes it. The slot it held
// becomes available, so a waiter is woken.
func (p *Pool) evict(s *Session) {
	p.mu.Lock()
	for i, cand := range p.sessions {
		if cand == s {
			p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
			p.evicted.Add(1)
			break
		}
	}
	p.signalLocked()
	p.mu.Unlock()
	s.Close()
}

func (p *Pool) signalLocked() {
	if len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	select {
	case w <- struct{}{}:
	default:
	}
}

func (p *Pool) removeWaiter(w chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
	// Already signalled: pass the wakeup on so it is not lost.
	p.signalLocked()
}

// probe checks liveness with a short deadline.
func (p *Pool) probe(s *Session) bool {
	ctx, cancel := context.WithTimeout(context.Background(), defaultLivenessProbe)
	defer cancel()
	return s.IsAlive(ctx)
}

// sweep evicts dead sessions and probes idle sessions older than
// IdleTimeout, evicting the ones that fail. Called by the registry janitor.
func (p *Pool) sweep() {
	now := p.clk.Now()

	p.mu.Lock()
	var stale []*Session
	for i := 0; i < len(p.sessions); {
		s := p.sessions[i]
		if s.State() == StateDead {
			p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
			p.evicted.Add(1)
			p.signalLocked()
			continue
		}
		if s.State() == StateIdle && now.Sub(s.LastUsed()) > p.cfg.IdleTimeout && s.setState(StateBusy) {
			stale = append(stale, s)
		}
		i++
	}
	p.mu.Unlock()

	for _, s := range stale {
		if p.probe(s) {
			p.Release(s)
			continue
		}
		log.Debugf("routeros: pool %s: evicting idle session (idle since %s)", p.key, s.LastUsed())
		p.evict(s)
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	size := len(p.sessions) + p.placeholders
	idle := 0
	for _, s := range p.sessions {
		if s.State() == StateIdle {
			idle++
		}
	}
	p.mu.Unlock()
	return PoolStats{
		Created: p.created.Load(),
		Reused:  p.reused.Load(),
		Failed:  p.failed.Load(),
		Evicted: p.evicted.Load(),
		Size:    size,
		Idle:    idle,
	}
}

// Close evicts every session and fails all waiters.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sessions := p.sessions
	p.sessions = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	for _, s := range sessions {
		s.Close()
	}
}
