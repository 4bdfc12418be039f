// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

// Package client implements the RouterOS binary API client: authenticated
// sessions with tagged request multiplexing, and per-router connection pools.
package client

import (
	"bufio"
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/tripleplay-networks/sentinel-collector/pkg/routeros/wire"
	"github.com/tripleplay-networks/sentinel-collector/pkg/util/log"
)

// State is the lifecycle state of a session.
type State int32

// Session states. Only Idle sessions may be acquired from a pool; a Dead
// session is never reused.
const (
	StateDialing State = iota
	StateAuthenticating
	StateIdle
	StateBusy
	StateDead
)

func (s State) String() string {
	switch s {
	case StateDialing:
		return "dialing"
	case StateAuthenticating:
		return "authenticating"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

// sinkBuffer bounds the per-call record buffer. Consumers are expected to
// drain continuously; records past a full buffer are dropped.
const sinkBuffer = 64

type sink struct {
	ch        chan wire.Sentence
	abandoned sync.Once
	dropAll   bool // set under the session mutex by Abandon

	// err is written by the reader before ch is closed; the channel close
	// is the happens-before edge that publishes it to the consumer.
	err error
}

// Call is one in-flight tagged request on a session.
type Call struct {
	// Tag is the per-session identifier carried by every reply.
	Tag string

	s  *Session
	sk *sink
}

// Records returns the stream of intermediate !re replies. The channel is
// closed when the terminal reply arrives or the session dies.
func (c *Call) Records() <-chan wire.Sentence { return c.sk.ch }

// Err reports how the call ended. It is meaningful only after Records() has
// been closed: nil for !done, a *DeviceError for !trap/!fatal, the session's
// failure for a dead socket.
func (c *Call) Err() error { return c.sk.err }

// Abandon detaches the caller from the call. The tag stays registered so the
// reader can keep discarding late replies until the terminal one arrives;
// only a drop-marker is retained, no resources leak.
func (c *Call) Abandon() {
	c.s.mu.Lock()
	c.sk.dropAll = true
	c.s.mu.Unlock()
	c.sk.abandoned.Do(func() {
		// Drain anything already buffered so the reader never blocks.
		go func() {
			for range c.sk.ch {
			}
		}()
	})
}

// DialConfig carries the knobs for establishing a session.
type DialConfig struct {
	// Timeout bounds the TCP connect and the login exchange.
	Timeout time.Duration
	// TLSConfig is used when the endpoint requests TLS. Nil means accept the
	// device's self-signed certificate (no hostname/CA verification).
	TLSConfig *tls.Config
}

const defaultDialTimeout = 10 * time.Second

// Session owns one authenticated API socket. Many tagged calls may be in
// flight concurrently; writes are serialized by a write lock and replies are
// demultiplexed by a single reader goroutine.
type Session struct {
	endpoint Endpoint
	conn     net.Conn
	br       *bufio.Reader

	writeMu sync.Mutex // sentence bytes must never interleave on the wire

	mu        sync.Mutex
	state     State
	pending   map[string]*sink
	nextTag   uint64
	err       error // first fatal error, set once
	lastUsed  time.Time
	createdAt time.Time

	closeOnce sync.Once
}

// Dial connects to the endpoint, authenticates, and starts the reply reader.
func Dial(ctx context.Context, ep Endpoint, cfg DialConfig) (*Session, error) {
	ep = ep.withDefaults()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", ep.Addr())
	if err != nil {
		return nil, &wire.Error{Op: "dial", Err: err}
	}
	if ep.UseTLS {
		tlsCfg := cfg.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{InsecureSkipVerify: true}
		}
		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, &wire.Error{Op: "tls handshake", Err: err}
		}
		conn = tlsConn
	}

	now := time.Now()
	s := &Session{
		endpoint:  ep,
		conn:      conn,
		br:        bufio.NewReader(conn),
		state:     StateAuthenticating,
		pending:   make(map[string]*sink),
		createdAt: now,
		lastUsed:  now,
	}

	// Login runs synchronously on the socket before the reader starts, with
	// an IO deadline so a wedged device cannot hold the dialer forever.
	conn.SetDeadline(now.Add(timeout)) //nolint:errcheck
	if err := s.login(); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{}) //nolint:errcheck

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()

	go s.readLoop()
	log.Debugf("routeros: session established with %s (user %s)", ep.Addr(), ep.Username)
	return s, nil
}

// login authenticates using the post-6.43 plaintext form first. If the reply
// carries a `=ret=` challenge the device is running the legacy scheme and we
// answer with the MD5 challenge response.
func (s *Session) login() error {
	req := []string{"/login", "=name=" + s.endpoint.Username, "=password=" + s.endpoint.Password}
	if err := wire.WriteSentence(s.conn, req); err != nil {
		return err
	}
	reply, err := wire.ReadSentence(s.br)
	if err != nil {
		return err
	}
	switch reply.Reply() {
	case wire.ReplyDone:
		challenge, ok := reply.Attr("ret")
		if !ok {
			return nil // plaintext login accepted
		}
		return s.loginChallenge(challenge)
	case wire.ReplyTrap, wire.ReplyFatal:
		return fmt.Errorf("%w: %s", ErrAuth, reply.TrapMessage())
	}
	return &wire.Error{Op: "login", Err: fmt.Errorf("unexpected reply %q", reply.Reply())}
}

func (s *Session) loginChallenge(challengeHex string) error {
	challenge, err := hex.DecodeString(challengeHex)
	if err != nil {
		return &wire.Error{Op: "login", Err: fmt.Errorf("malformed challenge %q", challengeHex)}
	}
	h := md5.New()
	h.Write([]byte{0})
	h.Write([]byte(s.endpoint.Password))
	h.Write(challenge)
	response := "00" + hex.EncodeToString(h.Sum(nil))

	req := []string{"/login", "=name=" + s.endpoint.Username, "=response=" + response}
	if err := wire.WriteSentence(s.conn, req); err != nil {
		return err
	}
	reply, err := wire.ReadSentence(s.br)
	if err != nil {
		return err
	}
	if reply.Reply() != wire.ReplyDone {
		return fmt.Errorf("%w: %s", ErrAuth, reply.TrapMessage())
	}
	return nil
}

// Call sends the sentence with a fresh `.tag` and registers a sink for its
// replies. The returned Call streams !re records until the terminal reply.
func (s *Session) Call(words []string) (*Call, error) {
	s.mu.Lock()
	if s.state == StateDead {
		err := s.err
		s.mu.Unlock()
		if err == nil {
			err = ErrSessionClosed
		}
		return nil, err
	}
	tag := s.allocateTagLocked()
	sk := &sink{ch: make(chan wire.Sentence, sinkBuffer)}
	s.pending[tag] = sk
	s.lastUsed = time.Now()
	s.mu.Unlock()

	sentence := make([]string, 0, len(words)+1)
	sentence = append(sentence, words...)
	sentence = append(sentence, ".tag="+tag)

	s.writeMu.Lock()
	err := wire.WriteSentence(s.conn, sentence)
	s.writeMu.Unlock()
	if err != nil {
		s.fail(err)
		return nil, err
	}
	return &Call{Tag: tag, s: s, sk: sk}, nil
}

// allocateTagLocked returns the next tag, skipping any value still pending.
// Wraparound is permitted; collisions with in-flight tags are not.
func (s *Session) allocateTagLocked() string {
	for {
		s.nextTag++
		tag := strconv.FormatUint(s.nextTag, 10)
		if _, busy := s.pending[tag]; !busy {
			return tag
		}
	}
}

// readLoop is the single reader for the socket. It demultiplexes replies to
// their tag's sink and tears the session down on the first wire error.
func (s *Session) readLoop() {
	for {
		sentence, err := wire.ReadSentence(s.br)
		if err != nil {
			s.fail(err)
			return
		}
		reply := sentence.Reply()
		if reply == wire.ReplyFatal {
			// Fatal ends the connection, tagged or not.
			s.fail(&DeviceError{Message: sentence.TrapMessage(), Fatal: true})
			return
		}
		tag := sentence.Tag()
		if tag == "" {
			log.Debugf("routeros: %s: dropping untagged %s reply", s.endpoint.Addr(), reply)
			continue
		}

		s.mu.Lock()
		sk := s.pending[tag]
		terminal := sentence.IsTerminal()
		if sk != nil && terminal {
			delete(s.pending, tag)
			if reply == wire.ReplyTrap {
				sk.err = &DeviceError{Message: sentence.TrapMessage()}
			}
		}
		drop := sk == nil || sk.dropAll
		s.mu.Unlock()

		if sk == nil {
			log.Debugf("routeros: %s: late reply for unknown tag %s", s.endpoint.Addr(), tag)
			continue
		}
		if terminal {
			close(sk.ch)
			continue
		}
		if drop {
			continue
		}
		select {
		case sk.ch <- sentence:
		default:
			log.Warnf("routeros: %s: sink for tag %s full, dropping record", s.endpoint.Addr(), tag) //nolint:errcheck
		}
	}
}

// fail transitions the session to Dead and closes every pending sink with
// the given error. Safe to call from any goroutine; only the first error
// sticks.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state == StateDead {
		s.mu.Unlock()
		return
	}
	s.state = StateDead
	s.err = err
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.conn.Close()
	for _, sk := range pending {
		sk.err = err
		close(sk.ch)
	}
	log.Debugf("routeros: session to %s dead: %v", s.endpoint.Addr(), err)
}

// Close shuts the session down, cancelling all pending calls.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.fail(ErrSessionClosed)
	})
	return nil
}

// IsAlive probes the device with /system/identity/print under the context's
// deadline. Any failure means the session must be evicted.
func (s *Session) IsAlive(ctx context.Context) bool {
	call, err := s.Call([]string{"/system/identity/print"})
	if err != nil {
		return false
	}
	for {
		select {
		case _, ok := <-call.Records():
			if !ok {
				return call.Err() == nil
			}
		case <-ctx.Done():
			call.Abandon()
			return false
		}
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint returns the endpoint this session is connected to.
func (s *Session) Endpoint() Endpoint { return s.endpoint }

// LastUsed returns the time of the last acquire/call/release.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// CreatedAt returns the session's creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// setState is used by the pool for Idle/Busy bookkeeping. It never resurrects
// a dead session.
func (s *Session) setState(st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDead {
		return false
	}
	s.state = st
	s.lastUsed = time.Now()
	return true
}
