// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package client

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tripleplay-networks/sentinel-collector/pkg/routeros/wire"
)

const (
	testUsername = "monitor"
	testPassword = "s3cret"
)

// routerHandler produces the reply sentences for one request. The harness
// appends the request's tag to every reply. A nil return means stay silent.
type routerHandler func(req wire.Sentence) []wire.Sentence

// fakeRouter speaks the RouterOS binary API on a loopback listener: login
// exchange first, then request/reply with tag echo.
type fakeRouter struct {
	t      *testing.T
	ln     net.Listener
	handle routerHandler
	legacy bool // challenge-response login instead of plaintext

	mu     sync.Mutex
	conns  []net.Conn
	closed bool
	wg     sync.WaitGroup
}

func newFakeRouter(t *testing.T, handle routerHandler) *fakeRouter {
	t.Helper()
	if handle == nil {
		handle = func(wire.Sentence) []wire.Sentence {
			return []wire.Sentence{{wire.ReplyDone}}
		}
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := &fakeRouter{t: t, ln: ln, handle: handle}
	r.wg.Add(1)
	go r.acceptLoop()
	t.Cleanup(r.Close)
	return r
}

func (r *fakeRouter) endpoint() Endpoint {
	return Endpoint{
		Host:     "127.0.0.1",
		Port:     r.ln.Addr().(*net.TCPAddr).Port,
		Username: testUsername,
		Password: testPassword,
	}
}

// dropConnections severs every accepted connection, simulating a device
// reboot with the listener still up.
func (r *fakeRouter) dropConnections() {
	r.mu.Lock()
	conns := r.conns
	r.conns = nil
	r.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (r *fakeRouter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.ln.Close()
	r.dropConnections()
	r.wg.Wait()
}

func (r *fakeRouter) acceptLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			conn.Close()
			return
		}
		r.conns = append(r.conns, conn)
		r.mu.Unlock()
		r.wg.Add(1)
		go r.serve(conn)
	}
}

func (r *fakeRouter) serve(conn net.Conn) {
	defer r.wg.Done()
	br := bufio.NewReader(conn)
	if !r.doLogin(conn, br) {
		return
	}
	for {
		req, err := wire.ReadSentence(br)
		if err != nil {
			return
		}
		tag := req.Tag()
		for _, reply := range r.handle(req) {
			out := append(wire.Sentence{}, reply...)
			if tag != "" {
				out = append(out, ".tag="+tag)
			}
			if err := wire.WriteSentence(conn, out); err != nil {
				return
			}
		}
	}
}

func (r *fakeRouter) doLogin(conn net.Conn, br *bufio.Reader) bool {
	req, err := wire.ReadSentence(br)
	if err != nil || len(req) == 0 || req[0] != "/login" {
		return false
	}
	if r.legacy {
		return r.doChallengeLogin(conn, br)
	}
	password, _ := req.Attr("password")
	if password != testPassword {
		wire.WriteSentence(conn, []string{wire.ReplyTrap, "=message=invalid user name or password (6)"}) //nolint:errcheck
		return false
	}
	return wire.WriteSentence(conn, []string{wire.ReplyDone}) == nil
}

func (r *fakeRouter) doChallengeLogin(conn net.Conn, br *bufio.Reader) bool {
	const challengeHex = "0102030405060708090a0b0c0d0e0f10"
	if err := wire.WriteSentence(conn, []string{wire.ReplyDone, "=ret=" + challengeHex}); err != nil {
		return false
	}
	resp, err := wire.ReadSentence(br)
	if err != nil {
		return false
	}
	challenge, _ := hex.DecodeString(challengeHex)
	h := md5.New()
	h.Write([]byte{0})
	h.Write([]byte(testPassword))
	h.Write(challenge)
	want := "00" + hex.EncodeToString(h.Sum(nil))
	if got, _ := resp.Attr("response"); got != want {
		wire.WriteSentence(conn, []string{wire.ReplyTrap, "=message=cannot log in"}) //nolint:errcheck
		return false
	}
	return wire.WriteSentence(conn, []string{wire.ReplyDone}) == nil
}
