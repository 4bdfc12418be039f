// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package api

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripleplay-networks/sentinel-collector/pkg/cache"
	"github.com/tripleplay-networks/sentinel-collector/pkg/config"
	"github.com/tripleplay-networks/sentinel-collector/pkg/governor"
	"github.com/tripleplay-networks/sentinel-collector/pkg/info"
	"github.com/tripleplay-networks/sentinel-collector/pkg/routeros/client"
	"github.com/tripleplay-networks/sentinel-collector/pkg/routeros/wire"
	"github.com/tripleplay-networks/sentinel-collector/pkg/telemetry"
)

const devicePassword = "s3cret"

// fakeDevice is a minimal RouterOS API speaker: plaintext login, then a
// canned reply set per command path, tags echoed. Requests are answered
// concurrently so tagged streams interleave like a real device's.
type fakeDevice struct {
	ln        net.Listener
	wg        sync.WaitGroup
	pingDelay time.Duration // wall time each /ping takes to finish
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	d := &fakeDevice{ln: ln}
	d.wg.Add(1)
	go d.acceptLoop()
	t.Cleanup(func() {
		ln.Close()
		d.wg.Wait()
	})
	return d
}

func (d *fakeDevice) port() int { return d.ln.Addr().(*net.TCPAddr).Port }

func (d *fakeDevice) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer conn.Close()
			d.serve(conn)
		}()
	}
}

func (d *fakeDevice) serve(conn net.Conn) {
	br := bufio.NewReader(conn)
	login, err := wire.ReadSentence(br)
	if err != nil || len(login) == 0 || login[0] != "/login" {
		return
	}
	if pw, _ := login.Attr("password"); pw != devicePassword {
		wire.WriteSentence(conn, []string{wire.ReplyTrap, "=message=invalid user name or password (6)"}) //nolint:errcheck
		return
	}
	if wire.WriteSentence(conn, []string{wire.ReplyDone}) != nil {
		return
	}
	var writeMu sync.Mutex
	for {
		req, err := wire.ReadSentence(br)
		if err != nil {
			return
		}
		tag := req.Tag()
		replies := d.replies(req)
		delay := time.Duration(0)
		if req[0] == "/ping" {
			delay = d.pingDelay
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			time.Sleep(delay)
			writeMu.Lock()
			defer writeMu.Unlock()
			for _, reply := range replies {
				if tag != "" {
					reply = append(reply, ".tag="+tag)
				}
				if wire.WriteSentence(conn, reply) != nil {
					return
				}
			}
		}()
	}
}

func (d *fakeDevice) replies(req wire.Sentence) [][]string {
	switch req[0] {
	case "/ping":
		addr, _ := req.Attr("address")
		return [][]string{
			{wire.ReplyRe, "=seq=0", "=host=" + addr, "=time=10ms"},
			{wire.ReplyRe, "=seq=1", "=host=" + addr, "=time=12ms"},
			{wire.ReplyDone},
		}
	case "/system/identity/print":
		return [][]string{
			{wire.ReplyRe, "=name=lab-router"},
			{wire.ReplyDone},
		}
	case "/system/resource/print":
		return [][]string{
			{wire.ReplyRe, "=version=7.14.2", "=board-name=RB4011", "=architecture-name=arm64", "=uptime=2w3d"},
			{wire.ReplyDone},
		}
	case "/interface/print":
		return [][]string{
			{wire.ReplyRe, "=name=ether1", "=running=true"},
			{wire.ReplyRe, "=name=ether2", "=running=false"},
			{wire.ReplyDone},
		}
	default:
		return [][]string{
			{wire.ReplyTrap, "=message=no such command prefix"},
		}
	}
}

type testEnv struct {
	srv *httptest.Server
	gov *governor.Governor
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.DevicePort == 0 {
		cfg.DevicePort = client.DefaultAPIPort
	}
	if cfg.MaxConcurrentHosts == 0 {
		cfg.MaxConcurrentHosts = 10
	}
	registry := client.NewRegistry(client.PoolConfig{
		MaxSize: 4,
		Dial:    client.DialConfig{Timeout: 5 * time.Second},
	})
	t.Cleanup(func() { registry.Drain() }) //nolint:errcheck
	gov := governor.New(cfg.MaxWorkers, 0)

	s := NewServer(cfg, registry, cache.New(30*time.Second, 100), gov, info.NewStats(), telemetry.New())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, gov: gov}
}

func (e *testEnv) post(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func deviceRequest(d *fakeDevice, extra map[string]interface{}) map[string]interface{} {
	body := map[string]interface{}{
		"host":     "127.0.0.1",
		"port":     d.port(),
		"username": "monitor",
		"password": devicePassword,
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func TestIndexAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sentinel-collector", body["service"])

	resp, body = env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "uptime_seconds")
	assert.Contains(t, body, "cache")
}

func TestPingValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.post(t, "/api/v2/mikrotik/ping", map[string]interface{}{
		"username": "u", "password": "p", "targets": []string{"8.8.8.8"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "host")

	resp, body = env.post(t, "/api/v2/mikrotik/ping", map[string]interface{}{
		"host": "10.0.0.1", "username": "u", "password": "p", "targets": []string{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "targets")
}

func TestCommandValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.post(t, "/api/v2/mikrotik/command", map[string]interface{}{
		"host": "10.0.0.1", "username": "u", "password": "p", "command": "interface print",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "absolute API path")
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, &config.Config{EnableAuth: true, APIKey: "k3y"})

	resp, err := http.Get(env.srv.URL + "/api/v2/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	for _, header := range []http.Header{
		{"X-API-Key": []string{"k3y"}},
		{"Authorization": []string{"Bearer k3y"}},
	} {
		req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/v2/stats", nil)
		req.Header = header
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	// Liveness stays open for orchestrators.
	resp, err = http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWorkerSaturation(t *testing.T) {
	env := newTestEnv(t, &config.Config{MaxWorkers: 1})
	require.NoError(t, env.gov.AcquireWorker())
	defer env.gov.ReleaseWorker()

	resp, body := env.post(t, "/api/v2/mikrotik/ping", map[string]interface{}{
		"host": "10.0.0.1", "username": "u", "password": "p", "targets": []string{"8.8.8.8"},
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Busy", body["kind"])
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestPingEndToEnd(t *testing.T) {
	d := newFakeDevice(t)
	env := newTestEnv(t, nil)

	body := deviceRequest(d, map[string]interface{}{
		"targets": []string{"8.8.8.8", "1.1.1.1"},
		"count":   2,
	})
	resp, out := env.post(t, "/api/v2/mikrotik/ping", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, float64(2), out["targets_total"])
	assert.Equal(t, float64(2), out["targets_ok"])
	assert.NotEmpty(t, out["request_id"])

	results := out["results"].(map[string]interface{})
	require.Contains(t, results, "8.8.8.8")
	first := results["8.8.8.8"].(map[string]interface{})
	assert.Equal(t, "success", first["status"])
	data := first["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["packets_sent"])
	assert.Equal(t, float64(0), data["packet_loss_percent"])
	assert.Equal(t, float64(100), data["availability_percent"])
	assert.Equal(t, float64(11), data["avg_time_ms"])
	assert.Equal(t, float64(2), data["jitter_ms"])
	assert.Equal(t, "reachable", data["status"])

	// Identical request inside the TTL is answered from the cache.
	resp, out = env.post(t, "/api/v2/mikrotik/ping", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results = out["results"].(map[string]interface{})
	cachedResult := results["8.8.8.8"].(map[string]interface{})
	assert.Equal(t, true, cachedResult["cached"])
}

func TestBatchPingRunsInParallel(t *testing.T) {
	d := newFakeDevice(t)
	d.pingDelay = 500 * time.Millisecond
	env := newTestEnv(t, nil)

	body := deviceRequest(d, map[string]interface{}{
		"targets":   []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"},
		"use_cache": false,
	})
	start := time.Now()
	resp, out := env.post(t, "/api/v2/mikrotik/ping", body)
	elapsed := time.Since(start)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, float64(4), out["targets_ok"])
	// Four 500ms targets multiplexed on one session finish in roughly one
	// target's time, well under the 2s a serial run would take.
	assert.Less(t, elapsed, time.Second,
		"batched targets must overlap on the session, elapsed %s", elapsed)
	assert.GreaterOrEqual(t, elapsed, d.pingDelay)
}

func TestPingLargeCountBypassesCache(t *testing.T) {
	d := newFakeDevice(t)
	env := newTestEnv(t, nil)

	body := deviceRequest(d, map[string]interface{}{
		"targets": []string{"8.8.8.8"},
		"count":   10,
	})
	resp, _ := env.post(t, "/api/v2/mikrotik/ping", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := env.post(t, "/api/v2/mikrotik/ping", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := out["results"].(map[string]interface{})["8.8.8.8"].(map[string]interface{})
	assert.Nil(t, result["cached"], "count=10 ping must not be served from cache")
}

func TestCommandEndToEnd(t *testing.T) {
	d := newFakeDevice(t)
	env := newTestEnv(t, nil)

	body := deviceRequest(d, map[string]interface{}{"command": "/interface/print"})
	resp, out := env.post(t, "/api/v2/mikrotik/command", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", out["status"])
	records := out["data"].([]interface{})
	require.Len(t, records, 2)
	assert.Equal(t, "ether1", records[0].(map[string]interface{})["name"])

	resp, out = env.post(t, "/api/v2/mikrotik/command", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["cached"])
}

func TestCommandDeviceTrap(t *testing.T) {
	d := newFakeDevice(t)
	env := newTestEnv(t, nil)

	body := deviceRequest(d, map[string]interface{}{
		"command":   "/bogus/print",
		"use_cache": false,
	})
	resp, out := env.post(t, "/api/v2/mikrotik/command", body)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "DeviceError", out["kind"])
	assert.Contains(t, out["error"], "no such command")
}

func TestBatchPartialFailure(t *testing.T) {
	d := newFakeDevice(t)
	env := newTestEnv(t, nil)

	body := deviceRequest(d, map[string]interface{}{
		"commands": []map[string]interface{}{
			{"command": "/system/identity/print"},
			{"command": "/bogus/print", "use_cache": false},
		},
	})
	resp, out := env.post(t, "/api/v2/mikrotik/batch", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "partial", out["status"])
	assert.Equal(t, float64(1), out["commands_ok"])
	assert.Equal(t, float64(1), out["commands_failed"])

	results := out["results"].([]interface{})
	require.Len(t, results, 2)
	// Request order is preserved.
	first := results[0].(map[string]interface{})
	assert.Equal(t, "/system/identity/print", first["command"])
	assert.Equal(t, "success", first["status"])
	second := results[1].(map[string]interface{})
	assert.Equal(t, "error", second["status"])
}

func TestMultiHost(t *testing.T) {
	d1 := newFakeDevice(t)
	d2 := newFakeDevice(t)
	env := newTestEnv(t, nil)

	resp, out := env.post(t, "/api/v2/mikrotik/multi-host", map[string]interface{}{
		"command": "/system/identity/print",
		"hosts": []map[string]interface{}{
			{"host": "127.0.0.1", "port": d1.port(), "username": "monitor", "password": devicePassword},
			{"host": "127.0.0.1", "port": d2.port(), "username": "monitor", "password": "wrong"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "partial", out["status"])
	assert.Equal(t, float64(2), out["hosts_total"])
	assert.Equal(t, float64(1), out["hosts_ok"])
	assert.Equal(t, float64(1), out["hosts_failed"])
}

func TestTestConnection(t *testing.T) {
	d := newFakeDevice(t)
	env := newTestEnv(t, nil)

	resp, out := env.post(t, "/api/v2/test-connection", deviceRequest(d, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", out["status"])
	device := out["device"].(map[string]interface{})
	assert.Equal(t, "lab-router", device["identity"])
	assert.Equal(t, "7.14.2", device["version"])
	assert.Equal(t, "RB4011", device["board_name"])
}

func TestTestConnectionAuthFailure(t *testing.T) {
	d := newFakeDevice(t)
	env := newTestEnv(t, nil)

	body := deviceRequest(d, nil)
	body["password"] = "wrong"
	resp, out := env.post(t, "/api/v2/test-connection", body)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "AuthError", out["kind"])
}

func TestStatsAndCacheClear(t *testing.T) {
	d := newFakeDevice(t)
	env := newTestEnv(t, nil)

	_, _ = env.post(t, "/api/v2/mikrotik/command", deviceRequest(d, map[string]interface{}{
		"command": "/system/identity/print",
	}))

	resp, out := env.get(t, "/api/v2/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	collector := out["collector"].(map[string]interface{})
	assert.GreaterOrEqual(t, collector["total_requests"].(float64), float64(1))
	assert.Contains(t, out, "cache")
	assert.Contains(t, out, "pools")

	resp, out = env.post(t, "/api/v2/cache/clear", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out["cleared_entries"])
}

func TestMetricsExposition(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
}
