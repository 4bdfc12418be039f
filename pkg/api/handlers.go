// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tripleplay-networks/sentinel-collector/pkg/cache"
	"github.com/tripleplay-networks/sentinel-collector/pkg/routeros/client"
	"github.com/tripleplay-networks/sentinel-collector/pkg/routeros/command"
	"github.com/tripleplay-networks/sentinel-collector/pkg/version"
)

// endpoint resolves a request's connection fields against the configured
// defaults.
func (s *Server) endpoint(host string, port int, username, password string, useSSL *bool) client.Endpoint {
	useTLS := s.cfg.DeviceUseTLS
	if useSSL != nil {
		useTLS = *useSSL
	}
	if port == 0 {
		if useTLS {
			port = client.DefaultAPITLSPort
		} else {
			port = s.cfg.DevicePort
		}
	}
	return client.Endpoint{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		UseTLS:   useTLS,
	}
}

// beginRequest claims a global worker slot and derives the request deadline.
// On rejection it has already written the 429 response.
func (s *Server) beginRequest(w http.ResponseWriter, req *http.Request) (context.Context, func(), bool) {
	if err := s.gov.AcquireWorker(); err != nil {
		replyMappedError(w, err)
		return nil, nil, false
	}
	ctx, cancel := context.WithTimeout(req.Context(), s.cfg.RequestTimeout)
	release := func() {
		cancel()
		s.gov.ReleaseWorker()
	}
	return ctx, release, true
}

// beginHost additionally claims the router's semaphore. Used by the
// single-router endpoints; multi-host claims per router itself.
func (s *Server) beginHost(w http.ResponseWriter, req *http.Request, ep client.Endpoint) (context.Context, func(), bool) {
	ctx, release, ok := s.beginRequest(w, req)
	if !ok {
		return nil, nil, false
	}
	key := ep.PoolKey()
	if err := s.gov.AcquireHost(ctx, key); err != nil {
		release()
		replyMappedError(w, err)
		return nil, nil, false
	}
	return ctx, func() {
		s.gov.ReleaseHost(key)
		release()
	}, true
}

func (s *Server) handleIndex(w http.ResponseWriter, req *http.Request) bool {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "sentinel-collector",
		"version": version.Version,
		"status":  "running",
		"endpoints": []string{
			"GET  /",
			"GET  /health",
			"GET  /metrics",
			"POST /api/v2/mikrotik/ping",
			"POST /api/v2/mikrotik/command",
			"POST /api/v2/mikrotik/batch",
			"POST /api/v2/mikrotik/multi-host",
			"POST /api/v2/test-connection",
			"GET  /api/v2/stats",
			"POST /api/v2/cache/clear",
		},
		"timestamp": time.Now().Format(time.RFC3339),
	})
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) bool {
	snap := s.stats.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"version":         version.Version,
		"uptime_seconds":  snap.UptimeSeconds,
		"active_requests": snap.ActiveRequests,
		"cache":           s.cache.Stats(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
	return true
}

// maxCacheablePingCount bounds which pings may hit the result cache.
const maxCacheablePingCount = 4

type pingResponse struct {
	Status                    string                  `json:"status"`
	Method                    string                  `json:"method"`
	Host                      string                  `json:"host"`
	TargetsTotal              int                     `json:"targets_total"`
	TargetsOK                 int                     `json:"targets_ok"`
	TargetsFailed             int                     `json:"targets_failed"`
	Results                   map[string]TargetResult `json:"results"`
	TotalExecutionTimeSeconds float64                 `json:"total_execution_time_seconds"`
	RequestID                 string                  `json:"request_id"`
	Timestamp                 string                  `json:"timestamp"`
}

func (s *Server) handlePing(w http.ResponseWriter, req *http.Request) bool {
	var body PingRequest
	if !decode(w, req, &body) {
		return false
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BadRequest", 0)
		return false
	}
	ep := s.endpoint(body.Host, body.Port, body.Username, body.Password, body.UseSSL)
	ctx, release, ok := s.beginHost(w, req, ep)
	if !ok {
		return false
	}
	defer release()

	template := command.Ping{Count: body.Count, Size: body.Size}
	// Long pings age past usefulness within the TTL; only short ones are
	// worth serving twice.
	useCache := (body.UseCache == nil || *body.UseCache) &&
		template.WithDefaults().Count <= maxCacheablePingCount
	start := time.Now()
	results := make(map[string]TargetResult, len(body.Targets))

	toRun := body.Targets
	if useCache {
		toRun = toRun[:0:0]
		for _, target := range body.Targets {
			if v, hit := s.cache.Get(s.pingFingerprint(ep, template, target).Key()); hit {
				s.telem.CacheOps.WithLabelValues("hit").Inc()
				results[target] = TargetResult{Status: "success", Data: v, Cached: true}
				continue
			}
			s.telem.CacheOps.WithLabelValues("miss").Inc()
			toRun = append(toRun, target)
		}
	}

	if len(toRun) > 0 {
		sess, pool, err := s.pools.Acquire(ctx, ep)
		if err != nil {
			replyMappedError(w, err)
			return false
		}
		outcomes := command.RunBatchPing(ctx, sess, toRun, template)
		pool.Release(sess)
		elapsed := round3(time.Since(start).Seconds())
		for target, res := range outcomes {
			if res.Err != nil {
				results[target] = TargetResult{
					Status:               "error",
					Error:                res.Err.Error(),
					ExecutionTimeSeconds: elapsed,
				}
				continue
			}
			results[target] = TargetResult{
				Status:               "success",
				Data:                 res.Summary,
				ExecutionTimeSeconds: elapsed,
			}
			if useCache {
				s.cache.Put(s.pingFingerprint(ep, template, target).Key(), res.Summary)
				s.telem.CacheOps.WithLabelValues("store").Inc()
			}
		}
	}
	if len(body.Targets) > 1 {
		s.stats.BatchCall()
	}

	okCount := 0
	for _, r := range results {
		if r.Status == "success" {
			okCount++
		}
	}
	writeJSON(w, http.StatusOK, pingResponse{
		Status:                    envelopeStatus(okCount, len(results)),
		Method:                    "ping",
		Host:                      body.Host,
		TargetsTotal:              len(body.Targets),
		TargetsOK:                 okCount,
		TargetsFailed:             len(results) - okCount,
		Results:                   results,
		TotalExecutionTimeSeconds: round3(time.Since(start).Seconds()),
		RequestID:                 uuid.New().String(),
		Timestamp:                 time.Now().Format(time.RFC3339),
	})
	return okCount == len(results)
}

// pingFingerprint keys one target's ping within a request. The session
// username rides in Extra so different accounts never share results.
func (s *Server) pingFingerprint(ep client.Endpoint, p command.Ping, target string) cache.Fingerprint {
	p = p.WithDefaults()
	return cache.Fingerprint{
		Host:     ep.Host,
		Port:     ep.Port,
		Op:       "ping",
		Target:   target,
		Count:    p.Count,
		Size:     p.Size,
		Interval: p.Interval.String(),
		Extra:    map[string]string{"username": ep.Username},
	}
}

func (s *Server) commandFingerprint(ep client.Endpoint, cmd string, params map[string]string) cache.Fingerprint {
	extra := make(map[string]string, len(params)+1)
	for k, v := range params {
		extra[k] = v
	}
	extra["username"] = ep.Username
	return cache.Fingerprint{
		Host:  ep.Host,
		Port:  ep.Port,
		Op:    cmd,
		Extra: extra,
	}
}

type commandResponse struct {
	Status               string      `json:"status"`
	Method               string      `json:"method"`
	Host                 string      `json:"host"`
	Command              string      `json:"command"`
	Data                 interface{} `json:"data"`
	Cached               bool        `json:"cached,omitempty"`
	ExecutionTimeSeconds float64     `json:"execution_time_seconds"`
	RequestID            string      `json:"request_id"`
	Timestamp            string      `json:"timestamp"`
}

func (s *Server) handleCommand(w http.ResponseWriter, req *http.Request) bool {
	var body CommandRequest
	if !decode(w, req, &body) {
		return false
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BadRequest", 0)
		return false
	}
	op, err := opFor(body.Command, body.Parameters)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BadRequest", 0)
		return false
	}
	ep := s.endpoint(body.Host, body.Port, body.Username, body.Password, body.UseSSL)
	ctx, release, ok := s.beginHost(w, req, ep)
	if !ok {
		return false
	}
	defer release()

	useCache := body.UseCache == nil || *body.UseCache
	fp := s.commandFingerprint(ep, body.Command, body.Parameters)
	start := time.Now()

	if useCache {
		if v, hit := s.cache.Get(fp.Key()); hit {
			s.telem.CacheOps.WithLabelValues("hit").Inc()
			writeJSON(w, http.StatusOK, commandResponse{
				Status:               "success",
				Method:               "command",
				Host:                 body.Host,
				Command:              body.Command,
				Data:                 v,
				Cached:               true,
				ExecutionTimeSeconds: round3(time.Since(start).Seconds()),
				RequestID:            uuid.New().String(),
				Timestamp:            time.Now().Format(time.RFC3339),
			})
			return true
		}
		s.telem.CacheOps.WithLabelValues("miss").Inc()
	}

	sess, pool, err := s.pools.Acquire(ctx, ep)
	if err != nil {
		replyMappedError(w, err)
		return false
	}
	data, err := runOp(ctx, sess, op)
	pool.Release(sess)
	if err != nil {
		replyMappedError(w, err)
		return false
	}
	if useCache {
		s.cache.Put(fp.Key(), data)
		s.telem.CacheOps.WithLabelValues("store").Inc()
	}
	writeJSON(w, http.StatusOK, commandResponse{
		Status:               "success",
		Method:               "command",
		Host:                 body.Host,
		Command:              body.Command,
		Data:                 data,
		ExecutionTimeSeconds: round3(time.Since(start).Seconds()),
		RequestID:            uuid.New().String(),
		Timestamp:            time.Now().Format(time.RFC3339),
	})
	return true
}

type batchResponse struct {
	Status                    string          `json:"status"`
	Method                    string          `json:"method"`
	Host                      string          `json:"host"`
	CommandsTotal             int             `json:"commands_total"`
	CommandsOK                int             `json:"commands_ok"`
	CommandsFailed            int             `json:"commands_failed"`
	Results                   []CommandResult `json:"results"`
	TotalExecutionTimeSeconds float64         `json:"total_execution_time_seconds"`
	RequestID                 string          `json:"request_id"`
	Timestamp                 string          `json:"timestamp"`
}

const defaultBatchConcurrency = 5

func (s *Server) handleBatch(w http.ResponseWriter, req *http.Request) bool {
	var body BatchRequest
	if !decode(w, req, &body) {
		return false
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BadRequest", 0)
		return false
	}
	ep := s.endpoint(body.Host, body.Port, body.Username, body.Password, body.UseSSL)
	ctx, release, ok := s.beginHost(w, req, ep)
	if !ok {
		return false
	}
	defer release()
	s.stats.BatchCall()

	start := time.Now()
	sess, pool, err := s.pools.Acquire(ctx, ep)
	if err != nil {
		replyMappedError(w, err)
		return false
	}
	defer pool.Release(sess)

	maxConc := body.MaxConcurrent
	if maxConc <= 0 {
		maxConc = defaultBatchConcurrency
	}

	// One multiplexed session carries all commands; the slots only bound
	// how many ride it at once.
	slots := make(chan struct{}, maxConc)
	results := make([]CommandResult, len(body.Commands))
	var wg sync.WaitGroup
	for i, bc := range body.Commands {
		wg.Add(1)
		go func(i int, bc BatchCommand) {
			defer wg.Done()
			slots <- struct{}{}
			defer func() { <-slots }()
			results[i] = s.runBatchCommand(ctx, sess, ep, bc)
		}(i, bc)
	}
	wg.Wait()

	okCount := 0
	for _, r := range results {
		if r.Status == "success" {
			okCount++
		}
	}
	writeJSON(w, http.StatusOK, batchResponse{
		Status:                    envelopeStatus(okCount, len(results)),
		Method:                    "batch",
		Host:                      body.Host,
		CommandsTotal:             len(body.Commands),
		CommandsOK:                okCount,
		CommandsFailed:            len(results) - okCount,
		Results:                   results,
		TotalExecutionTimeSeconds: round3(time.Since(start).Seconds()),
		RequestID:                 uuid.New().String(),
		Timestamp:                 time.Now().Format(time.RFC3339),
	})
	return okCount == len(results)
}

// runBatchCommand executes one batch element, consulting the cache around
// the device call. Failures ride inside the result.
func (s *Server) runBatchCommand(ctx context.Context, sess *client.Session, ep client.Endpoint, bc BatchCommand) CommandResult {
	res := CommandResult{Command: bc.Command}
	op, err := opFor(bc.Command, bc.Parameters)
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res
	}

	useCache := bc.UseCache == nil || *bc.UseCache
	fp := s.commandFingerprint(ep, bc.Command, bc.Parameters)
	start := time.Now()
	if useCache {
		if v, hit := s.cache.Get(fp.Key()); hit {
			s.telem.CacheOps.WithLabelValues("hit").Inc()
			res.Status = "success"
			res.Data = v
			res.Cached = true
			return res
		}
		s.telem.CacheOps.WithLabelValues("miss").Inc()
	}

	data, err := runOp(ctx, sess, op)
	res.ExecutionTimeSeconds = round3(time.Since(start).Seconds())
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res
	}
	res.Status = "success"
	res.Data = data
	if useCache {
		s.cache.Put(fp.Key(), data)
		s.telem.CacheOps.WithLabelValues("store").Inc()
	}
	return res
}

type multiHostResponse struct {
	Status                    string                  `json:"status"`
	Method                    string                  `json:"method"`
	Command                   string                  `json:"command"`
	HostsTotal                int                     `json:"hosts_total"`
	HostsOK                   int                     `json:"hosts_ok"`
	HostsFailed               int                     `json:"hosts_failed"`
	Results                   map[string]TargetResult `json:"results"`
	TotalExecutionTimeSeconds float64                 `json:"total_execution_time_seconds"`
	RequestID                 string                  `json:"request_id"`
	Timestamp                 string                  `json:"timestamp"`
}

func (s *Server) handleMultiHost(w http.ResponseWriter, req *http.Request) bool {
	var body MultiHostRequest
	if !decode(w, req, &body) {
		return false
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BadRequest", 0)
		return false
	}
	op, err := opFor(body.Command, body.Parameters)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BadRequest", 0)
		return false
	}
	ctx, release, ok := s.beginRequest(w, req)
	if !ok {
		return false
	}
	defer release()
	s.stats.BatchCall()

	maxHosts := body.MaxConcurrentHosts
	if maxHosts <= 0 || maxHosts > s.cfg.MaxConcurrentHosts {
		maxHosts = s.cfg.MaxConcurrentHosts
	}

	start := time.Now()
	results := make(map[string]TargetResult, len(body.Hosts))
	slots := make(chan struct{}, maxHosts)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, h := range body.Hosts {
		wg.Add(1)
		go func(h HostSpec) {
			defer wg.Done()
			slots <- struct{}{}
			defer func() { <-slots }()
			res := s.runHostCommand(ctx, h, op)
			mu.Lock()
			results[h.Host] = res
			mu.Unlock()
		}(h)
	}
	wg.Wait()

	okCount := 0
	for _, r := range results {
		if r.Status == "success" {
			okCount++
		}
	}
	writeJSON(w, http.StatusOK, multiHostResponse{
		Status:                    envelopeStatus(okCount, len(results)),
		Method:                    "multi-host",
		Command:                   body.Command,
		HostsTotal:                len(body.Hosts),
		HostsOK:                   okCount,
		HostsFailed:               len(results) - okCount,
		Results:                   results,
		TotalExecutionTimeSeconds: round3(time.Since(start).Seconds()),
		RequestID:                 uuid.New().String(),
		Timestamp:                 time.Now().Format(time.RFC3339),
	})
	return okCount == len(results)
}

// runHostCommand is one router's leg of a multi-host fan-out: claim the
// router's semaphore, borrow a session, run, release.
func (s *Server) runHostCommand(ctx context.Context, h HostSpec, op command.Op) TargetResult {
	start := time.Now()
	fail := func(err error) TargetResult {
		return TargetResult{
			Status:               "error",
			Error:                err.Error(),
			ExecutionTimeSeconds: round3(time.Since(start).Seconds()),
		}
	}

	ep := s.endpoint(h.Host, h.Port, h.Username, h.Password, h.UseSSL)
	key := ep.PoolKey()
	if err := s.gov.AcquireHost(ctx, key); err != nil {
		return fail(err)
	}
	defer s.gov.ReleaseHost(key)

	sess, pool, err := s.pools.Acquire(ctx, ep)
	if err != nil {
		return fail(err)
	}
	data, err := runOp(ctx, sess, op)
	pool.Release(sess)
	if err != nil {
		return fail(err)
	}
	return TargetResult{
		Status:               "success",
		Data:                 data,
		ExecutionTimeSeconds: round3(time.Since(start).Seconds()),
	}
}

func (s *Server) handleTestConnection(w http.ResponseWriter, req *http.Request) bool {
	var body TestConnectionRequest
	if !decode(w, req, &body) {
		return false
	}
	if err := body.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BadRequest", 0)
		return false
	}
	ep := s.endpoint(body.Host, body.Port, body.Username, body.Password, body.UseSSL)
	ctx, release, ok := s.beginHost(w, req, ep)
	if !ok {
		return false
	}
	defer release()

	start := time.Now()
	sess, pool, err := s.pools.Acquire(ctx, ep)
	if err != nil {
		replyMappedError(w, err)
		return false
	}
	defer pool.Release(sess)

	identity, err := runFirst(ctx, sess, "/system/identity/print")
	if err != nil {
		replyMappedError(w, err)
		return false
	}
	resource, err := runFirst(ctx, sess, "/system/resource/print")
	if err != nil {
		replyMappedError(w, err)
		return false
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": "connection established",
		"host":    body.Host,
		"device": map[string]string{
			"identity":     identity["name"],
			"version":      resource["version"],
			"board_name":   resource["board-name"],
			"architecture": resource["architecture-name"],
			"uptime":       resource["uptime"],
		},
		"execution_time_seconds": round3(time.Since(start).Seconds()),
		"timestamp":              time.Now().Format(time.RFC3339),
	})
	return true
}

func (s *Server) handleStats(w http.ResponseWriter, req *http.Request) bool {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"collector": s.stats.Snapshot(),
		"cache":     s.cache.Stats(),
		"pools":     s.pools.Stats(),
		"version":   version.Version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	return true
}

func (s *Server) handleCacheClear(w http.ResponseWriter, req *http.Request) bool {
	n := s.cache.Flush()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "success",
		"cleared_entries": n,
		"timestamp":       time.Now().Format(time.RFC3339),
	})
	return true
}

// opFor maps the wire command path to a typed operation. Ping and traceroute
// get their dedicated adapters so callers receive normalized summaries; any
// other path passes through verbatim.
func opFor(cmd string, params map[string]string) (command.Op, error) {
	if !strings.HasPrefix(cmd, "/") {
		return nil, fmt.Errorf("command must be an absolute API path, got %q", cmd)
	}
	switch cmd {
	case "/ping":
		target := params["address"]
		if target == "" {
			return nil, fmt.Errorf("/ping requires an address parameter")
		}
		p := command.Ping{Target: target}
		if v, ok := params["count"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid count %q", v)
			}
			p.Count = n
		}
		if v, ok := params["size"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid size %q", v)
			}
			p.Size = n
		}
		return p, nil
	case "/tool/traceroute":
		target := params["address"]
		if target == "" {
			return nil, fmt.Errorf("/tool/traceroute requires an address parameter")
		}
		t := command.Traceroute{Target: target}
		if v, ok := params["count"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid count %q", v)
			}
			t.Count = n
		}
		return t, nil
	default:
		return command.Generic{Path: cmd, Attrs: params}, nil
	}
}

// runOp dispatches a typed operation on the session and returns its
// JSON-shaped result.
func runOp(ctx context.Context, sess *client.Session, op command.Op) (interface{}, error) {
	switch o := op.(type) {
	case command.Ping:
		sum, err := command.RunPing(ctx, sess, o)
		if err != nil {
			return nil, err
		}
		return sum, nil
	case command.Traceroute:
		sum, err := command.RunTraceroute(ctx, sess, o)
		if err != nil {
			return nil, err
		}
		return sum, nil
	case command.Generic:
		records, err := command.RunGeneric(ctx, sess, o)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []map[string]string{}
		}
		return records, nil
	default:
		return nil, fmt.Errorf("unsupported operation %T", op)
	}
}

// runFirst runs a bare print command and returns its first record.
func runFirst(ctx context.Context, sess *client.Session, path string) (map[string]string, error) {
	records, err := command.RunGeneric(ctx, sess, command.Generic{Path: path})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return map[string]string{}, nil
	}
	return records[0], nil
}

func envelopeStatus(ok, total int) string {
	switch {
	case total == 0 || ok == total:
		return "success"
	case ok == 0:
		return "error"
	default:
		return "partial"
	}
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}
