// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

// Package api is the collector's HTTP surface. Handlers parse and validate,
// hand the work to the governor/pool/adapter stack, and shape the response
// envelope; only this layer maps errors to status codes.
package api

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"github.com/tripleplay-networks/sentinel-collector/pkg/cache"
	"github.com/tripleplay-networks/sentinel-collector/pkg/config"
	"github.com/tripleplay-networks/sentinel-collector/pkg/governor"
	"github.com/tripleplay-networks/sentinel-collector/pkg/info"
	"github.com/tripleplay-networks/sentinel-collector/pkg/routeros/client"
	"github.com/tripleplay-networks/sentinel-collector/pkg/routeros/wire"
	"github.com/tripleplay-networks/sentinel-collector/pkg/telemetry"
	"github.com/tripleplay-networks/sentinel-collector/pkg/util/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxRequestBodyLength = 1 * 1024 * 1024

// Server wires the HTTP surface to the collector's substrate. All fields
// are required; use NewServer.
type Server struct {
	cfg   *config.Config
	pools *client.Registry
	cache *cache.Cache
	gov   *governor.Governor
	stats *info.Stats
	telem *telemetry.Telemetry

	server   *http.Server
	listener net.Listener
}

// NewServer builds the HTTP server around the given substrate.
func NewServer(cfg *config.Config, pools *client.Registry, c *cache.Cache, gov *governor.Governor, stats *info.Stats, telem *telemetry.Telemetry) *Server {
	s := &Server{
		cfg:   cfg,
		pools: pools,
		cache: c,
		gov:   gov,
		stats: stats,
		telem: telem,
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  cfg.RequestTimeout + 5*time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		ErrorLog:     stdlog.New(errorLogWriter{}, "http.Server: ", 0),
	}
	return s
}

// Handler returns the full route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.track("index", s.handleIndex)).Methods(http.MethodGet)
	r.HandleFunc("/health", s.track("health", s.handleHealth)).Methods(http.MethodGet)
	r.Handle("/metrics", s.telem.Handler()).Methods(http.MethodGet)

	v2 := r.PathPrefix("/api/v2").Subrouter()
	v2.Use(s.authMiddleware)
	v2.HandleFunc("/mikrotik/ping", s.track("ping", s.handlePing)).Methods(http.MethodPost)
	v2.HandleFunc("/mikrotik/command", s.track("command", s.handleCommand)).Methods(http.MethodPost)
	v2.HandleFunc("/mikrotik/batch", s.track("batch", s.handleBatch)).Methods(http.MethodPost)
	v2.HandleFunc("/mikrotik/multi-host", s.track("multi-host", s.handleMultiHost)).Methods(http.MethodPost)
	v2.HandleFunc("/test-connection", s.track("test-connection", s.handleTestConnection)).Methods(http.MethodPost)
	v2.HandleFunc("/stats", s.track("stats", s.handleStats)).Methods(http.MethodGet)
	v2.HandleFunc("/cache/clear", s.track("cache-clear", s.handleCacheClear)).Methods(http.MethodPost)
	return r
}

// Start begins listening. It returns once the listener is bound; serving
// happens in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.BindAddr())
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", s.cfg.BindAddr(), err)
	}
	s.listener = ln
	log.Infof("api: listening on http://%s", s.cfg.BindAddr())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("api: server stopped: %v", err) //nolint:errcheck
		}
	}()
	return nil
}

// Stop shuts the server down, letting in-flight requests finish within ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// track wraps a handler with stats accounting, telemetry and the body cap.
func (s *Server) track(endpoint string, fn func(http.ResponseWriter, *http.Request) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		req.Body = http.MaxBytesReader(w, req.Body, maxRequestBodyLength)
		s.stats.RequestStarted()
		start := time.Now()
		ok := fn(w, req)
		elapsed := time.Since(start)
		s.stats.RequestFinished(elapsed, ok)
		outcome := "success"
		if !ok {
			outcome = "error"
		}
		s.telem.Requests.WithLabelValues(endpoint, outcome).Inc()
		s.telem.RequestSeconds.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.cfg.EnableAuth && !s.authorized(req) {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key", "AuthRequired", 0)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (s *Server) authorized(req *http.Request) bool {
	if key := req.Header.Get("X-API-Key"); key != "" {
		return key == s.cfg.APIKey
	}
	if auth := req.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ") == s.cfg.APIKey
	}
	return false
}

// decode parses the JSON body into dst, replying 400 on failure.
func decode(w http.ResponseWriter, req *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err), "BadRequest", 0)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debugf("api: writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg, kind string, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	}
	writeJSON(w, status, ErrorBody{
		Status:     "error",
		Error:      msg,
		Kind:       kind,
		RetryAfter: retryAfter,
		Timestamp:  time.Now().Format(time.RFC3339),
	})
}

// replyMappedError translates a substrate error into the taxonomy's status
// code. Batch envelopes never reach this path for per-target failures.
func replyMappedError(w http.ResponseWriter, err error) {
	var devErr *client.DeviceError
	var wireErr *wire.Error
	switch {
	case errors.Is(err, governor.ErrBusy):
		writeError(w, http.StatusTooManyRequests, err.Error(), "Busy", 1)
	case errors.Is(err, client.ErrPoolExhausted):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "PoolExhausted", 2)
	case errors.Is(err, client.ErrAuth):
		writeError(w, http.StatusBadGateway, err.Error(), "AuthError", 0)
	case errors.As(err, &devErr):
		writeError(w, http.StatusBadGateway, devErr.Message, "DeviceError", 0)
	case errors.As(err, &wireErr):
		writeError(w, http.StatusBadGateway, err.Error(), "WireError", 0)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, "operation deadline exceeded", "Timeout", 5)
	default:
		writeError(w, http.StatusInternalServerError, err.Error(), "Internal", 0)
	}
}

// errorLogWriter funnels net/http's own error lines into our logger.
type errorLogWriter struct{}

func (errorLogWriter) Write(p []byte) (int, error) {
	log.Errorf("%s", strings.TrimSpace(string(p))) //nolint:errcheck
	return len(p), nil
}
