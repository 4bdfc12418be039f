// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

// Package info keeps the collector's request counters for /health and
// /api/v2/stats. Counters are atomic; the rolling response-time mean is the
// only mutex-guarded value.
package info

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats accumulates monotonic totals plus a running mean response time.
type Stats struct {
	start time.Time

	requests   atomic.Uint64
	successes  atomic.Uint64
	failures   atomic.Uint64
	batchCalls atomic.Uint64
	active     atomic.Int64

	mu        sync.Mutex
	meanSecs  float64
	meanCount uint64
}

// NewStats returns a zeroed registry stamped with the process start time.
func NewStats() *Stats {
	return &Stats{start: time.Now()}
}

// RequestStarted marks a request in flight.
func (s *Stats) RequestStarted() {
	s.requests.Add(1)
	s.active.Add(1)
}

// RequestFinished records the outcome and folds the duration into the
// running mean.
func (s *Stats) RequestFinished(d time.Duration, success bool) {
	s.active.Add(-1)
	if success {
		s.successes.Add(1)
	} else {
		s.failures.Add(1)
	}

	s.mu.Lock()
	s.meanCount++
	s.meanSecs += (d.Seconds() - s.meanSecs) / float64(s.meanCount)
	s.mu.Unlock()
}

// BatchCall counts one batch-style invocation (batch, multi-host, batch
// ping).
func (s *Stats) BatchCall() {
	s.batchCalls.Add(1)
}

// Snapshot is a copied view of the registry with derived rates computed
// outside the lock.
type Snapshot struct {
	TotalRequests      uint64  `json:"total_requests"`
	ActiveRequests     int64   `json:"active_requests"`
	Successes          uint64  `json:"successful_requests"`
	Failures           uint64  `json:"failed_requests"`
	BatchCalls         uint64  `json:"batch_calls"`
	SuccessRatePct     float64 `json:"success_rate_percent"`
	AvgResponseSeconds float64 `json:"avg_response_time_seconds"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
}

// Snapshot copies the counters and computes rates.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	mean := s.meanSecs
	s.mu.Unlock()

	snap := Snapshot{
		TotalRequests:      s.requests.Load(),
		ActiveRequests:     s.active.Load(),
		Successes:          s.successes.Load(),
		Failures:           s.failures.Load(),
		BatchCalls:         s.batchCalls.Load(),
		AvgResponseSeconds: mean,
		UptimeSeconds:      time.Since(s.start).Seconds(),
	}
	if done := snap.Successes + snap.Failures; done > 0 {
		snap.SuccessRatePct = float64(snap.Successes) / float64(done) * 100
	}
	return snap
}
