// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

// Package telemetry exposes the collector's internal counters in Prometheus
// format on /metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry bundles the collector's Prometheus metrics behind one registry
// so tests can instantiate it without touching global state.
type Telemetry struct {
	registry *prometheus.Registry

	Requests       *prometheus.CounterVec
	RequestSeconds *prometheus.HistogramVec
	CacheOps       *prometheus.CounterVec
}

// New builds and registers the metric set.
func New() *Telemetry {
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "requests_total",
			Help:      "HTTP requests served, by endpoint and outcome.",
		}, []string{"endpoint", "status"}),
		RequestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration, by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		CacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "cache_ops_total",
			Help:      "Result cache operations, by op (hit/miss/store).",
		}, []string{"op"}),
	}
	t.registry.MustRegister(
		t.Requests,
		t.RequestSeconds,
		t.CacheOps,
	)
	return t
}

// WireSessionStats publishes the session pool counters. The pools already
// keep monotonic totals, so the metrics read them at scrape time instead of
// the pools knowing about this package. fn must be safe for concurrent use.
func (t *Telemetry) WireSessionStats(fn func() (created, reused, failed uint64)) {
	counter := func(name, help string, pick func(c, r, f uint64) uint64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(pick(fn()))
		})
	}
	t.registry.MustRegister(
		counter("sessions_created_total", "RouterOS API sessions dialed.",
			func(c, _, _ uint64) uint64 { return c }),
		counter("sessions_reused_total", "Pool acquisitions served by an existing session.",
			func(_, r, _ uint64) uint64 { return r }),
		counter("sessions_failed_total", "RouterOS API connect/login failures.",
			func(_, _, f uint64) uint64 { return f }),
	)
}

// Handler serves the registry in Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}
