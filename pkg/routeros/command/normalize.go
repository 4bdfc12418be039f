// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package command

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Reachability status of a ping summary.
const (
	StatusReachable   = "reachable"
	StatusUnreachable = "unreachable"
)

// PingSummary is the canonical ping result. Timing fields are absent when no
// probe produced a usable time. All values are rounded to 2 decimals.
type PingSummary struct {
	Sent            int      `json:"packets_sent"`
	Received        int      `json:"packets_received"`
	LossPct         float64  `json:"packet_loss_percent"`
	AvailabilityPct float64  `json:"availability_percent"`
	MinMs           *float64 `json:"min_time_ms,omitempty"`
	AvgMs           *float64 `json:"avg_time_ms,omitempty"`
	MaxMs           *float64 `json:"max_time_ms,omitempty"`
	JitterMs        *float64 `json:"jitter_ms,omitempty"`
	Status          string   `json:"status"`
}

// Hop is one traceroute hop, deduplicated to the latest record per hop
// number.
type Hop struct {
	Hop     int      `json:"hop"`
	Address string   `json:"address,omitempty"`
	LossPct float64  `json:"loss_pct"`
	Sent    int      `json:"sent"`
	LastMs  *float64 `json:"last_ms,omitempty"`
	AvgMs   *float64 `json:"avg_ms,omitempty"`
	BestMs  *float64 `json:"best_ms,omitempty"`
	WorstMs *float64 `json:"worst_ms,omitempty"`
}

// TracerouteSummary is the canonical traceroute result.
type TracerouteSummary struct {
	Target        string `json:"target"`
	HopCount      int    `json:"hop_count"`
	Hops          []Hop  `json:"hops"`
	ReachedTarget bool   `json:"reached_target"`
}

// ParseTimeMs converts a device time field to milliseconds: "12ms" -> 12,
// "850us" -> 0.85, "2s" -> 2000. A bare number is taken as milliseconds.
// "*" and anything unparseable report !ok.
func ParseTimeMs(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" || v == "*" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return float64(d) / float64(time.Millisecond), true
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f, true
	}
	return 0, false
}

// NormalizePing folds raw /ping records into a PingSummary. A record counts
// as received when it carries a time and no timeout marker.
func NormalizePing(records []map[string]string) PingSummary {
	sent := len(records)
	if sent == 0 {
		return PingSummary{
			LossPct:         100,
			AvailabilityPct: 0,
			Status:          StatusUnreachable,
		}
	}

	received := 0
	var times []float64
	for _, rec := range records {
		if isTimeout(rec) {
			continue
		}
		t, ok := rec["time"]
		if !ok {
			continue
		}
		received++
		if ms, ok := ParseTimeMs(t); ok {
			times = append(times, ms)
		}
	}

	loss := round2(float64(sent-received) / float64(sent) * 100)
	out := PingSummary{
		Sent:            sent,
		Received:        received,
		LossPct:         loss,
		AvailabilityPct: round2(100 - loss),
		Status:          StatusUnreachable,
	}
	if received > 0 {
		out.Status = StatusReachable
	}
	if len(times) > 0 {
		min, max, sum := times[0], times[0], 0.0
		for _, t := range times {
			if t < min {
				min = t
			}
			if t > max {
				max = t
			}
			sum += t
		}
		jitter := 0.0
		if len(times) > 1 {
			jitter = max - min
		}
		out.MinMs = ptr(round2(min))
		out.AvgMs = ptr(round2(sum / float64(len(times))))
		out.MaxMs = ptr(round2(max))
		out.JitterMs = ptr(round2(jitter))
	}
	return out
}

func isTimeout(rec map[string]string) bool {
	if _, ok := rec["timeout"]; ok {
		return true
	}
	return rec["status"] == "timeout"
}

// NormalizeTraceroute dedups rolling /tool/traceroute records by hop number
// (last record wins) and orders hops ascending. reached_target is true when
// the final hop answers from the target address or saw any reply at all.
func NormalizeTraceroute(target string, records []map[string]string) TracerouteSummary {
	latest := make(map[int]Hop)
	order := 0
	for _, rec := range records {
		hopNum, ok := parseInt(rec["hop"])
		if !ok {
			// Devices that omit the hop field emit records in hop order.
			order++
			hopNum = order
		}
		h := Hop{Hop: hopNum, Address: rec["address"]}
		if loss, ok := parsePercent(rec["loss"]); ok {
			h.LossPct = loss
		}
		if sent, ok := parseInt(rec["sent"]); ok {
			h.Sent = sent
		}
		if ms, ok := ParseTimeMs(rec["last"]); ok {
			h.LastMs = ptr(round2(ms))
		}
		if ms, ok := ParseTimeMs(rec["avg"]); ok {
			h.AvgMs = ptr(round2(ms))
		}
		if ms, ok := ParseTimeMs(rec["best"]); ok {
			h.BestMs = ptr(round2(ms))
		}
		if ms, ok := ParseTimeMs(rec["worst"]); ok {
			h.WorstMs = ptr(round2(ms))
		}
		latest[hopNum] = h
	}

	hops := make([]Hop, 0, len(latest))
	for _, h := range latest {
		hops = append(hops, h)
	}
	sort.Slice(hops, func(i, j int) bool { return hops[i].Hop < hops[j].Hop })

	out := TracerouteSummary{Target: target, HopCount: len(hops), Hops: hops}
	if n := len(hops); n > 0 {
		final := hops[n-1]
		out.ReachedTarget = final.Address == target || final.LossPct < 100
	}
	return out
}

func parseInt(v string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func parsePercent(v string) (float64, bool) {
	v = strings.TrimSuffix(strings.TrimSpace(v), "%")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func ptr(f float64) *float64 { return &f }
