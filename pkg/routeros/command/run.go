// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package command

import (
	"context"
	"sync"
	"time"

	"github.com/tripleplay-networks/sentinel-collector/pkg/routeros/client"
	"github.com/tripleplay-networks/sentinel-collector/pkg/routeros/wire"
)

// RunGeneric issues the operation and collects every !re record until the
// terminal reply. Device traps surface as *client.DeviceError.
func RunGeneric(ctx context.Context, s *client.Session, op Generic) ([]map[string]string, error) {
	return runCollect(ctx, s, op.Sentence(), nil)
}

// RunPing executes a ping and returns its normalized summary. The call gets
// its own deadline derived from count and interval, tightened by ctx.
func RunPing(ctx context.Context, s *client.Session, p Ping) (PingSummary, error) {
	p = p.WithDefaults()
	ctx, cancel := context.WithTimeout(ctx, p.Deadline())
	defer cancel()

	records, err := runCollect(ctx, s, p.Sentence(), nil)
	if err != nil {
		return PingSummary{}, err
	}
	return NormalizePing(records), nil
}

// PingResult is one target's outcome within a batch.
type PingResult struct {
	Summary PingSummary
	Err     error
}

// RunBatchPing launches one tagged /ping call per target on a single session
// and waits for all of them. The streams interleave on the wire and are
// demultiplexed by tag, so wall time approaches the slowest single target
// rather than the sum.
func RunBatchPing(ctx context.Context, s *client.Session, targets []string, template Ping) map[string]PingResult {
	template = template.WithDefaults()
	ctx, cancel := context.WithTimeout(ctx, template.Deadline())
	defer cancel()

	calls := make(map[string]*client.Call, len(targets))
	results := make(map[string]PingResult, len(targets))
	for _, target := range targets {
		p := template
		p.Target = target
		call, err := s.Call(p.Sentence())
		if err != nil {
			results[target] = PingResult{Err: err}
			continue
		}
		calls[target] = call
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for target, call := range calls {
		wg.Add(1)
		go func(target string, call *client.Call) {
			defer wg.Done()
			records, err := collect(ctx, call, nil)
			res := PingResult{Err: err}
			if err == nil {
				res.Summary = NormalizePing(records)
			}
			mu.Lock()
			results[target] = res
			mu.Unlock()
		}(target, call)
	}
	wg.Wait()
	return results
}

// RunTraceroute executes a traceroute, deduplicating the rolling records per
// hop. The stream is cut short once a record answers from the target with no
// loss; RouterOS keeps refreshing statistics long after the path is known.
func RunTraceroute(ctx context.Context, s *client.Session, t Traceroute) (TracerouteSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, tracerouteDeadline)
	defer cancel()

	stop := func(rec map[string]string) bool {
		if rec["address"] != t.Target {
			return false
		}
		loss, ok := parsePercent(rec["loss"])
		return ok && loss == 0
	}
	records, err := runCollect(ctx, s, t.Sentence(), stop)
	if err != nil {
		return TracerouteSummary{}, err
	}
	return NormalizeTraceroute(t.Target, records), nil
}

const tracerouteDeadline = 60 * time.Second

func runCollect(ctx context.Context, s *client.Session, words []string, stop func(map[string]string) bool) ([]map[string]string, error) {
	call, err := s.Call(words)
	if err != nil {
		return nil, err
	}
	return collect(ctx, call, stop)
}

// collect drains a call's record stream into attribute maps. A non-nil stop
// predicate ends collection early, abandoning the tag; records still in
// flight are discarded by the session reader.
func collect(ctx context.Context, call *client.Call, stop func(map[string]string) bool) ([]map[string]string, error) {
	var records []map[string]string
	for {
		select {
		case sentence, ok := <-call.Records():
			if !ok {
				return records, call.Err()
			}
			if sentence.Reply() != wire.ReplyRe {
				continue
			}
			rec := sentence.Attributes()
			records = append(records, rec)
			if stop != nil && stop(rec) {
				call.Abandon()
				return records, nil
			}
		case <-ctx.Done():
			call.Abandon()
			return nil, ctx.Err()
		}
	}
}
