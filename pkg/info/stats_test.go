// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package info

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsCountsOutcomes(t *testing.T) {
	s := NewStats()
	for i := 0; i < 3; i++ {
		s.RequestStarted()
		s.RequestFinished(100*time.Millisecond, true)
	}
	s.RequestStarted()
	s.RequestFinished(300*time.Millisecond, false)
	s.BatchCall()

	snap := s.Snapshot()
	assert.Equal(t, uint64(4), snap.TotalRequests)
	assert.Equal(t, int64(0), snap.ActiveRequests)
	assert.Equal(t, uint64(3), snap.Successes)
	assert.Equal(t, uint64(1), snap.Failures)
	assert.Equal(t, uint64(1), snap.BatchCalls)
	assert.Equal(t, 75.0, snap.SuccessRatePct)
	assert.InDelta(t, 0.15, snap.AvgResponseSeconds, 1e-9)
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)
}

func TestStatsActiveGauge(t *testing.T) {
	s := NewStats()
	s.RequestStarted()
	s.RequestStarted()
	assert.Equal(t, int64(2), s.Snapshot().ActiveRequests)
	s.RequestFinished(time.Millisecond, true)
	assert.Equal(t, int64(1), s.Snapshot().ActiveRequests)
}

func TestStatsConcurrentUpdates(t *testing.T) {
	s := NewStats()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RequestStarted()
			s.RequestFinished(10*time.Millisecond, true)
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, uint64(50), snap.TotalRequests)
	assert.Equal(t, uint64(50), snap.Successes)
	assert.InDelta(t, 0.01, snap.AvgResponseSeconds, 1e-9)
}
