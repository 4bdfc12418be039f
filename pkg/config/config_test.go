// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", c.BindHost)
	assert.Equal(t, 5000, c.BindPort)
	assert.Equal(t, "0.0.0.0:5000", c.BindAddr())
	assert.Equal(t, 30*time.Second, c.DeviceTimeout)
	assert.Equal(t, 8728, c.DevicePort)
	assert.False(t, c.DeviceUseTLS)
	assert.Equal(t, 50, c.MaxConcurrentHosts)
	assert.Equal(t, 200, c.MaxConcurrentCommands)
	assert.Equal(t, 10, c.MaxConnectionsPerHost)
	assert.Equal(t, 50, c.MaxWorkers)
	assert.Equal(t, 60*time.Second, c.RequestTimeout)
	assert.Equal(t, 30*time.Second, c.CacheTTL)
	assert.Equal(t, 1000, c.MaxCacheSize)
	assert.False(t, c.EnableAuth)
	assert.Equal(t, "info", c.LogLevel)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("COLLECTOR_HOST", "127.0.0.1")
	t.Setenv("COLLECTOR_PORT", "8080")
	t.Setenv("MIKROTIK_API_TIMEOUT", "5")
	t.Setenv("CACHE_TTL", "120")
	t.Setenv("MAX_WORKERS", "7")
	t.Setenv("LOG_LEVEL", "debug")

	c, err := New()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", c.BindAddr())
	assert.Equal(t, 5*time.Second, c.DeviceTimeout)
	assert.Equal(t, 120*time.Second, c.CacheTTL)
	assert.Equal(t, 7, c.MaxWorkers)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestAuthRequiresKey(t *testing.T) {
	t.Setenv("ENABLE_AUTH", "true")
	t.Setenv("API_KEY", "")
	_, err := New()
	require.Error(t, err)

	t.Setenv("API_KEY", "secret-key")
	c, err := New()
	require.NoError(t, err)
	assert.True(t, c.EnableAuth)
	assert.Equal(t, "secret-key", c.APIKey)
}

func TestInvalidPortRejected(t *testing.T) {
	t.Setenv("COLLECTOR_PORT", "70000")
	_, err := New()
	assert.Error(t, err)
}
