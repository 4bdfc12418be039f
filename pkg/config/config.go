// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

// Package config interprets the collector's environment configuration in one
// place and hands the rest of the process safe, defaulted values.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable the collector recognizes. Use New to build
// one; zero values are never valid.
type Config struct {
	// HTTP bind.
	BindHost string
	BindPort int

	// Device API.
	DeviceTimeout time.Duration // per-call deadline on the RouterOS API
	DevicePort    int           // default API port when a request omits it
	DeviceUseTLS  bool

	// Concurrency.
	MaxConcurrentHosts    int // global fan-out cap across routers
	MaxConcurrentCommands int // per-router semaphore size
	MaxConnectionsPerHost int // pool size per pool key
	MaxWorkers            int // global worker cap, 429 beyond this
	RequestTimeout        time.Duration

	// Cache.
	CacheTTL     time.Duration
	MaxCacheSize int

	// HTTP auth.
	EnableAuth bool
	APIKey     string

	// Logging.
	LogLevel string
	LogFile  string
}

// New reads the environment and returns a fully defaulted Config.
func New() (*Config, error) {
	v := viper.New()
	bindEnv(v, "bind_host", "COLLECTOR_HOST", "0.0.0.0")
	bindEnv(v, "bind_port", "COLLECTOR_PORT", 5000)
	bindEnv(v, "device_timeout", "MIKROTIK_API_TIMEOUT", 30)
	bindEnv(v, "device_port", "MIKROTIK_API_PORT", 8728)
	bindEnv(v, "device_use_ssl", "MIKROTIK_USE_SSL", false)
	bindEnv(v, "max_concurrent_hosts", "MAX_CONCURRENT_HOSTS", 50)
	bindEnv(v, "max_concurrent_commands", "MAX_CONCURRENT_COMMANDS", 200)
	bindEnv(v, "max_connections_per_host", "MAX_CONNECTIONS_PER_HOST", 10)
	bindEnv(v, "max_workers", "MAX_WORKERS", 50)
	bindEnv(v, "request_timeout", "REQUEST_TIMEOUT", 60)
	bindEnv(v, "cache_ttl", "CACHE_TTL", 30)
	bindEnv(v, "max_cache_size", "MAX_CACHE_SIZE", 1000)
	bindEnv(v, "enable_auth", "ENABLE_AUTH", false)
	bindEnv(v, "api_key", "API_KEY", "")
	bindEnv(v, "log_level", "LOG_LEVEL", "info")
	bindEnv(v, "log_file", "LOG_FILE", "")

	c := &Config{
		BindHost:              v.GetString("bind_host"),
		BindPort:              v.GetInt("bind_port"),
		DeviceTimeout:         time.Duration(v.GetInt("device_timeout")) * time.Second,
		DevicePort:            v.GetInt("device_port"),
		DeviceUseTLS:          v.GetBool("device_use_ssl"),
		MaxConcurrentHosts:    v.GetInt("max_concurrent_hosts"),
		MaxConcurrentCommands: v.GetInt("max_concurrent_commands"),
		MaxConnectionsPerHost: v.GetInt("max_connections_per_host"),
		MaxWorkers:            v.GetInt("max_workers"),
		RequestTimeout:        time.Duration(v.GetInt("request_timeout")) * time.Second,
		CacheTTL:              time.Duration(v.GetInt("cache_ttl")) * time.Second,
		MaxCacheSize:          v.GetInt("max_cache_size"),
		EnableAuth:            v.GetBool("enable_auth"),
		APIKey:                v.GetString("api_key"),
		LogLevel:              v.GetString("log_level"),
		LogFile:               v.GetString("log_file"),
	}
	return c, c.validate()
}

func bindEnv(v *viper.Viper, key, env string, def interface{}) {
	v.SetDefault(key, def)
	v.BindEnv(key, env) //nolint:errcheck
}

func (c *Config) validate() error {
	if c.BindPort <= 0 || c.BindPort > 65535 {
		return fmt.Errorf("invalid COLLECTOR_PORT %d", c.BindPort)
	}
	if c.EnableAuth && c.APIKey == "" {
		return fmt.Errorf("ENABLE_AUTH is set but API_KEY is empty")
	}
	return nil
}

// BindAddr returns the host:port the HTTP server listens on.
func (c *Config) BindAddr() string {
	return fmt.Sprintf("%s:%d", c.BindHost, c.BindPort)
}
