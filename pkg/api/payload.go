// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package api

import (
	"fmt"
	"strings"
)

// PingRequest is the body of /api/v2/mikrotik/ping.
type PingRequest struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	UseSSL   *bool    `json:"use_ssl"`
	Targets  []string `json:"targets"`
	Count    int      `json:"count"`
	Size     int      `json:"size"`
	UseCache *bool    `json:"use_cache"`
}

func (r *PingRequest) validate() error {
	if err := requireCredentials(r.Host, r.Username, r.Password); err != nil {
		return err
	}
	if len(r.Targets) == 0 {
		return fmt.Errorf("targets must be a non-empty list")
	}
	for _, t := range r.Targets {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("targets must not contain empty entries")
		}
	}
	return nil
}

// CommandRequest is the body of /api/v2/mikrotik/command.
type CommandRequest struct {
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	UseSSL     *bool             `json:"use_ssl"`
	Command    string            `json:"command"`
	Parameters map[string]string `json:"parameters"`
	UseCache   *bool             `json:"use_cache"`
}

func (r *CommandRequest) validate() error {
	if err := requireCredentials(r.Host, r.Username, r.Password); err != nil {
		return err
	}
	if strings.TrimSpace(r.Command) == "" {
		return fmt.Errorf("missing required field: command")
	}
	return nil
}

// BatchCommand is one element of a batch request.
type BatchCommand struct {
	Command    string            `json:"command"`
	Parameters map[string]string `json:"parameters"`
	UseCache   *bool             `json:"use_cache"`
}

// BatchRequest is the body of /api/v2/mikrotik/batch.
type BatchRequest struct {
	Host          string         `json:"host"`
	Port          int            `json:"port"`
	Username      string         `json:"username"`
	Password      string         `json:"password"`
	UseSSL        *bool          `json:"use_ssl"`
	Commands      []BatchCommand `json:"commands"`
	MaxConcurrent int            `json:"max_concurrent"`
}

func (r *BatchRequest) validate() error {
	if err := requireCredentials(r.Host, r.Username, r.Password); err != nil {
		return err
	}
	if len(r.Commands) == 0 {
		return fmt.Errorf("commands must be a non-empty list")
	}
	for i, c := range r.Commands {
		if strings.TrimSpace(c.Command) == "" {
			return fmt.Errorf("commands[%d]: missing command", i)
		}
	}
	return nil
}

// HostSpec identifies one router in a multi-host request.
type HostSpec struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseSSL   *bool  `json:"use_ssl"`
}

// MultiHostRequest is the body of /api/v2/mikrotik/multi-host.
type MultiHostRequest struct {
	Hosts              []HostSpec        `json:"hosts"`
	Command            string            `json:"command"`
	Parameters         map[string]string `json:"parameters"`
	MaxConcurrentHosts int               `json:"max_concurrent_hosts"`
}

func (r *MultiHostRequest) validate() error {
	if len(r.Hosts) == 0 {
		return fmt.Errorf("hosts must be a non-empty list")
	}
	if strings.TrimSpace(r.Command) == "" {
		return fmt.Errorf("missing required field: command")
	}
	for i, h := range r.Hosts {
		if err := requireCredentials(h.Host, h.Username, h.Password); err != nil {
			return fmt.Errorf("hosts[%d]: %w", i, err)
		}
	}
	return nil
}

// TestConnectionRequest is the body of /api/v2/test-connection.
type TestConnectionRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseSSL   *bool  `json:"use_ssl"`
}

func (r *TestConnectionRequest) validate() error {
	return requireCredentials(r.Host, r.Username, r.Password)
}

func requireCredentials(host, username, password string) error {
	switch {
	case strings.TrimSpace(host) == "":
		return fmt.Errorf("missing required field: host")
	case strings.TrimSpace(username) == "":
		return fmt.Errorf("missing required field: username")
	case password == "":
		return fmt.Errorf("missing required field: password")
	}
	return nil
}

// TargetResult is one target's (or command's) entry in a batch envelope.
// Batch endpoints never fail wholesale for one target: errors ride inside.
type TargetResult struct {
	Status               string      `json:"status"` // success | error
	Data                 interface{} `json:"data,omitempty"`
	Error                string      `json:"error,omitempty"`
	ExecutionTimeSeconds float64     `json:"execution_time_seconds"`
	Cached               bool        `json:"cached,omitempty"`
}

// CommandResult is one command's entry in a batch response, in request
// order.
type CommandResult struct {
	Command string `json:"command"`
	TargetResult
}

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	Status     string `json:"status"`
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
	Timestamp  string `json:"timestamp"`
}
