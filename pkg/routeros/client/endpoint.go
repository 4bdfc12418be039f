// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package client

import "fmt"

// Default RouterOS API ports.
const (
	DefaultAPIPort    = 8728
	DefaultAPITLSPort = 8729
)

// Endpoint identifies a router and the credentials used to reach it. The
// password is an acquisition credential only: it takes no part in pool
// identity, so rotating a password reuses the same pool.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
}

// PoolKey returns the (host, port, username) identity of the endpoint.
func (e Endpoint) PoolKey() string {
	return fmt.Sprintf("%s:%d:%s", e.Host, e.Port, e.Username)
}

// Addr returns the dial address.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

func (e Endpoint) withDefaults() Endpoint {
	if e.Port == 0 {
		if e.UseTLS {
			e.Port = DefaultAPITLSPort
		} else {
			e.Port = DefaultAPIPort
		}
	}
	return e
}
