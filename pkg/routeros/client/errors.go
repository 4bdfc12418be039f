// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package client

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the client layer. The HTTP layer maps these to
// status codes; nothing below it retries.
var (
	// ErrAuth is returned when the device refuses the supplied credentials.
	ErrAuth = errors.New("device refused credentials")

	// ErrPoolExhausted is returned when no session became available within
	// the caller's deadline.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrSessionClosed is returned by calls on a session that is Dead or
	// has been closed.
	ErrSessionClosed = errors.New("session closed")
)

// DeviceError carries the message of a !trap or !fatal reply verbatim.
type DeviceError struct {
	Message string
	Fatal   bool
}

func (e *DeviceError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("device fatal error: %s", e.Message)
	}
	return fmt.Sprintf("device error: %s", e.Message)
}
