// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package log

import (
	"sync"

	"github.com/cihub/seelog"
)

// The collector logs through a process-wide seelog logger. Until SetupLogger
// ran we fall back to seelog's default (console) logger so that early errors
// are not lost.
var (
	mu     sync.RWMutex
	logger seelog.LoggerInterface = seelog.Default
)

// ReplaceLogger swaps the active logger and returns the previous one.
func ReplaceLogger(l seelog.LoggerInterface) seelog.LoggerInterface {
	mu.Lock()
	defer mu.Unlock()

	old := logger
	logger = l
	return old
}

// Tracef logs at the trace level.
func Tracef(format string, params ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	logger.Tracef(format, params...)
}

// Debugf logs at the debug level.
func Debugf(format string, params ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	logger.Debugf(format, params...)
}

// Infof logs at the info level.
func Infof(format string, params ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	logger.Infof(format, params...)
}

// Warnf logs at the warn level and returns the message as an error.
func Warnf(format string, params ...interface{}) error {
	mu.RLock()
	defer mu.RUnlock()
	return logger.Warnf(format, params...)
}

// Errorf logs at the error level and returns the message as an error, so
// callers can `return log.Errorf(...)`.
func Errorf(format string, params ...interface{}) error {
	mu.RLock()
	defer mu.RUnlock()
	return logger.Errorf(format, params...)
}

// Criticalf logs at the critical level and returns the message as an error.
func Criticalf(format string, params ...interface{}) error {
	mu.RLock()
	defer mu.RUnlock()
	return logger.Criticalf(format, params...)
}

// Flush flushes any buffered log output.
func Flush() {
	mu.RLock()
	defer mu.RUnlock()
	logger.Flush()
}
