// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

// Package version defines the version of the collector.
package version

// Version contains the version of the collector. It is populated at build
// time using build flags.
var Version string

// Commit is populated with the short commit hash from which the collector
// was built.
var Commit string

var versionDefault = "2.0.0"

func init() {
	if Version == "" {
		Version = versionDefault
	}
}
