// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

package config

import (
	"fmt"
	"strings"

	"github.com/cihub/seelog"

	"github.com/tripleplay-networks/sentinel-collector/pkg/util/log"
)

const (
	logDateFormat  = "2006-01-02 15:04:05 MST"
	logFileMaxSize = 10 * 1024 * 1024
)

// SetupLogger configures the process-wide seelog logger: console always, a
// size-rolled file when logFile is set.
func SetupLogger(logLevel, logFile string) error {
	configTemplate := `<seelog minlevel="%s">
    <outputs formatid="common">
        <console />`
	if logFile != "" {
		configTemplate += fmt.Sprintf(`<rollingfile type="size" filename="%s" maxsize="%d" maxrolls="1" />`, logFile, logFileMaxSize)
	}
	configTemplate += `</outputs>
    <formats>
        <format id="common" format="%%Date(%s) | %%LEVEL | (%%RelFile:%%Line) | %%Msg%%n"/>
    </formats>
</seelog>`
	cfg := fmt.Sprintf(configTemplate, seelogLevel(logLevel), logDateFormat)

	logger, err := seelog.LoggerFromConfigAsString(cfg)
	if err != nil {
		return err
	}
	logger.SetAdditionalStackDepth(1) //nolint:errcheck
	log.ReplaceLogger(logger)
	return nil
}

func seelogLevel(level string) string {
	switch strings.ToLower(level) {
	case "trace", "debug", "info", "warn", "error", "critical":
		return strings.ToLower(level)
	case "warning":
		return "warn"
	}
	return "info"
}
