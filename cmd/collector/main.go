// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at TriplePlay Networks.
// Copyright 2024-present TriplePlay Networks, Inc.

// The collector daemon. It terminates HTTP monitoring requests from the
// sentinel backend and fans them out to MikroTik routers over the RouterOS
// binary API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tripleplay-networks/sentinel-collector/pkg/api"
	"github.com/tripleplay-networks/sentinel-collector/pkg/cache"
	"github.com/tripleplay-networks/sentinel-collector/pkg/config"
	"github.com/tripleplay-networks/sentinel-collector/pkg/governor"
	"github.com/tripleplay-networks/sentinel-collector/pkg/info"
	"github.com/tripleplay-networks/sentinel-collector/pkg/routeros/client"
	"github.com/tripleplay-networks/sentinel-collector/pkg/telemetry"
	"github.com/tripleplay-networks/sentinel-collector/pkg/util/log"
	"github.com/tripleplay-networks/sentinel-collector/pkg/version"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sentinel-collector",
		Short:        "HTTP collector for MikroTik RouterOS devices",
		SilenceUsage: true,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Start the collector",
			RunE:  start,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version and exit",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("sentinel-collector %s (commit %s)\n", version.Version, version.Commit)
			},
		},
	)
	return root
}

func start(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.SetupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("cannot set up logger: %w", err)
	}
	defer log.Flush()
	log.Infof("sentinel-collector %s starting", version.Version)

	registry := client.NewRegistry(client.PoolConfig{
		MaxSize: cfg.MaxConnectionsPerHost,
		Dial:    client.DialConfig{Timeout: cfg.DeviceTimeout},
	})
	resultCache := cache.New(cfg.CacheTTL, cfg.MaxCacheSize)
	gov := governor.New(cfg.MaxWorkers, cfg.MaxConcurrentCommands)
	stats := info.NewStats()
	telem := telemetry.New()
	telem.WireSessionStats(func() (created, reused, failed uint64) {
		for _, ps := range registry.Stats() {
			created += ps.Created
			reused += ps.Reused
			failed += ps.Failed
		}
		return
	})

	server := api.NewServer(cfg, registry, resultCache, gov, stats, telem)
	if err := server.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	got := <-sig
	log.Infof("received %s, shutting down", got)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Warnf("http shutdown: %v", err) //nolint:errcheck
	}
	if err := registry.Drain(); err != nil {
		log.Warnf("draining session pools: %v", err) //nolint:errcheck
	}
	log.Infof("shutdown complete")
	return nil
}
