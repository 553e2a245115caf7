// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command rfdb-server serves an RFDB database over a Unix domain socket.
//
// Usage:
//
//	rfdb-server <db-path> [--socket /tmp/rfdb.sock] [--metrics :9090]
//
// The server exits 0 on graceful shutdown (SIGINT, SIGTERM, or a shutdown
// request) and non-zero on bind or open failure.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/kraklabs/rfdb/pkg/graph"
	"github.com/kraklabs/rfdb/pkg/server"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
)

// Config is the optional YAML server configuration. Flags override file
// values.
type Config struct {
	Socket      string `yaml:"socket"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		socketPath  = flag.String("socket", "", "Unix socket path (default /tmp/rfdb.sock)")
		metricsAddr = flag.String("metrics", "", "Prometheus metrics listen address (disabled when empty)")
		configPath  = flag.StringP("config", "c", "", "Path to YAML config file")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for debug)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `RFDB server - graph database over a Unix socket

Usage:
  rfdb-server <db-path> [flags]

Flags:
%s`, flag.CommandLine.FlagUsages())
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("rfdb-server %s (%s)\n", version, commit)
		return 0
	}

	args := flag.Args()
	if len(args) != 1 {
		flag.Usage()
		return 2
	}
	dbPath := args[0]

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logLevel := slog.LevelInfo
	if *verbose >= 1 || cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	socket := *socketPath
	if socket == "" {
		socket = cfg.Socket
	}
	if socket == "" {
		socket = getEnv("RFDB_SOCKET", "/tmp/rfdb.sock")
	}

	metrics := *metricsAddr
	if metrics == "" {
		metrics = cfg.MetricsAddr
	}

	engine, err := openOrCreate(dbPath)
	if err != nil {
		logger.Error("db.open", "path", dbPath, "err", err)
		return 1
	}
	logger.Info("db.open", "path", engine.Path(),
		"nodes", engine.NodeCount(), "edges", engine.EdgeCount())

	srv := server.New(engine, logger)

	// Optional Prometheus endpoint, served over HTTP on the side.
	if metrics != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			hs := &http.Server{Addr: metrics, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			logger.Info("metrics.http.start", "addr", metrics, "path", "/metrics")
			if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		srv.Shutdown()
	}()

	if err := srv.ListenAndServe(socket); err != nil {
		logger.Error("server.listen", "socket", socket, "err", err)
		return 1
	}
	<-srv.Done()
	return 0
}

// openOrCreate opens an existing database or creates a fresh one when the
// directory does not exist yet.
func openOrCreate(path string) (*graph.Engine, error) {
	normalized := graph.NormalizeDBPath(path)
	if _, err := os.Stat(normalized); os.IsNotExist(err) {
		return graph.Create(path)
	}
	return graph.Open(path)
}
