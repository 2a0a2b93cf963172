// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/AleutianAI/FeatureScope/pkg/logging"
	"github.com/AleutianAI/FeatureScope/services/classifier"
	"github.com/AleutianAI/FeatureScope/services/classifier/engine"
	"github.com/AleutianAI/FeatureScope/services/classifier/store"
)

const shutdownTimeout = 10 * time.Second

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the FeatureScope classification API server",
		Long: `Starts the HTTP server exposing dataset ingestion, structure
validation, sankey classification, and node membership endpoints under
/v1/classifier, plus Prometheus metrics at /metrics.`,
		RunE: runServe,
	}

	servePort     int
	serveInMemory bool
	serveDebug    bool
)

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	serveCmd.Flags().BoolVar(&serveInMemory, "in-memory", false, "Keep rows in memory instead of Badger")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable Gin debug mode and request logging")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveInMemory {
		cfg.Store.InMemory = true
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logDir != "" {
		cfg.Logging.Dir = logDir
	}

	logger := logging.New(logging.Config{
		Level:     logging.ParseLevel(cfg.Logging.Level),
		Service:   "featurescope",
		LogDir:    cfg.Logging.Dir,
		ForceJSON: jsonLogs,
	})
	defer logger.Close()
	logger.Install()

	st, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics, err := setupMetrics()
	if err != nil {
		return err
	}

	eng := engine.New(engine.Config{
		Workers:       cfg.Engine.Workers,
		CacheCapacity: cfg.Engine.CacheCapacity,
		Metrics:       metrics,
	})
	svc := classifier.NewService(st, eng)
	handlers := classifier.NewHandlers(svc)

	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("featurescope"))
	if serveDebug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	classifier.RegisterRoutes(v1, handlers, cfg.Server.RateLimitRPS)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting FeatureScope server",
			"address", server.Addr,
			"version", classifier.ServiceVersion,
			"in_memory", cfg.Store.InMemory)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down FeatureScope server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStore builds the configured feature store. Badger receives the
// process logger so its internal lines land in the same destinations.
func openStore(cfg StoreConfig, logger *logging.Logger) (store.FeatureStore, error) {
	if cfg.InMemory {
		logger.Info("Using in-memory feature store")
		return store.NewMemoryStore(), nil
	}

	path := expandHome(cfg.Path)
	badgerCfg := store.DefaultBadgerConfig(path)
	badgerCfg.Logger = logger.Slog().With("component", "badger")
	st, err := store.OpenBadgerStore(badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("open feature store at %s: %w", path, err)
	}
	logger.Info("Opened feature store", "path", path)
	return st, nil
}

// setupMetrics installs a Prometheus-backed OpenTelemetry meter
// provider and registers the engine instruments on it.
func setupMetrics() (*engine.Metrics, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	metrics, err := engine.NewMetrics(provider.Meter("featurescope.classifier"))
	if err != nil {
		return nil, fmt.Errorf("register engine metrics: %w", err)
	}
	return metrics, nil
}

// expandHome expands a leading "~" to the user home directory.
func expandHome(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if path[1] == '/' || path[1] == filepath.Separator {
		return filepath.Join(home, path[2:])
	}
	return path
}
