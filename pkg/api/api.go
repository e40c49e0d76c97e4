// Package api exposes the HTTP surface of runtrackr: run management,
// worker progress reporting, derived progress reports, aggregated
// results, and on-demand output diffs.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/testplatform/runtrackr/pkg/artifacts"
	"github.com/testplatform/runtrackr/pkg/config"
	"github.com/testplatform/runtrackr/pkg/monitor"
	"github.com/testplatform/runtrackr/pkg/results"
	"github.com/testplatform/runtrackr/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log         logrus.FieldLogger
	cfg         *config.Config
	store       store.Store
	reader      artifacts.Reader
	aggregator  results.Aggregator
	monitor     monitor.Monitor
	httpServer  *http.Server
	limiterMaps []*rateLimiterMap
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return &server{
		log: log.WithField("component", "api"),
		cfg: cfg,
	}
}

// Start initializes the store, seeds config data, and starts the HTTP
// server and background services.
func (s *server) Start(ctx context.Context) error {
	// Create and start the database store.
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	// Seed users from config.
	if s.cfg.Auth.Enabled {
		if err := s.store.SeedUsers(ctx, s.cfg.Auth.Users); err != nil {
			return fmt.Errorf("seeding users: %w", err)
		}
	}

	// Initialize the artifacts backend if configured. Without one the
	// diff endpoints report artifacts as unavailable.
	switch {
	case s.cfg.Artifacts.Local != nil && s.cfg.Artifacts.Local.Enabled:
		s.reader = artifacts.NewLocalReader(s.cfg.Artifacts.Local)

		s.log.WithField("base_dir", s.cfg.Artifacts.Local.BaseDir).
			Info("Local artifacts backend enabled")
	case s.cfg.Artifacts.S3 != nil && s.cfg.Artifacts.S3.Enabled:
		s.reader = artifacts.NewS3Reader(s.cfg.Artifacts.S3)

		s.log.WithField("bucket", s.cfg.Artifacts.S3.Bucket).
			Info("S3 artifacts backend enabled")
	}

	if !s.cfg.ArtifactsEnabled() {
		s.log.Warn("No artifacts backend configured, diff endpoints unavailable")
	}

	s.aggregator = results.NewAggregator(s.log, s.store, s.reader)

	// Start the stuck-run monitor if configured. Durations were
	// validated at config load.
	if s.cfg.Monitor != nil && s.cfg.Monitor.Enabled {
		interval, _ := time.ParseDuration(s.cfg.Monitor.Interval)
		timeout, _ := time.ParseDuration(s.cfg.Monitor.Timeout)

		s.monitor = monitor.NewMonitor(
			s.log, s.store, interval, timeout, s.cfg.Monitor.Concurrency,
		)

		if err := s.monitor.Start(ctx); err != nil {
			return fmt.Errorf("starting monitor: %w", err)
		}
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server listening")

		if err := s.httpServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server failed")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server, background services and
// the store.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
	}

	for _, rl := range s.limiterMaps {
		rl.stop()
	}

	if s.monitor != nil {
		if err := s.monitor.Stop(); err != nil {
			return fmt.Errorf("stopping monitor: %w", err)
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
