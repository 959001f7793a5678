// Package main provides the entry point for the metadata harvester HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/bibworks/metadata-harvester/internal/config"
	"github.com/bibworks/metadata-harvester/internal/database"
	"github.com/bibworks/metadata-harvester/internal/observability"
	"github.com/bibworks/metadata-harvester/internal/retriever"
	httpserver "github.com/bibworks/metadata-harvester/internal/server/http"
	"github.com/bibworks/metadata-harvester/internal/sources"
	"github.com/bibworks/metadata-harvester/internal/sources/crossref"
	"github.com/bibworks/metadata-harvester/internal/sources/datacite"
	"github.com/bibworks/metadata-harvester/internal/sources/openaire"
	"github.com/bibworks/metadata-harvester/internal/sources/openalex"
	"github.com/bibworks/metadata-harvester/internal/sources/orcid"
	"github.com/bibworks/metadata-harvester/internal/sources/pubmed"
	"github.com/bibworks/metadata-harvester/internal/sources/pure"
	"github.com/bibworks/metadata-harvester/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("metadata-harvester server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// Create the metrics collectors.
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("harvester")
	}

	// Create the storage layer: the record sink and the harvest run store.
	sink := storage.NewPgSink(db.Pool(), storage.NewIDCache(), metrics, logger)
	runs := storage.NewRunStore(db.Pool(), logger)

	// Register all enabled source connectors.
	registry := buildRegistry(cfg.Sources, cfg.Retrieval, metrics, logger)
	logger.Info().
		Strs("sources", registry.Names()).
		Msg("source connectors registered")

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsPath:     cfg.Metrics.Path,
	}

	httpSrv := httpserver.NewServer(httpCfg, registry, sink, runs, db, metrics, logger)

	// Channel to collect server errors.
	errCh := make(chan error, 1)

	go func() {
		logger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Str("http_address", httpCfg.Address).
		Msg("metadata-harvester is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down metadata-harvester")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logger.Info().Msg("metadata-harvester shutdown complete")
	return nil
}

// buildRegistry registers a connector factory for every enabled source.
// Connectors accumulate identifiers between AddID and Fetch, so each
// retrieval gets a fresh instance from its factory.
func buildRegistry(cfg config.SourcesConfig, rcfg config.RetrievalConfig, metrics *observability.Metrics, logger zerolog.Logger) *retriever.Registry {
	registry := retriever.NewRegistry()

	tuning := sources.QueryTuning{
		FlushThreshold: rcfg.FlushThreshold,
		MaxRetries:     rcfg.MaxRetries,
		RetryDelay:     rcfg.RetryDelay,
	}

	if cfg.OpenAlex.Enabled {
		c := cfg.OpenAlex
		registry.Register(retriever.SourceOpenAlex, func() sources.Connector {
			return openalex.New(openalex.Config{
				BaseURL:   c.BaseURL,
				Email:     c.Email,
				Timeout:   c.Timeout,
				RateLimit: c.RateLimit,
				BurstSize: c.BurstSize,
				Enabled:   true,
				Tuning:    tuning,
				Metrics:   metrics,
				Logger:    logger,
			})
		})
	}

	if cfg.OpenAIRE.Enabled {
		c := cfg.OpenAIRE
		registry.Register(retriever.SourceOpenAIRE, func() sources.Connector {
			return openaire.New(openaire.Config{
				BaseURL:   c.BaseURL,
				APIKey:    c.APIKey,
				Timeout:   c.Timeout,
				RateLimit: c.RateLimit,
				BurstSize: c.BurstSize,
				Enabled:   true,
				Tuning:    tuning,
				Metrics:   metrics,
				Logger:    logger,
			})
		})
	}

	if cfg.Crossref.Enabled {
		c := cfg.Crossref
		registry.Register(retriever.SourceCrossref, func() sources.Connector {
			return crossref.New(crossref.Config{
				BaseURL:   c.BaseURL,
				Email:     c.Email,
				Timeout:   c.Timeout,
				RateLimit: c.RateLimit,
				BurstSize: c.BurstSize,
				Enabled:   true,
				Metrics:   metrics,
				Logger:    logger,
			})
		})
	}

	if cfg.DataCite.Enabled {
		c := cfg.DataCite
		registry.Register(retriever.SourceDataCite, func() sources.Connector {
			return datacite.New(datacite.Config{
				BaseURL:   c.BaseURL,
				Timeout:   c.Timeout,
				RateLimit: c.RateLimit,
				BurstSize: c.BurstSize,
				Enabled:   true,
				Metrics:   metrics,
				Logger:    logger,
			})
		})
	}

	if cfg.PubMed.Enabled {
		c := cfg.PubMed
		registry.Register(retriever.SourcePubMed, func() sources.Connector {
			return pubmed.New(pubmed.Config{
				BaseURL:   c.BaseURL,
				APIKey:    c.APIKey,
				Timeout:   c.Timeout,
				RateLimit: c.RateLimit,
				BurstSize: c.BurstSize,
				Enabled:   true,
				Metrics:   metrics,
				Logger:    logger,
			})
		})
	}

	if cfg.Pure.Enabled {
		c := cfg.Pure
		registry.Register(retriever.SourcePure, func() sources.Connector {
			return pure.New(pure.Config{
				BaseURL:   c.BaseURL,
				APIKey:    c.APIKey,
				Timeout:   c.Timeout,
				RateLimit: c.RateLimit,
				BurstSize: c.BurstSize,
				Enabled:   true,
				Metrics:   metrics,
				Logger:    logger,
			})
		})
	}

	if cfg.ORCID.Enabled {
		c := cfg.ORCID
		registry.Register(retriever.SourceORCID, func() sources.Connector {
			return orcid.New(orcid.Config{
				BaseURL:   c.BaseURL,
				Timeout:   c.Timeout,
				RateLimit: c.RateLimit,
				BurstSize: c.BurstSize,
				Enabled:   true,
				Metrics:   metrics,
				Logger:    logger,
			})
		})
	}

	return registry
}
