// Package observability provides logging, metrics, and tracing support for
// the metadata harvester.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for validation, retrieval, sources, and storage
//   - Context helpers for propagating observability data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("request_id", reqID).Msg("retrieval started")
//
// Add source context to logger:
//
//	logger = observability.WithSourceContext(logger, "OpenAlex", "works")
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("metadata_harvester")
//
// Record metrics:
//
//	metrics.RetrievalsStarted.Inc()
//	metrics.RecordValidation("doi", true)
//	metrics.RecordQueryCompleted("OpenAlex", 42)
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithRunID(ctx, runID)
//
//	reqID := observability.RequestIDFromContext(ctx)
//	runID := observability.RunIDFromContext(ctx)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: API request identifier
//   - run_id: Harvest run identifier
//   - source: Metadata source (OpenAlex, Crossref, etc.)
//   - endpoint: Source API endpoint
//   - id_kind: Identifier kind (doi, pmid, orcid, etc.)
//   - id_value: Identifier value
//   - trace_id: Distributed trace identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
