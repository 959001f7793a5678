package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bibworks/metadata-harvester/internal/domain"
	"github.com/bibworks/metadata-harvester/internal/identifier"
	"github.com/bibworks/metadata-harvester/internal/retriever"
	"github.com/bibworks/metadata-harvester/internal/storage"
)

// Request size and batch limits.
const (
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
	defaultRunLimit    = 20
	maxRunLimit        = 100
)

// identifierInput is one (kind, value) pair in a request body.
type identifierInput struct {
	Kind  string `json:"kind" validate:"required"`
	Value string `json:"value" validate:"required"`
}

// validateRequest is the JSON request body for identifier validation.
type validateRequest struct {
	Identifiers []identifierInput `json:"identifiers" validate:"required,min=1,max=1000,dive"`
}

// validateResult is the outcome of validating one identifier.
// Validated is false when no validator covers the kind; such inputs pass
// through unchanged rather than being rejected.
type validateResult struct {
	Kind      string `json:"kind"`
	Input     string `json:"input"`
	Canonical string `json:"canonical,omitempty"`
	Valid     bool   `json:"valid"`
	Validated bool   `json:"validated"`
	Reason    string `json:"reason,omitempty"`
}

type validateResponse struct {
	Results      []validateResult `json:"results"`
	ValidCount   int              `json:"valid_count"`
	InvalidCount int              `json:"invalid_count"`
}

// retrieveRequest is the JSON request body for metadata retrieval.
type retrieveRequest struct {
	Identifiers []identifierInput `json:"identifiers" validate:"required,min=1,max=500,dive"`
	Persist     bool              `json:"persist"`
}

// rejectedIdentifier names an input that was dropped before retrieval.
type rejectedIdentifier struct {
	Kind   string `json:"kind"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// recordResponse is one retrieved record in a retrieval response.
type recordResponse struct {
	NaturalID   string         `json:"natural_id"`
	Source      string         `json:"source"`
	Entity      string         `json:"entity"`
	RetrievedAt time.Time      `json:"retrieved_at"`
	Payload     map[string]any `json:"payload"`
}

type retrieveResponse struct {
	RunID                string                                 `json:"run_id,omitempty"`
	IdentifiersRequested int                                    `json:"identifiers_requested"`
	IdentifiersResolved  int                                    `json:"identifiers_resolved"`
	RecordsRetrieved     int                                    `json:"records_retrieved"`
	Rejected             []rejectedIdentifier                   `json:"rejected,omitempty"`
	Results              map[string]map[string][]recordResponse `json:"results"`
}

type runResponse struct {
	RunID                string     `json:"run_id"`
	Status               string     `json:"status"`
	IdentifiersRequested int        `json:"identifiers_requested"`
	IdentifiersResolved  int        `json:"identifiers_resolved"`
	RecordsRetrieved     int        `json:"records_retrieved"`
	ErrorMessage         string     `json:"error_message,omitempty"`
	StartedAt            time.Time  `json:"started_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

// validateIdentifiers handles POST /api/v1/validate.
// It normalizes each identifier to canonical form or reports the violated rule.
func (s *Server) validateIdentifiers(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	resp := validateResponse{Results: make([]validateResult, 0, len(req.Identifiers))}
	for _, in := range req.Identifiers {
		resp.Results = append(resp.Results, s.validateOne(in))
	}
	for _, res := range resp.Results {
		if res.Valid {
			resp.ValidCount++
		} else {
			resp.InvalidCount++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// validateOne validates a single identifier input. Unknown kinds and kinds
// without a validator pass through unchanged.
func (s *Server) validateOne(in identifierInput) validateResult {
	res := validateResult{Kind: in.Kind, Input: in.Value}

	kind, known := domain.ParseKind(in.Kind)
	if !known {
		res.Canonical = in.Value
		res.Valid = true
		return res
	}
	res.Kind = string(kind)

	fn, ok := identifier.ForKind(kind)
	if !ok {
		res.Canonical = in.Value
		res.Valid = true
		return res
	}

	res.Validated = true
	canonical, err := fn(in.Value)
	if err != nil {
		res.Reason = err.Error()
		if s.metrics != nil {
			s.metrics.RecordValidation(string(kind), false)
		}
		return res
	}

	res.Canonical = canonical
	res.Valid = true
	if s.metrics != nil {
		s.metrics.RecordValidation(string(kind), true)
	}
	return res
}

// retrieveMetadata handles POST /api/v1/retrieve.
// It validates the batch, fans it out across all capable sources, optionally
// persists the results, and records a harvest run.
func (s *Server) retrieveMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req retrieveRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordRetrievalStarted()
	}

	run := storage.NewHarvestRun(len(req.Identifiers))
	if s.runs != nil {
		if err := s.runs.Create(ctx, run); err != nil {
			s.logger.Error().Err(err).Msg("failed to create harvest run")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	batch, rejected := s.buildBatch(req.Identifiers)
	if req.Persist && s.sink != nil {
		// Streaming connectors flush to the sink at their threshold; the
		// final Store below dedupes what already landed.
		batch.SetSink(s.sink)
	}
	result := batch.Retrieve(ctx)

	recordCount := 0
	results := make(map[string]map[string][]recordResponse, len(result))
	var toStore []domain.Record
	for inputID, bySource := range result {
		results[inputID] = make(map[string][]recordResponse, len(bySource))
		for source, records := range bySource {
			recordCount += len(records)
			toStore = append(toStore, records...)
			out := make([]recordResponse, 0, len(records))
			for _, rec := range records {
				out = append(out, recordResponse{
					NaturalID:   rec.NaturalID,
					Source:      rec.Source,
					Entity:      rec.Entity,
					RetrievedAt: rec.RetrievedAt,
					Payload:     rec.Payload,
				})
			}
			results[inputID][source] = out
		}
	}

	if req.Persist && s.sink != nil && len(toStore) > 0 {
		if err := s.sink.Store(ctx, "records", toStore); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist retrieved records")
			s.finishRun(ctx, run.ID, storage.RunStatusFailed, batch.Len(), recordCount, err.Error())
			if s.metrics != nil {
				s.metrics.RecordRetrievalFailed(time.Since(start).Seconds())
			}
			writeError(w, http.StatusInternalServerError, "failed to persist records")
			return
		}
	}

	s.finishRun(ctx, run.ID, storage.RunStatusCompleted, batch.Len(), recordCount, "")
	if s.metrics != nil {
		s.metrics.RecordRetrievalCompleted(time.Since(start).Seconds())
	}

	resp := retrieveResponse{
		IdentifiersRequested: len(req.Identifiers),
		IdentifiersResolved:  batch.Len(),
		RecordsRetrieved:     recordCount,
		Rejected:             rejected,
		Results:              results,
	}
	if s.runs != nil {
		resp.RunID = run.ID.String()
	}

	writeJSON(w, http.StatusOK, resp)
}

// buildBatch validates the inputs and loads the survivors into a retriever
// batch. Inputs that fail validation are reported, not fatal.
func (s *Server) buildBatch(inputs []identifierInput) (*retriever.Retriever, []rejectedIdentifier) {
	batch := retriever.New(s.registry, s.logger)
	var rejected []rejectedIdentifier

	for _, in := range inputs {
		kind, known := domain.ParseKind(in.Kind)
		if !known {
			rejected = append(rejected, rejectedIdentifier{
				Kind: in.Kind, Value: in.Value, Reason: "unknown identifier kind",
			})
			if s.metrics != nil {
				s.metrics.RecordIdentifierDropped(strings.ToLower(in.Kind))
			}
			continue
		}

		value := in.Value
		if fn, ok := identifier.ForKind(kind); ok {
			canonical, err := fn(in.Value)
			if err != nil {
				rejected = append(rejected, rejectedIdentifier{
					Kind: string(kind), Value: in.Value, Reason: err.Error(),
				})
				if s.metrics != nil {
					s.metrics.RecordValidation(string(kind), false)
					s.metrics.RecordIdentifierDropped(string(kind))
				}
				continue
			}
			value = canonical
			if s.metrics != nil {
				s.metrics.RecordValidation(string(kind), true)
			}
		}

		batch.AddID(domain.NormalizedID{Kind: kind, Value: value})
	}

	return batch, rejected
}

// finishRun closes out a harvest run, logging rather than failing on error.
func (s *Server) finishRun(ctx context.Context, id uuid.UUID, status storage.RunStatus, resolved, records int, errMsg string) {
	if s.runs == nil {
		return
	}
	if err := s.runs.Finish(ctx, id, status, resolved, records, errMsg); err != nil {
		s.logger.Error().Err(err).Str("run_id", id.String()).Msg("failed to finish harvest run")
	}
}

// getRun handles GET /api/v1/runs/{runID}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run persistence is disabled")
		return
	}

	id, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "harvest run not found")
			return
		}
		s.logger.Error().Err(err).Msg("failed to get harvest run")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, runToResponse(run))
}

// listRuns handles GET /api/v1/runs.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run persistence is disabled")
		return
	}

	limit := defaultRunLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}

	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list harvest runs")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := listRunsResponse{Runs: make([]runResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, runToResponse(run))
	}

	writeJSON(w, http.StatusOK, resp)
}

// decodeRequest reads, unmarshals, and struct-validates a JSON request body.
// It writes the error response itself and returns false on failure.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return false
	}

	return true
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// runToResponse converts a stored harvest run to its JSON form.
func runToResponse(run *storage.HarvestRun) runResponse {
	return runResponse{
		RunID:                run.ID.String(),
		Status:               string(run.Status),
		IdentifiersRequested: run.IdentifiersRequested,
		IdentifiersResolved:  run.IdentifiersResolved,
		RecordsRetrieved:     run.RecordsRetrieved,
		ErrorMessage:         run.ErrorMessage,
		StartedAt:            run.StartedAt,
		CompletedAt:          run.CompletedAt,
	}
}
