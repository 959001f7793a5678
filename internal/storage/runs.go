package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/bibworks/metadata-harvester/internal/domain"
)

// RunStatus is the lifecycle state of a harvest run.
type RunStatus string

// Harvest run states.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// HarvestRun is the audit record of one retrieval batch.
type HarvestRun struct {
	ID                   uuid.UUID
	Status               RunStatus
	IdentifiersRequested int
	IdentifiersResolved  int
	RecordsRetrieved     int
	ErrorMessage         string
	StartedAt            time.Time
	CompletedAt          *time.Time
}

// NewHarvestRun creates a running harvest run for a batch of the given size.
func NewHarvestRun(requested int) *HarvestRun {
	return &HarvestRun{
		ID:                   uuid.New(),
		Status:               RunStatusRunning,
		IdentifiersRequested: requested,
		StartedAt:            time.Now().UTC(),
	}
}

// RunStore persists harvest run audit records. The harvest_runs table is
// managed by migrations, unlike the per-source record tables the sink
// creates on demand.
type RunStore struct {
	db     DBTX
	logger zerolog.Logger
}

// NewRunStore creates a run store over the given connection.
func NewRunStore(db DBTX, logger zerolog.Logger) *RunStore {
	return &RunStore{db: db, logger: logger}
}

// Create inserts a new harvest run record.
func (s *RunStore) Create(ctx context.Context, run *HarvestRun) error {
	query := `
		INSERT INTO harvest_runs (id, status, identifiers_requested, identifiers_resolved,
			records_retrieved, error_message, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, query,
		run.ID, run.Status, run.IdentifiersRequested, run.IdentifiersResolved,
		run.RecordsRetrieved, run.ErrorMessage, run.StartedAt, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create harvest run: %w", err)
	}

	s.logger.Debug().
		Str("run_id", run.ID.String()).
		Int("identifiers", run.IdentifiersRequested).
		Msg("harvest run created")
	return nil
}

// Finish marks a run as completed or failed and records its final counts.
func (s *RunStore) Finish(ctx context.Context, id uuid.UUID, status RunStatus, resolved, records int, errMsg string) error {
	query := `
		UPDATE harvest_runs
		SET status = $2, identifiers_resolved = $3, records_retrieved = $4,
			error_message = $5, completed_at = $6
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, id, status, resolved, records, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to finish harvest run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("harvest run %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Get retrieves a harvest run by ID.
func (s *RunStore) Get(ctx context.Context, id uuid.UUID) (*HarvestRun, error) {
	query := `
		SELECT id, status, identifiers_requested, identifiers_resolved,
			records_retrieved, error_message, started_at, completed_at
		FROM harvest_runs
		WHERE id = $1`

	run, err := scanRun(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("harvest run %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get harvest run: %w", err)
	}
	return run, nil
}

// List returns the most recent harvest runs, newest first.
func (s *RunStore) List(ctx context.Context, limit int) ([]*HarvestRun, error) {
	query := `
		SELECT id, status, identifiers_requested, identifiers_resolved,
			records_retrieved, error_message, started_at, completed_at
		FROM harvest_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list harvest runs: %w", err)
	}
	defer rows.Close()

	var runs []*HarvestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan harvest run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate harvest runs: %w", err)
	}
	return runs, nil
}

// scanRun scans a harvest run from a row.
func scanRun(row pgx.Row) (*HarvestRun, error) {
	var run HarvestRun
	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.IdentifiersRequested,
		&run.IdentifiersResolved,
		&run.RecordsRetrieved,
		&run.ErrorMessage,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
