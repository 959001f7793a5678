// Package storage persists retrieved metadata records to PostgreSQL.
//
// Records land in per-(source, entity) tables that are created on first use.
// Inserts are idempotent upserts keyed by each record's natural id, and an
// in-memory id cache short-circuits re-deliveries before they hit the
// database.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"

	"github.com/bibworks/metadata-harvester/internal/domain"
	"github.com/bibworks/metadata-harvester/internal/observability"
	"github.com/bibworks/metadata-harvester/internal/sources"
)

// DBTX is the subset of pgxpool.Pool / pgx.Tx the sink needs. Keeping it
// narrow lets tests substitute pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// tableNameRe strips everything that is not a lowercase identifier
// character. Table names are derived from source and entity names, never
// from user input, but the sink still refuses to interpolate anything else
// into DDL.
var tableNameRe = regexp.MustCompile(`[^a-z0-9_]+`)

// TableName derives the destination table for a record's source and entity,
// e.g. ("OpenAlex", "works") becomes "openalex_works".
func TableName(source, entity string) string {
	name := strings.ToLower(source + "_" + entity)
	name = strings.ReplaceAll(name, "-", "_")
	name = tableNameRe.ReplaceAllString(name, "")
	return strings.Trim(name, "_")
}

// PgSink writes records to PostgreSQL. It implements sources.Sink.
type PgSink struct {
	db      DBTX
	cache   *IDCache
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex
	created map[string]bool
}

var _ sources.Sink = (*PgSink)(nil)

// NewPgSink creates a sink over the given connection. A nil cache disables
// id-level deduplication; the ON CONFLICT clause still keeps inserts
// idempotent. A nil metrics disables collection.
func NewPgSink(db DBTX, cache *IDCache, metrics *observability.Metrics, logger zerolog.Logger) *PgSink {
	return &PgSink{
		db:      db,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		created: make(map[string]bool),
	}
}

// Store persists a batch of records. The table argument names the entity the
// batch belongs to; each record routes to its own (source, entity) table.
// Records whose natural id is already cached are skipped. Store is safe for
// concurrent use.
func (s *PgSink) Store(ctx context.Context, table string, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	byTable := make(map[string][]domain.Record)
	for _, rec := range records {
		entity := rec.Entity
		if entity == "" {
			entity = table
		}
		name := TableName(rec.Source, entity)
		byTable[name] = append(byTable[name], rec)
	}

	for name, group := range byTable {
		if err := s.storeTable(ctx, name, group); err != nil {
			return err
		}
	}
	return nil
}

func (s *PgSink) storeTable(ctx context.Context, table string, records []domain.Record) error {
	if table == "" {
		return fmt.Errorf("record batch has no usable table name")
	}
	if err := s.ensureTable(ctx, table); err != nil {
		return err
	}

	fresh := records[:0:0]
	skipped := 0
	for _, rec := range records {
		if rec.NaturalID == "" {
			skipped++
			continue
		}
		if s.cache != nil && s.cache.Seen(table, rec.NaturalID) {
			skipped++
			continue
		}
		fresh = append(fresh, rec)
	}
	if skipped > 0 {
		s.metrics.RecordRecordsSkipped(table, skipped)
		s.logger.Debug().
			Str("table", table).
			Int("skipped", skipped).
			Msg("skipping cached or unkeyed records")
	}
	if len(fresh) == 0 {
		return nil
	}

	var valueStrings []string
	var args []any
	for i, rec := range fresh {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("marshaling payload for %s: %w", rec.NaturalID, err)
		}
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			i*5+1, i*5+2, i*5+3, i*5+4, i*5+5))
		args = append(args, rec.NaturalID, rec.Source, rec.Entity, payload, rec.RetrievedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (natural_id, source, entity, payload, retrieved_at)
		VALUES %s
		ON CONFLICT (natural_id) DO NOTHING`,
		table, strings.Join(valueStrings, ", "))

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting %d records into %s: %w", len(fresh), table, err)
	}

	if s.cache != nil {
		ids := make([]string, 0, len(fresh))
		for _, rec := range fresh {
			ids = append(ids, rec.NaturalID)
		}
		s.cache.Add(table, ids...)
	}

	s.metrics.RecordRecordsStored(table, len(fresh))
	s.logger.Debug().
		Str("table", table).
		Int("records", len(fresh)).
		Msg("records stored")
	return nil
}

// ensureTable creates the destination table on first use.
func (s *PgSink) ensureTable(ctx context.Context, table string) error {
	s.mu.Lock()
	done := s.created[table]
	s.mu.Unlock()
	if done {
		return nil
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			natural_id   TEXT PRIMARY KEY,
			source       TEXT NOT NULL,
			entity       TEXT NOT NULL,
			payload      JSONB NOT NULL,
			retrieved_at TIMESTAMPTZ NOT NULL
		)`, table)

	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("creating table %s: %w", table, err)
	}

	s.mu.Lock()
	s.created[table] = true
	s.mu.Unlock()
	return nil
}

// LoadCache primes the id cache with the natural ids already present in a
// table. Missing tables are not an error; they simply have nothing to load.
func (s *PgSink) LoadCache(ctx context.Context, source, entity string) error {
	if s.cache == nil {
		return nil
	}
	table := TableName(source, entity)

	rows, err := s.db.Query(ctx, fmt.Sprintf("SELECT natural_id FROM %s", table))
	if err != nil {
		s.logger.Debug().Err(err).Str("table", table).Msg("cache priming skipped")
		return nil
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scanning natural id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating natural ids: %w", err)
	}

	s.cache.Add(table, ids...)
	s.logger.Debug().
		Str("table", table).
		Int("ids", len(ids)).
		Msg("id cache primed")
	return nil
}
