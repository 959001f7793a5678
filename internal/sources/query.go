package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/bibworks/metadata-harvester/internal/domain"
	"github.com/bibworks/metadata-harvester/internal/observability"
)

// CursorStart is the conventional "start" sentinel for cursor pagination.
const CursorStart = "*"

// Query engine defaults.
const (
	// DefaultFlushThreshold is the buffered record count at which a query
	// flushes to its sink. Memory control only; completeness is unaffected.
	DefaultFlushThreshold = 200

	// DefaultMaxRetries is the retry ceiling before a query aborts.
	DefaultMaxRetries = 10

	// DefaultRetryDelay is the fixed backoff between retries.
	DefaultRetryDelay = 5 * time.Second

	// maxResponseBytes bounds the size of a decoded response body.
	maxResponseBytes = 10 << 20
)

// QueryState describes where a query is in its lifecycle.
type QueryState int

// Query lifecycle states.
const (
	// QueryInitial means no request has been issued yet.
	QueryInitial QueryState = iota

	// QueryFetching means pages are being requested.
	QueryFetching

	// QueryDone means the cursor is exhausted and all expected records arrived.
	QueryDone

	// QueryAborted means the query stopped early (retry ceiling, schema
	// mismatch, or cancellation) keeping whatever was accumulated.
	QueryAborted
)

// String returns the state name for logging.
func (s QueryState) String() string {
	switch s {
	case QueryInitial:
		return "initial"
	case QueryFetching:
		return "fetching"
	case QueryDone:
		return "done"
	case QueryAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Page is the normalized shape of one response page after schema validation:
// the decoded result records plus the pagination metadata every supported
// source reports in some form.
type Page struct {
	// Records are the decoded result objects of this page.
	Records []map[string]any

	// Count is the total number of results the source reports for the whole
	// query, not just this page.
	Count int

	// NextCursor is the opaque token for the next page; empty means the
	// source has no more pages.
	NextCursor string
}

// Schema validates a raw response payload for one (source, endpoint) pair and
// extracts its page structure. Implementations must return a
// *domain.SchemaError when the payload does not match the expected shape, so
// the query engine can tell validation failures apart from network failures.
type Schema interface {
	Decode(data []byte) (*Page, error)
}

// SchemaFunc adapts a function to the Schema interface.
type SchemaFunc func(data []byte) (*Page, error)

// Decode implements Schema.
func (f SchemaFunc) Decode(data []byte) (*Page, error) { return f(data) }

// QueryConfig assembles everything a Query needs to run.
type QueryConfig struct {
	// Source names the external registry, used in records, logs, and errors.
	Source string

	// Endpoint is the entity/table the query targets (e.g. "work").
	Endpoint string

	// BuildURL renders the request URL for a given cursor value.
	BuildURL func(cursor string) (string, error)

	// Schema validates and decodes response payloads.
	Schema Schema

	// RecordID extracts the natural id from a decoded record payload.
	RecordID func(payload map[string]any) string

	// Client issues the HTTP requests.
	Client *HTTPClient

	// Sink, when set, receives accumulated records once FlushThreshold is
	// crossed and again when the query finishes. Flushed records stay
	// available through Results so callers can still attribute them.
	Sink Sink

	// Metrics receives page, retry, abort, and completion counts. Nil
	// disables collection.
	Metrics *observability.Metrics

	// Logger receives query progress and abort events.
	Logger zerolog.Logger

	// FlushThreshold overrides DefaultFlushThreshold when positive.
	FlushThreshold int

	// MaxRetries overrides DefaultMaxRetries when positive.
	MaxRetries int

	// RetryDelay overrides DefaultRetryDelay when positive.
	RetryDelay time.Duration
}

// QueryTuning carries the query-engine knobs connectors expose to service
// configuration. Zero values fall back to the package defaults.
type QueryTuning struct {
	FlushThreshold int
	MaxRetries     int
	RetryDelay     time.Duration
}

// Query drives cursor pagination against one endpoint of one source.
//
// A query owns its cursor and buffer exclusively and must not be shared
// across goroutines. Pages are accumulated strictly in cursor-issue order.
// Transient failures are retried with a fixed backoff up to a ceiling;
// exceeding the ceiling aborts the query while keeping accumulated records.
// A schema validation failure aborts immediately without retry. A source
// returning an empty cursor while fewer records than expected have arrived
// (a server-side pagination glitch) triggers a bounded retry of the same
// request rather than premature termination.
type Query struct {
	cfg QueryConfig

	cursor    string
	state     QueryState
	expected  int
	retrieved int
	retries   int
	buf       []domain.Record
	flushed   int
}

// NewQuery creates a query in the initial state with the cursor at the
// start sentinel.
func NewQuery(cfg QueryConfig) *Query {
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = DefaultFlushThreshold
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Query{
		cfg:      cfg,
		cursor:   CursorStart,
		state:    QueryInitial,
		expected: -1,
	}
}

// State returns the query's lifecycle state.
func (q *Query) State() QueryState { return q.state }

// Endpoint returns the endpoint the query targets.
func (q *Query) Endpoint() string { return q.cfg.Endpoint }

// Expected returns the total result count the source reported, or -1 before
// the first page arrives.
func (q *Query) Expected() int { return q.expected }

// Retrieved returns the number of records fetched so far, including flushed ones.
func (q *Query) Retrieved() int { return q.retrieved }

// Flushed returns the number of records already handed to the sink.
func (q *Query) Flushed() int { return q.flushed }

// Results returns every record the query has accumulated, including records
// already flushed to the sink.
func (q *Query) Results() []domain.Record { return q.buf }

// Run drives the query to completion or abort. The returned error reports
// why the query aborted; a nil return means the query reached QueryDone.
// Cancellation via ctx aborts cleanly, leaving accumulated and flushed
// records intact.
func (q *Query) Run(ctx context.Context) error {
	if q.state == QueryDone || q.state == QueryAborted {
		return nil
	}
	q.state = QueryFetching

	logger := q.cfg.Logger.With().
		Str("source", q.cfg.Source).
		Str("endpoint", q.cfg.Endpoint).
		Logger()

	for q.cursor != "" {
		if err := ctx.Err(); err != nil {
			q.abort(logger, err)
			return err
		}
		if q.retries > q.cfg.MaxRetries {
			err := &domain.TransientError{
				Source: q.cfg.Source,
				Cause:  fmt.Errorf("retry ceiling of %d exceeded", q.cfg.MaxRetries),
			}
			q.abort(logger, err)
			return err
		}

		page, err := q.fetchPage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				q.abort(logger, err)
				return err
			}
			var schemaErr *domain.SchemaError
			if errors.As(err, &schemaErr) {
				// Non-recoverable: the payload shape is wrong, retrying
				// cannot help.
				q.abort(logger, err)
				return err
			}
			logger.Warn().Err(err).Int("retries", q.retries).Msg("transient fetch failure, backing off")
			q.retries++
			q.cfg.Metrics.RecordQueryRetry(q.cfg.Source)
			if err := sleepContext(ctx, q.cfg.RetryDelay); err != nil {
				q.abort(logger, err)
				return err
			}
			continue
		}

		if q.expected < 0 {
			q.expected = page.Count
			logger.Debug().Int("expected", q.expected).Msg("first page received")
		}

		// Pagination glitch: no next cursor even though the running total is
		// below the expected count. Retry the same request.
		if page.NextCursor == "" && q.retrieved+len(page.Records) < q.expected {
			logger.Warn().
				Int("retrieved", q.retrieved+len(page.Records)).
				Int("expected", q.expected).
				Msg("empty cursor before expected total, retrying same request")
			q.retries++
			q.cfg.Metrics.RecordQueryRetry(q.cfg.Source)
			if err := sleepContext(ctx, q.cfg.RetryDelay); err != nil {
				q.abort(logger, err)
				return err
			}
			continue
		}

		now := time.Now().UTC()
		for _, payload := range page.Records {
			q.buf = append(q.buf, domain.Record{
				NaturalID:   q.cfg.RecordID(payload),
				Source:      q.cfg.Source,
				Entity:      q.cfg.Endpoint,
				Payload:     payload,
				RetrievedAt: now,
			})
		}
		q.retrieved += len(page.Records)
		q.cursor = page.NextCursor
		q.cfg.Metrics.RecordQueryPage(q.cfg.Source)

		logger.Debug().
			Int("retrieved", q.retrieved).
			Int("expected", q.expected).
			Msg("page accumulated")

		if q.cfg.Sink != nil && len(q.buf)-q.flushed >= q.cfg.FlushThreshold {
			if err := q.flush(ctx); err != nil {
				logger.Warn().Err(err).Msg("flush to sink failed, keeping buffer")
			}
		}
	}

	q.state = QueryDone
	if q.cfg.Sink != nil && len(q.buf) > q.flushed {
		if err := q.flush(ctx); err != nil {
			logger.Warn().Err(err).Msg("final flush to sink failed")
		}
	}
	q.cfg.Metrics.RecordQueryCompleted(q.cfg.Source, q.retrieved)
	logger.Info().
		Int("retrieved", q.retrieved).
		Int("expected", q.expected).
		Msg("query complete")
	return nil
}

// fetchPage issues one HTTP request for the current cursor and decodes the
// response through the endpoint schema.
func (q *Query) fetchPage(ctx context.Context) (*Page, error) {
	url, err := q.cfg.BuildURL(q.cursor)
	if err != nil {
		return nil, &domain.SchemaError{Source: q.cfg.Source, Endpoint: q.cfg.Endpoint, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := q.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domain.TransientError{Source: q.cfg.Source, Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &domain.ExternalAPIError{
			Source:     q.cfg.Source,
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
		if domain.IsTransientStatus(resp.StatusCode) {
			return nil, &domain.TransientError{Source: q.cfg.Source, Cause: apiErr}
		}
		// Non-transient, non-OK responses are treated as contract breaks.
		return nil, &domain.SchemaError{Source: q.cfg.Source, Endpoint: q.cfg.Endpoint, Cause: apiErr}
	}

	page, err := q.cfg.Schema.Decode(body)
	if err != nil {
		var schemaErr *domain.SchemaError
		if errors.As(err, &schemaErr) {
			return nil, err
		}
		return nil, &domain.SchemaError{Source: q.cfg.Source, Endpoint: q.cfg.Endpoint, Cause: err}
	}
	return page, nil
}

// flush hands the not-yet-flushed tail of the buffer to the sink. Records
// remain in the buffer so Results can attribute the full accumulation.
func (q *Query) flush(ctx context.Context) error {
	pending := q.buf[q.flushed:]
	if len(pending) == 0 {
		return nil
	}
	if err := q.cfg.Sink.Store(ctx, q.cfg.Endpoint, pending); err != nil {
		return err
	}
	q.flushed = len(q.buf)
	return nil
}

func (q *Query) abort(logger zerolog.Logger, cause error) {
	q.state = QueryAborted
	q.cfg.Metrics.RecordQueryAbort(q.cfg.Source)
	logger.Error().
		Err(cause).
		Int("retrieved", q.retrieved).
		Int("expected", q.expected).
		Msg("query aborted")
}

// sleepContext waits for the given duration or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// QuerySet is an ordered collection of queries restricted to one endpoint.
// It is used when an identifier batch is large enough to be sharded into
// multiple underlying requests. The set owns its queries and aggregates
// their results without touching query internals.
type QuerySet struct {
	endpoint string
	queries  []*Query
	logger   zerolog.Logger
}

// NewQuerySet creates an empty query set for the given endpoint.
func NewQuerySet(endpoint string, logger zerolog.Logger) *QuerySet {
	return &QuerySet{endpoint: endpoint, logger: logger}
}

// Endpoint returns the endpoint every query in the set must target.
func (s *QuerySet) Endpoint() string { return s.endpoint }

// Add appends queries to the set. Queries whose endpoint does not match the
// set's endpoint are dropped with a log line; mixing endpoints in one set
// would corrupt downstream table routing.
func (s *QuerySet) Add(queries ...*Query) *QuerySet {
	for _, q := range queries {
		if q.Endpoint() != s.endpoint {
			s.logger.Debug().
				Str("set_endpoint", s.endpoint).
				Str("query_endpoint", q.Endpoint()).
				Msg("dropping query with mismatched endpoint")
			continue
		}
		s.queries = append(s.queries, q)
	}
	return s
}

// Len returns the number of queries in the set.
func (s *QuerySet) Len() int { return len(s.queries) }

// Run drives every query in the set in order. Individual query aborts do not
// stop the remaining queries.
func (s *QuerySet) Run(ctx context.Context) {
	for _, q := range s.queries {
		if err := q.Run(ctx); err != nil {
			s.logger.Warn().Err(err).Str("endpoint", s.endpoint).Msg("query in set aborted")
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Results returns the accumulated records of every query, in set order.
func (s *QuerySet) Results() []domain.Record {
	var out []domain.Record
	for _, q := range s.queries {
		out = append(out, q.Results()...)
	}
	return out
}
