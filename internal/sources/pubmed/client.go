// Package pubmed implements the PubMed connector on top of the NCBI
// E-utilities esummary endpoint.
//
// PubMed resolves PMIDs only. Accumulated ids are batched into comma-joined
// esummary requests, and the keyed result map attributes each summary back
// to its input id.
package pubmed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"

	"github.com/bibworks/metadata-harvester/internal/domain"
	"github.com/bibworks/metadata-harvester/internal/observability"
	"github.com/bibworks/metadata-harvester/internal/sources"
)

const (
	// DefaultBaseURL is the default E-utilities base URL.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the default rate limit for requests per second.
	// NCBI allows 3 req/sec without an API key and 10 with one.
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// BatchSize is the number of PMIDs joined into one esummary request.
	BatchSize = 100
)

// Config holds configuration for the PubMed client.
type Config struct {
	// BaseURL is the E-utilities base URL.
	// Defaults to https://eutils.ncbi.nlm.nih.gov/entrez/eutils
	BaseURL string

	// APIKey is an optional NCBI API key granting 10 req/sec.
	APIKey string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// Enabled indicates whether this source participates in retrieval.
	Enabled bool

	// Metrics receives request counts. Nil disables collection.
	Metrics *observability.Metrics

	// Logger receives per-identifier failures.
	Logger zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
		if c.APIKey != "" {
			c.RateLimit = 10.0
		}
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
}

// Client implements the sources.Connector interface for PubMed.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
	ids        map[string]domain.Kind
}

var _ sources.Connector = (*Client)(nil)

// New creates a new PubMed client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := sources.NewHTTPClient(sources.HTTPClientConfig{
		Source:    "PubMed",
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		Metrics:   cfg.Metrics,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		ids:        make(map[string]domain.Kind),
	}
}

// NewWithHTTPClient creates a new PubMed client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *sources.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		ids:        make(map[string]domain.Kind),
	}
}

// Name returns the source name used in result maps and logs.
func (c *Client) Name() string {
	return "PubMed"
}

// Setup is a no-op; the API key is appended per request.
func (c *Client) Setup() {}

// AddID accumulates an identifier for the next Fetch. Only PMIDs are accepted.
func (c *Client) AddID(kind domain.Kind, value string) {
	if kind != domain.KindPMID {
		return
	}
	c.ids[value] = kind
}

// Fetch retrieves summaries for every accumulated PMID in batches of
// BatchSize. A failed batch drops only its own identifiers.
func (c *Client) Fetch(ctx context.Context) map[string][]domain.Record {
	out := make(map[string][]domain.Record)
	if len(c.ids) == 0 {
		return out
	}

	pmids := make([]string, 0, len(c.ids))
	for value := range c.ids {
		pmids = append(pmids, value)
	}

	for start := 0; start < len(pmids); start += BatchSize {
		end := min(start+BatchSize, len(pmids))
		batch := pmids[start:end]

		summaries, err := c.fetchSummaries(ctx, batch)
		if err != nil {
			c.config.Logger.Warn().
				Err(err).
				Str("source", c.Name()).
				Int("batch_size", len(batch)).
				Msg("retrieval failed, skipping batch")
			continue
		}
		for pmid, records := range summaries {
			out[pmid] = records
		}
	}
	return out
}

// FetchOne retrieves the summary for a single PMID.
func (c *Client) FetchOne(ctx context.Context, kind domain.Kind, value string) ([]domain.Record, error) {
	if kind != domain.KindPMID {
		return nil, fmt.Errorf("%s cannot resolve %s identifiers: %w", c.Name(), kind, domain.ErrUnresolvedKind)
	}

	summaries, err := c.fetchSummaries(ctx, []string{value})
	if err != nil {
		return nil, err
	}
	records, ok := summaries[value]
	if !ok {
		return nil, fmt.Errorf("pmid %s: %w", value, domain.ErrNotFound)
	}
	return records, nil
}

// fetchSummaries issues one esummary request for a batch of PMIDs and keys
// the decoded summaries by input id.
func (c *Client) fetchSummaries(ctx context.Context, pmids []string) (map[string][]domain.Record, error) {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/esummary.fcgi"

	query := url.Values{}
	query.Set("db", "pubmed")
	query.Set("id", strings.Join(pmids, ","))
	query.Set("retmode", "json")
	if c.config.APIKey != "" {
		query.Set("api_key", c.config.APIKey)
	}
	base.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, &domain.ExternalAPIError{
			Source:     c.Name(),
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	// esummary keys each document by its uid inside the result object,
	// alongside a "uids" list naming the ids that resolved.
	var envelope struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&envelope); err != nil {
		return nil, &domain.SchemaError{Source: c.Name(), Endpoint: "esummary", Cause: err}
	}
	if envelope.Result == nil {
		return nil, &domain.SchemaError{
			Source:   c.Name(),
			Endpoint: "esummary",
			Cause:    errors.New("response missing result object"),
		}
	}

	now := time.Now().UTC()
	out := make(map[string][]domain.Record)
	for _, pmid := range pmids {
		raw, ok := envelope.Result[pmid]
		if !ok {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			c.config.Logger.Warn().
				Err(err).
				Str("source", c.Name()).
				Str("id", pmid).
				Msg("summary entry is not an object, skipping")
			continue
		}
		// Unresolvable uids come back as {"uid": ..., "error": "..."}.
		if _, failed := payload["error"]; failed {
			continue
		}
		out[pmid] = []domain.Record{{
			NaturalID:   pmid,
			Source:      c.Name(),
			Entity:      "esummary",
			Payload:     payload,
			RetrievedAt: now,
		}}
	}
	return out, nil
}
