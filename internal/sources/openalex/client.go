// Package openalex implements the OpenAlex connector.
//
// OpenAlex resolves DOIs, PubMed ids, arXiv ids, and ORCID iDs. Identifier
// batches are sharded into OR-joined filter queries of up to 50 ids, each
// paginated with the cursor protocol.
package openalex

import (
	"context"
	"fmt"
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
	// DefaultBaseURL is the default OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the default rate limit for requests per second.
	// The polite pool (with email) allows 10 req/sec.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// BatchSize is the number of ids OR-joined into one filter query.
	BatchSize = 50

	// PerPage is the page size requested from the API.
	PerPage = 50

	// doiPrefix is the URL prefix OpenAlex uses for DOIs.
	doiPrefix = "https://doi.org/"

	// pmidPrefix is the URL prefix OpenAlex uses for PubMed ids.
	pmidPrefix = "https://pubmed.ncbi.nlm.nih.gov/"

	// arxivDOIPrefix maps arXiv ids into the DataCite DOI space OpenAlex
	// indexes them under.
	arxivDOIPrefix = "10.48550/arxiv."
)

// Config holds configuration for the OpenAlex client.
type Config struct {
	// BaseURL is the OpenAlex API base URL.
	// Defaults to https://api.openalex.org
	BaseURL string

	// Email is the contact email for the polite pool.
	// Providing an email grants access to higher rate limits.
	Email string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// Enabled indicates whether this source participates in retrieval.
	Enabled bool

	// Tuning overrides the query engine defaults.
	Tuning sources.QueryTuning

	// Metrics receives request and query counts. Nil disables collection.
	Metrics *observability.Metrics

	// Logger receives per-identifier failures and query progress.
	Logger zerolog.Logger
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
}

// plan describes how one identifier kind maps onto the OpenAlex API: which
// endpoint serves it, which filter field matches it, and how to translate
// between the canonical identifier value and the value OpenAlex reports.
type plan struct {
	endpoint   string
	filterType string

	// toFilter renders the canonical value as a filter value.
	toFilter func(value string) string

	// recordKey extracts the attribution key from a result payload.
	recordKey func(payload map[string]any) string

	// inputKey renders the canonical value as an attribution key.
	inputKey func(value string) string
}

var kindPlans = map[domain.Kind]plan{
	domain.KindDOI: {
		endpoint:   "works",
		filterType: "doi",
		toFilter:   func(v string) string { return v },
		recordKey:  payloadDOI,
		inputKey:   func(v string) string { return v },
	},
	domain.KindPMID: {
		endpoint:   "works",
		filterType: "pmid",
		toFilter:   func(v string) string { return v },
		recordKey:  payloadPMID,
		inputKey:   func(v string) string { return v },
	},
	domain.KindArxiv: {
		endpoint:   "works",
		filterType: "doi",
		toFilter:   arxivToDOI,
		recordKey:  payloadDOI,
		inputKey:   arxivToDOI,
	},
	domain.KindORCID: {
		endpoint:   "authors",
		filterType: "orcid",
		toFilter:   func(v string) string { return v },
		recordKey:  payloadORCID,
		inputKey:   func(v string) string { return v },
	},
}

// Client implements the sources.Connector interface for OpenAlex.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
	ids        map[string]domain.Kind
	sink       sources.Sink
}

var (
	_ sources.Connector = (*Client)(nil)
	_ sources.SinkAware = (*Client)(nil)
)

// New creates a new OpenAlex client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := sources.NewHTTPClient(sources.HTTPClientConfig{
		Source:    "OpenAlex",
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		UserAgent: "bibworks-metadata-harvester/1.0 (mailto:" + cfg.Email + ")",
		Metrics:   cfg.Metrics,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		ids:        make(map[string]domain.Kind),
	}
}

// NewWithHTTPClient creates a new OpenAlex client with a custom HTTP client.
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
	return "OpenAlex"
}

// Setup performs connector initialization. The OpenAlex client configures
// itself at construction, so Setup is a no-op kept for interface symmetry.
func (c *Client) Setup() {}

// SetSink streams records fetched by subsequent queries to the given sink at
// the flush threshold. Records still appear in Fetch results.
func (c *Client) SetSink(sink sources.Sink) { c.sink = sink }

// AddID accumulates an identifier for the next Fetch. Kinds OpenAlex cannot
// resolve are ignored.
func (c *Client) AddID(kind domain.Kind, value string) {
	if _, ok := kindPlans[kind]; !ok {
		return
	}
	c.ids[value] = kind
}

// Fetch retrieves records for every accumulated identifier, sharding each
// kind's batch into OR-joined filter queries of up to BatchSize ids. Failed
// queries are logged; their identifiers are simply absent from the result.
func (c *Client) Fetch(ctx context.Context) map[string][]domain.Record {
	out := make(map[string][]domain.Record)
	if len(c.ids) == 0 {
		return out
	}

	byKind := make(map[domain.Kind][]string)
	for value, kind := range c.ids {
		byKind[kind] = append(byKind[kind], value)
	}

	for kind, values := range byKind {
		p := kindPlans[kind]

		// keyToInput attributes results back to the literal input values.
		keyToInput := make(map[string]string, len(values))
		for _, v := range values {
			keyToInput[strings.ToLower(p.inputKey(v))] = v
		}

		set := sources.NewQuerySet(p.endpoint, c.config.Logger)
		for start := 0; start < len(values); start += BatchSize {
			end := min(start+BatchSize, len(values))
			set.Add(c.newBatchQuery(p, values[start:end]))
		}
		set.Run(ctx)

		for _, rec := range set.Results() {
			key := strings.ToLower(p.recordKey(rec.Payload))
			input, ok := keyToInput[key]
			if !ok {
				c.config.Logger.Debug().
					Str("source", c.Name()).
					Str("key", key).
					Msg("result does not match any requested identifier")
				continue
			}
			out[input] = append(out[input], rec)
		}
	}
	return out
}

// FetchOne retrieves records for a single identifier, ignoring accumulated state.
func (c *Client) FetchOne(ctx context.Context, kind domain.Kind, value string) ([]domain.Record, error) {
	p, ok := kindPlans[kind]
	if !ok {
		return nil, fmt.Errorf("%s cannot resolve %s identifiers: %w", c.Name(), kind, domain.ErrUnresolvedKind)
	}

	q := c.newBatchQuery(p, []string{value})
	if err := q.Run(ctx); err != nil {
		return nil, err
	}
	return q.Results(), nil
}

// newBatchQuery builds one cursor-paginated query for a shard of ids.
func (c *Client) newBatchQuery(p plan, values []string) *sources.Query {
	filterValues := make([]string, 0, len(values))
	for _, v := range values {
		filterValues = append(filterValues, p.toFilter(v))
	}
	filter := p.filterType + ":" + strings.Join(filterValues, "|")

	return sources.NewQuery(sources.QueryConfig{
		Source:   c.Name(),
		Endpoint: p.endpoint,
		BuildURL: func(cursor string) (string, error) {
			base, err := url.Parse(c.config.BaseURL)
			if err != nil {
				return "", fmt.Errorf("parsing base URL: %w", err)
			}
			base.Path = "/" + p.endpoint

			query := url.Values{}
			query.Set("filter", filter)
			query.Set("per_page", fmt.Sprint(PerPage))
			query.Set("cursor", cursor)
			if c.config.Email != "" {
				query.Set("mailto", c.config.Email)
			}
			base.RawQuery = query.Encode()
			return base.String(), nil
		},
		Schema:         sources.SchemaFunc(c.decodePage),
		RecordID:       payloadID,
		Client:         c.httpClient,
		Sink:           c.sink,
		Metrics:        c.config.Metrics,
		Logger:         c.config.Logger,
		FlushThreshold: c.config.Tuning.FlushThreshold,
		MaxRetries:     c.config.Tuning.MaxRetries,
		RetryDelay:     c.config.Tuning.RetryDelay,
	})
}

// listResponse is the envelope every OpenAlex list endpoint returns.
type listResponse struct {
	Meta struct {
		Count      int    `json:"count"`
		NextCursor string `json:"next_cursor"`
	} `json:"meta"`
	Results []map[string]any `json:"results"`
}

// decodePage validates a list response payload and extracts its page.
func (c *Client) decodePage(data []byte) (*sources.Page, error) {
	var resp listResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &domain.SchemaError{Source: c.Name(), Endpoint: "list", Cause: err}
	}
	if resp.Results == nil {
		return nil, &domain.SchemaError{
			Source:   c.Name(),
			Endpoint: "list",
			Cause:    fmt.Errorf("response has no results field"),
		}
	}
	return &sources.Page{
		Records:    resp.Results,
		Count:      resp.Meta.Count,
		NextCursor: resp.Meta.NextCursor,
	}, nil
}

// payloadID extracts the OpenAlex entity id from a result payload.
func payloadID(payload map[string]any) string {
	id, _ := payload["id"].(string)
	return strings.TrimPrefix(id, "https://openalex.org/")
}

// payloadDOI extracts the bare lowercase DOI from a work payload.
func payloadDOI(payload map[string]any) string {
	doi, _ := payload["doi"].(string)
	if doi == "" {
		if ids, ok := payload["ids"].(map[string]any); ok {
			doi, _ = ids["doi"].(string)
		}
	}
	doi = strings.TrimPrefix(doi, doiPrefix)
	return strings.ToLower(strings.TrimSpace(doi))
}

// payloadPMID extracts the bare PubMed id from a work payload.
func payloadPMID(payload map[string]any) string {
	ids, ok := payload["ids"].(map[string]any)
	if !ok {
		return ""
	}
	pmid, _ := ids["pmid"].(string)
	return strings.TrimSpace(strings.TrimPrefix(pmid, pmidPrefix))
}

// payloadORCID extracts the canonical ORCID URL from an author payload.
func payloadORCID(payload map[string]any) string {
	orcid, _ := payload["orcid"].(string)
	if orcid == "" {
		if ids, ok := payload["ids"].(map[string]any); ok {
			orcid, _ = ids["orcid"].(string)
		}
	}
	return strings.TrimSpace(orcid)
}

// arxivToDOI maps a canonical arXiv id onto the DataCite DOI OpenAlex
// indexes it under.
func arxivToDOI(value string) string {
	id := strings.TrimPrefix(value, "arXiv:")
	return arxivDOIPrefix + strings.ToLower(id)
}
