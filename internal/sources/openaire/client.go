// Package openaire implements the OpenAIRE Graph API connector.
//
// OpenAIRE resolves DOIs, PubMed ids, arXiv ids, OpenAIRE ids, and ORCID
// iDs. Each identifier is retrieved with its own cursor-paginated query
// against the researchProducts collection, so attribution back to the input
// identifier is direct.
package openaire

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
	// DefaultBaseURL is the default OpenAIRE Graph API base URL.
	DefaultBaseURL = "https://api.openaire.eu/graph"

	// DefaultRateLimit is the default rate limit for requests per second.
	DefaultRateLimit = 5.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// PageSize is the page size requested from the API.
	PageSize = 50

	// researchProducts is the collection every supported kind resolves against.
	researchProducts = "researchProducts"
)

// kindParams maps each resolvable kind to the query parameter that carries it.
var kindParams = map[domain.Kind]string{
	domain.KindDOI:      "pid",
	domain.KindPMID:     "pid",
	domain.KindArxiv:    "pid",
	domain.KindOpenAIRE: "id",
	domain.KindORCID:    "authorOrcid",
}

// Config holds configuration for the OpenAIRE client.
type Config struct {
	// BaseURL is the Graph API base URL.
	// Defaults to https://api.openaire.eu/graph
	BaseURL string

	// APIKey is an optional registered-service token for higher rate limits.
	APIKey string

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

// Client implements the sources.Connector interface for OpenAIRE.
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

// New creates a new OpenAIRE client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := sources.NewHTTPClient(sources.HTTPClientConfig{
		Source:       "OpenAIRE",
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		BurstSize:    cfg.BurstSize,
		APIKey:       cfg.APIKey,
		APIKeyHeader: "Authorization",
		Metrics:      cfg.Metrics,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		ids:        make(map[string]domain.Kind),
	}
}

// NewWithHTTPClient creates a new OpenAIRE client with a custom HTTP client.
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
	return "OpenAIRE"
}

// Setup is a no-op kept for interface symmetry; authentication is handled
// per request by the HTTP client.
func (c *Client) Setup() {}

// SetSink streams records fetched by subsequent queries to the given sink at
// the flush threshold. Records still appear in Fetch results.
func (c *Client) SetSink(sink sources.Sink) { c.sink = sink }

// AddID accumulates an identifier for the next Fetch. Kinds OpenAIRE cannot
// resolve are ignored.
func (c *Client) AddID(kind domain.Kind, value string) {
	if _, ok := kindParams[kind]; !ok {
		return
	}
	c.ids[value] = kind
}

// Fetch retrieves records for every accumulated identifier. Each identifier
// runs its own query; an aborted query drops only its own identifier.
func (c *Client) Fetch(ctx context.Context) map[string][]domain.Record {
	out := make(map[string][]domain.Record)
	for value, kind := range c.ids {
		records, err := c.FetchOne(ctx, kind, value)
		if err != nil {
			c.config.Logger.Warn().
				Err(err).
				Str("source", c.Name()).
				Str("kind", string(kind)).
				Str("id", value).
				Msg("retrieval failed, skipping identifier")
			continue
		}
		if len(records) > 0 {
			out[value] = records
		}
	}
	return out
}

// FetchOne retrieves records for a single identifier, ignoring accumulated state.
func (c *Client) FetchOne(ctx context.Context, kind domain.Kind, value string) ([]domain.Record, error) {
	param, ok := kindParams[kind]
	if !ok {
		return nil, fmt.Errorf("%s cannot resolve %s identifiers: %w", c.Name(), kind, domain.ErrUnresolvedKind)
	}

	q := sources.NewQuery(sources.QueryConfig{
		Source:   c.Name(),
		Endpoint: researchProducts,
		BuildURL: func(cursor string) (string, error) {
			base, err := url.Parse(c.config.BaseURL)
			if err != nil {
				return "", fmt.Errorf("parsing base URL: %w", err)
			}
			base.Path = strings.TrimSuffix(base.Path, "/") + "/" + researchProducts

			query := url.Values{}
			query.Set(param, paramValue(kind, value))
			query.Set("pageSize", fmt.Sprint(PageSize))
			query.Set("cursor", cursor)
			base.RawQuery = query.Encode()
			return base.String(), nil
		},
		Schema:         sources.SchemaFunc(c.decodePage),
		RecordID:       recordID,
		Client:         c.httpClient,
		Sink:           c.sink,
		Metrics:        c.config.Metrics,
		Logger:         c.config.Logger,
		FlushThreshold: c.config.Tuning.FlushThreshold,
		MaxRetries:     c.config.Tuning.MaxRetries,
		RetryDelay:     c.config.Tuning.RetryDelay,
	})
	if err := q.Run(ctx); err != nil {
		return nil, err
	}
	return q.Results(), nil
}

// paramValue renders the canonical identifier value the way the Graph API
// expects it for its query parameter.
func paramValue(kind domain.Kind, value string) string {
	switch kind {
	case domain.KindArxiv:
		return strings.TrimPrefix(value, "arXiv:")
	case domain.KindORCID:
		return strings.TrimPrefix(value, "https://orcid.org/")
	default:
		return value
	}
}

// graphResponse is the envelope the Graph API wraps every collection in.
type graphResponse struct {
	Header struct {
		NumFound   int    `json:"numFound"`
		NextCursor string `json:"nextCursor"`
	} `json:"header"`
	Results []map[string]any `json:"results"`
}

// decodePage validates a Graph API payload and extracts its page.
func (c *Client) decodePage(data []byte) (*sources.Page, error) {
	var resp graphResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &domain.SchemaError{Source: c.Name(), Endpoint: researchProducts, Cause: err}
	}
	if resp.Results == nil {
		return nil, &domain.SchemaError{
			Source:   c.Name(),
			Endpoint: researchProducts,
			Cause:    fmt.Errorf("response has no results field"),
		}
	}
	return &sources.Page{
		Records:    resp.Results,
		Count:      resp.Header.NumFound,
		NextCursor: resp.Header.NextCursor,
	}, nil
}

// recordID extracts the OpenAIRE id from a research product payload.
func recordID(payload map[string]any) string {
	id, _ := payload["id"].(string)
	return id
}
