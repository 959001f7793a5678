// Package datacite implements the DataCite connector.
//
// DataCite resolves DOIs only, one lookup per identifier against the
// /dois/{doi} endpoint of the REST API.
package datacite

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
	// DefaultBaseURL is the default DataCite REST API base URL.
	DefaultBaseURL = "https://api.datacite.org"

	// DefaultRateLimit is the default rate limit for requests per second.
	DefaultRateLimit = 5.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second
)

// Config holds configuration for the DataCite client.
type Config struct {
	// BaseURL is the DataCite REST API base URL.
	// Defaults to https://api.datacite.org
	BaseURL string

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
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
}

// Client implements the sources.Connector interface for DataCite.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
	ids        map[string]domain.Kind
}

var _ sources.Connector = (*Client)(nil)

// New creates a new DataCite client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := sources.NewHTTPClient(sources.HTTPClientConfig{
		Source:    "DataCite",
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

// NewWithHTTPClient creates a new DataCite client with a custom HTTP client.
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
	return "DataCite"
}

// Setup is a no-op; the public REST API needs no authentication for reads.
func (c *Client) Setup() {}

// AddID accumulates an identifier for the next Fetch. Only DOIs are accepted.
func (c *Client) AddID(kind domain.Kind, value string) {
	if kind != domain.KindDOI {
		return
	}
	c.ids[value] = kind
}

// Fetch retrieves records for every accumulated DOI. A failed lookup drops
// only its own identifier.
func (c *Client) Fetch(ctx context.Context) map[string][]domain.Record {
	out := make(map[string][]domain.Record)
	for value, kind := range c.ids {
		records, err := c.FetchOne(ctx, kind, value)
		if err != nil {
			c.config.Logger.Warn().
				Err(err).
				Str("source", c.Name()).
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

// FetchOne retrieves the DOI record registered for a single DOI.
func (c *Client) FetchOne(ctx context.Context, kind domain.Kind, value string) ([]domain.Record, error) {
	if kind != domain.KindDOI {
		return nil, fmt.Errorf("%s cannot resolve %s identifiers: %w", c.Name(), kind, domain.ErrUnresolvedKind)
	}

	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/dois/" + value

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.api+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("doi %s: %w", value, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, &domain.ExternalAPIError{
			Source:     c.Name(),
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	// JSON:API envelope: the record lives under data.attributes.
	var envelope struct {
		Data struct {
			ID         string         `json:"id"`
			Attributes map[string]any `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&envelope); err != nil {
		return nil, &domain.SchemaError{Source: c.Name(), Endpoint: "dois", Cause: err}
	}
	if envelope.Data.Attributes == nil {
		return nil, &domain.SchemaError{
			Source:   c.Name(),
			Endpoint: "dois",
			Cause:    errors.New("response envelope missing data.attributes"),
		}
	}

	naturalID := envelope.Data.ID
	if naturalID == "" {
		naturalID = value
	}

	return []domain.Record{{
		NaturalID:   strings.ToLower(naturalID),
		Source:      c.Name(),
		Entity:      "dois",
		Payload:     envelope.Data.Attributes,
		RetrievedAt: time.Now().UTC(),
	}}, nil
}
