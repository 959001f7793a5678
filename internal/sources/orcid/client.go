// Package orcid implements the connector for the public ORCID registry.
//
// The registry resolves ORCID iDs only, one /v3.0/{orcid}/record lookup per
// identifier.
package orcid

import (
	"context"
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
	// DefaultBaseURL is the public (unauthenticated) ORCID API base URL.
	DefaultBaseURL = "https://pub.orcid.org/v3.0"

	// DefaultRateLimit is the default rate limit for requests per second.
	// The public API allows up to 12 req/sec.
	DefaultRateLimit = 8.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 8

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// urlPrefix is the canonical ORCID URL prefix on identifier values.
	urlPrefix = "https://orcid.org/"
)

// Config holds configuration for the ORCID registry client.
type Config struct {
	// BaseURL is the ORCID API base URL.
	// Defaults to https://pub.orcid.org/v3.0
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

// Client implements the sources.Connector interface for the ORCID registry.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
	ids        map[string]domain.Kind
}

var _ sources.Connector = (*Client)(nil)

// New creates a new ORCID registry client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := sources.NewHTTPClient(sources.HTTPClientConfig{
		Source:    "ORCID",
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

// NewWithHTTPClient creates a new ORCID registry client with a custom HTTP
// client. This is useful for testing with mock servers.
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
	return "ORCID"
}

// Setup is a no-op; the public API needs no authentication.
func (c *Client) Setup() {}

// AddID accumulates an identifier for the next Fetch. Only ORCID iDs are
// accepted.
func (c *Client) AddID(kind domain.Kind, value string) {
	if kind != domain.KindORCID {
		return
	}
	c.ids[value] = kind
}

// Fetch retrieves the registry record for every accumulated ORCID iD. A
// failed lookup drops only its own identifier.
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

// FetchOne retrieves the registry record for a single ORCID iD. The
// canonical URL form is accepted; the path segment uses the bare id.
func (c *Client) FetchOne(ctx context.Context, kind domain.Kind, value string) ([]domain.Record, error) {
	if kind != domain.KindORCID {
		return nil, fmt.Errorf("%s cannot resolve %s identifiers: %w", c.Name(), kind, domain.ErrUnresolvedKind)
	}

	bare := strings.TrimPrefix(value, urlPrefix)

	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/" + bare + "/record"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("orcid %s: %w", bare, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, &domain.ExternalAPIError{
			Source:     c.Name(),
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	var payload map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&payload); err != nil {
		return nil, &domain.SchemaError{Source: c.Name(), Endpoint: "record", Cause: err}
	}

	return []domain.Record{{
		NaturalID:   bare,
		Source:      c.Name(),
		Entity:      "record",
		Payload:     payload,
		RetrievedAt: time.Now().UTC(),
	}}, nil
}
