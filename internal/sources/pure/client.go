// Package pure implements the connector for an institutional Pure (Elsevier
// CRIS) instance.
//
// Pure resolves its own research-output ids directly and DOIs through the
// search endpoint. The instance URL and api-key are deployment-specific and
// must be configured.
package pure

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
	// DefaultRateLimit is the default rate limit for requests per second.
	DefaultRateLimit = 5.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// searchPageSize caps the number of hits returned for a DOI search.
	searchPageSize = 20
)

// Config holds configuration for the Pure client.
type Config struct {
	// BaseURL is the instance's REST API base URL, e.g.
	// https://ris.utwente.nl/ws/api/524
	BaseURL string

	// APIKey authenticates against the instance, sent in the api-key header.
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

// Client implements the sources.Connector interface for Pure.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
	ids        map[string]domain.Kind
}

var _ sources.Connector = (*Client)(nil)

// New creates a new Pure client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := sources.NewHTTPClient(sources.HTTPClientConfig{
		Source:       "Pure",
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		BurstSize:    cfg.BurstSize,
		APIKey:       cfg.APIKey,
		APIKeyHeader: "api-key",
		Metrics:      cfg.Metrics,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		ids:        make(map[string]domain.Kind),
	}
}

// NewWithHTTPClient creates a new Pure client with a custom HTTP client.
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
	return "Pure"
}

// Setup is a no-op; the api-key header is set per request by the HTTP client.
func (c *Client) Setup() {}

// AddID accumulates an identifier for the next Fetch. Pure ids and DOIs are
// accepted.
func (c *Client) AddID(kind domain.Kind, value string) {
	if kind != domain.KindPure && kind != domain.KindDOI {
		return
	}
	c.ids[value] = kind
}

// Fetch retrieves records for every accumulated identifier. A failed lookup
// drops only its own identifier.
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

// FetchOne retrieves records for a single identifier. Pure ids resolve via a
// direct lookup, DOIs via the research-outputs search endpoint.
func (c *Client) FetchOne(ctx context.Context, kind domain.Kind, value string) ([]domain.Record, error) {
	switch kind {
	case domain.KindPure:
		return c.fetchByID(ctx, value)
	case domain.KindDOI:
		return c.searchByDOI(ctx, value)
	default:
		return nil, fmt.Errorf("%s cannot resolve %s identifiers: %w", c.Name(), kind, domain.ErrUnresolvedKind)
	}
}

// fetchByID retrieves one research output by its Pure id.
func (c *Client) fetchByID(ctx context.Context, id string) ([]domain.Record, error) {
	endpoint, err := c.endpointURL("/research-outputs/"+id, nil)
	if err != nil {
		return nil, err
	}

	payload, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return []domain.Record{c.record(id, payload)}, nil
}

// searchByDOI retrieves the research outputs matching a DOI.
func (c *Client) searchByDOI(ctx context.Context, doi string) ([]domain.Record, error) {
	query := url.Values{}
	query.Set("q", doi)
	query.Set("size", fmt.Sprint(searchPageSize))
	endpoint, err := c.endpointURL("/research-outputs", query)
	if err != nil {
		return nil, err
	}

	payload, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	items, ok := payload["items"].([]any)
	if !ok {
		return nil, &domain.SchemaError{
			Source:   c.Name(),
			Endpoint: "research-outputs",
			Cause:    errors.New("search response missing items list"),
		}
	}

	records := make([]domain.Record, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := entry["uuid"].(string)
		records = append(records, c.record(id, entry))
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("doi %s: %w", doi, domain.ErrNotFound)
	}
	return records, nil
}

// endpointURL joins a path and query onto the configured instance URL.
func (c *Client) endpointURL(path string, query url.Values) (string, error) {
	if c.config.BaseURL == "" {
		return "", errors.New("pure base URL is not configured")
	}
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + path
	if query != nil {
		base.RawQuery = query.Encode()
	}
	return base.String(), nil
}

// get issues one authenticated GET and decodes the JSON object response.
func (c *Client) get(ctx context.Context, endpoint string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
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
		return nil, domain.ErrNotFound
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
		return nil, &domain.SchemaError{Source: c.Name(), Endpoint: "research-outputs", Cause: err}
	}
	return payload, nil
}

// record wraps a decoded research output into a domain record.
func (c *Client) record(id string, payload map[string]any) domain.Record {
	if id == "" {
		id, _ = payload["uuid"].(string)
	}
	return domain.Record{
		NaturalID:   id,
		Source:      c.Name(),
		Entity:      "research-outputs",
		Payload:     payload,
		RetrievedAt: time.Now().UTC(),
	}
}
