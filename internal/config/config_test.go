// Package config provides configuration management for the metadata harvester.
package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)

	// Database defaults
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "harvester", cfg.Database.User)
	assert.Equal(t, "metadata_harvester", cfg.Database.Name)
	assert.Equal(t, SSLModeRequire, cfg.Database.SSLMode)
	assert.Equal(t, int32(25), cfg.Database.MaxConns)
	assert.Equal(t, int32(5), cfg.Database.MinConns)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Metrics defaults
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	// Source defaults
	assert.True(t, cfg.Sources.OpenAlex.Enabled)
	assert.Equal(t, "https://api.openalex.org", cfg.Sources.OpenAlex.BaseURL)
	assert.Equal(t, 10.0, cfg.Sources.OpenAlex.RateLimit)
	assert.True(t, cfg.Sources.OpenAIRE.Enabled)
	assert.True(t, cfg.Sources.Crossref.Enabled)
	assert.True(t, cfg.Sources.DataCite.Enabled)
	assert.True(t, cfg.Sources.PubMed.Enabled)
	assert.Equal(t, 3.0, cfg.Sources.PubMed.RateLimit)
	assert.False(t, cfg.Sources.Pure.Enabled) // Requires instance URL and API key
	assert.True(t, cfg.Sources.ORCID.Enabled)

	// Retrieval defaults
	assert.Equal(t, 200, cfg.Retrieval.FlushThreshold)
	assert.Equal(t, 10, cfg.Retrieval.MaxRetries)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("HARVESTER_SERVER_HTTP_PORT", "8888")
	t.Setenv("HARVESTER_DATABASE_HOST", "db.example.com")
	t.Setenv("HARVESTER_DATABASE_PORT", "5433")
	t.Setenv("HARVESTER_DATABASE_USER", "testuser")
	t.Setenv("HARVESTER_DATABASE_PASSWORD", "testpass")
	t.Setenv("HARVESTER_DATABASE_NAME", "testdb")
	t.Setenv("HARVESTER_DATABASE_SSL_MODE", "disable")
	t.Setenv("HARVESTER_LOGGING_LEVEL", "debug")
	t.Setenv("HARVESTER_SOURCES_OPENALEX_EMAIL", "librarian@example.edu")
	t.Setenv("HARVESTER_RETRIEVAL_MAX_RETRIES", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "testuser", cfg.Database.User)
	assert.Equal(t, "testpass", cfg.Database.Password)
	assert.Equal(t, "testdb", cfg.Database.Name)
	assert.Equal(t, SSLModeDisable, cfg.Database.SSLMode)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "librarian@example.edu", cfg.Sources.OpenAlex.Email)
	assert.Equal(t, 3, cfg.Retrieval.MaxRetries)
}

func TestLoad_SecretsFromEnvironmentOnly(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("HARVESTER_SOURCES_PUBMED_API_KEY", "ncbi-key")
	t.Setenv("HARVESTER_SOURCES_OPENAIRE_API_KEY", "oaire-token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ncbi-key", cfg.Sources.PubMed.APIKey)
	assert.Equal(t, "oaire-token", cfg.Sources.OpenAIRE.APIKey)
	assert.Empty(t, cfg.Sources.Pure.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectedErr string
	}{
		{
			name:        "invalid HTTP port",
			modifyFunc:  func(c *Config) { c.Server.HTTPPort = 0 },
			expectedErr: "invalid HTTP port",
		},
		{
			name:        "missing database host",
			modifyFunc:  func(c *Config) { c.Database.Host = "" },
			expectedErr: "database host is required",
		},
		{
			name:        "missing database name",
			modifyFunc:  func(c *Config) { c.Database.Name = "" },
			expectedErr: "database name is required",
		},
		{
			name: "max conns below min conns",
			modifyFunc: func(c *Config) {
				c.Database.MaxConns = 2
				c.Database.MinConns = 10
			},
			expectedErr: "must be >= min_conns",
		},
		{
			name:        "invalid log level",
			modifyFunc:  func(c *Config) { c.Logging.Level = "verbose" },
			expectedErr: "invalid log level",
		},
		{
			name: "pure enabled without base url",
			modifyFunc: func(c *Config) {
				c.Sources.Pure.Enabled = true
				c.Sources.Pure.BaseURL = ""
			},
			expectedErr: "sources.pure.base_url is required",
		},
		{
			name: "pure enabled without api key",
			modifyFunc: func(c *Config) {
				c.Sources.Pure.Enabled = true
				c.Sources.Pure.BaseURL = "https://ris.example.edu/ws/api/524"
				c.Sources.Pure.APIKey = ""
			},
			expectedErr: "HARVESTER_SOURCES_PURE_API_KEY",
		},
		{
			name:        "non-positive flush threshold",
			modifyFunc:  func(c *Config) { c.Retrieval.FlushThreshold = 0 },
			expectedErr: "flush_threshold must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			cfg, err := Load()
			require.NoError(t, err)

			tt.modifyFunc(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "harvester",
		Password: "p@ss/word",
		Name:     "metadata_harvester",
		SSLMode:  SSLModeDisable,
	}

	dsn := cfg.DSN()
	assert.Contains(t, dsn, "postgres://harvester:")
	assert.Contains(t, dsn, "@localhost:5432/metadata_harvester")
	assert.Contains(t, dsn, "sslmode=disable")
	// Special characters in credentials must be escaped.
	assert.NotContains(t, dsn, "p@ss/word")
}

func TestServerConfig_HTTPAddress(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", HTTPPort: 8080}
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPAddress())
}

// clearEnvVars removes all HARVESTER_ environment variables for the duration
// of the test.
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "HARVESTER_") {
			continue
		}
		key := strings.SplitN(env, "=", 2)[0]
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}
