// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.penna/config.yaml, or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, model, generation limits
//   - Article corpus: endpoint and credential for the similarity-search
//     service
//   - Rewrite: style exemplar used by the rewrite tool
//   - Storage: PostgreSQL connection for the chat archive
//   - Serve: HTTP listen address
//
// Sensitive values (database password, corpus token) are masked in
// MarshalJSON and String so they never leak into logs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel errors returned by Validate. Check with errors.Is.
var (
	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidSearchEndpoint indicates the corpus search endpoint is not a
	// valid http(s) URL.
	ErrInvalidSearchEndpoint = errors.New("invalid search endpoint")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidRateLimit indicates the model rate limit is not positive.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider  string `mapstructure:"provider" json:"provider"`     // "gemini" (default) or "ollama"
	ModelName string `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash", "llama3.3"

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Persona configuration for the system instruction
	CompanyName string `mapstructure:"company_name" json:"company_name"`

	// Article corpus similarity-search backend
	SearchEndpoint  string `mapstructure:"search_endpoint" json:"search_endpoint"`
	SearchToken     string `mapstructure:"search_token" json:"search_token"` // SENSITIVE: masked in MarshalJSON
	SearchTimeoutMS int    `mapstructure:"search_timeout_ms" json:"search_timeout_ms"`

	// Rewrite tool configuration
	StyleExemplarPath string `mapstructure:"style_exemplar_path" json:"style_exemplar_path"` // empty = embedded default

	// Model rate limiting (requests per second, burst)
	ModelRateLimit float64 `mapstructure:"model_rate_limit" json:"model_rate_limit"`
	ModelRateBurst int     `mapstructure:"model_rate_burst" json:"model_rate_burst"`

	// OwnerID identifies the user conversations are archived for.
	// Empty means no authenticated owner; archiving is skipped.
	OwnerID string `mapstructure:"owner_id" json:"owner_id"`

	// Storage configuration for the chat archive
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve mode
	HTTPAddr string `mapstructure:"http_addr" json:"http_addr"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".penna")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL takes highest priority for PostgreSQL settings.
	if err := cfg.applyDatabaseURL(os.Getenv("DATABASE_URL")); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("company_name", "RingCentral")

	v.SetDefault("search_endpoint", "http://localhost:8787/v1/simple-search")
	v.SetDefault("search_timeout_ms", 10000)

	v.SetDefault("model_rate_limit", 10.0)
	v.SetDefault("model_rate_burst", 30)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "penna")
	v.SetDefault("postgres_password", "penna_dev_password")
	v.SetDefault("postgres_db_name", "penna")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("http_addr", "127.0.0.1:8080")
}

// bindEnvVariables binds environment variable overrides explicitly.
// GEMINI_API_KEY is read directly by the Genkit plugin, not via viper.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "PENNA_PROVIDER")
	mustBind("model_name", "PENNA_MODEL_NAME")
	mustBind("ollama_host", "PENNA_OLLAMA_HOST")
	mustBind("search_endpoint", "PENNA_SEARCH_ENDPOINT")
	mustBind("search_token", "PENNA_SEARCH_TOKEN")
	mustBind("style_exemplar_path", "PENNA_STYLE_EXEMPLAR")
	mustBind("owner_id", "PENNA_OWNER")
	mustBind("http_addr", "PENNA_HTTP_ADDR")
}

// applyDatabaseURL overrides PostgreSQL settings from a postgres:// URL.
// An empty URL is a no-op.
func (c *Config) applyDatabaseURL(raw string) error {
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if port := u.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", port, err)
		}
		c.PostgresPort = p
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// Validate checks configuration values and fails fast on errors.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderOllama, "":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}

	if c.SearchEndpoint != "" {
		u, err := url.Parse(c.SearchEndpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidSearchEndpoint, c.SearchEndpoint)
		}
	}

	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.ModelRateLimit <= 0 || c.ModelRateBurst <= 0 {
		return fmt.Errorf("%w: limit=%v burst=%d", ErrInvalidRateLimit,
			c.ModelRateLimit, c.ModelRateBurst)
	}

	return nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	if c.Provider == ProviderOllama {
		return ProviderOllama + "/" + c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// PostgresURL returns the postgres:// URL used by golang-migrate.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost, c.PostgresPort, c.PostgresDBName, c.PostgresSSLMode)
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "********"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.SearchToken = maskSecret(a.SearchToken)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
