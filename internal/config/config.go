package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Usage     UsageConfig     `yaml:"usage"`
	CORS      CORSConfig      `yaml:"cors"`
	Worker    WorkerConfig    `yaml:"worker"`
	Log       LogConfig       `yaml:"log"`
	Export    ExportConfig    `yaml:"export"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
// URL is either a postgres:// DSN or a SQLite file path.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LLMConfig selects the chat provider.
type LLMConfig struct {
	Provider        string  `yaml:"provider"`
	Model           string  `yaml:"model"`
	Temperature     float64 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`
	OpenAIAPIKey    string  `yaml:"-"` // env-only, never in YAML
	AnthropicAPIKey string  `yaml:"-"` // env-only, never in YAML
}

// EmbeddingConfig contains embedding service settings.
// The OpenAI key is shared with LLMConfig.
type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// UsageConfig controls the free tier.
type UsageConfig struct {
	FreeLimit int `yaml:"free_limit"`
}

// CORSConfig lists the deployed frontend origin.
type CORSConfig struct {
	FrontendURL string `yaml:"frontend_url"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	AlertPollInterval         Duration `yaml:"alert_poll_interval"`
	EmbeddingRetryInterval    Duration `yaml:"embedding_retry_interval"`
	EmbeddingRetryMaxAttempts int      `yaml:"embedding_retry_max_attempts"`
	EmbeddingRetryBatchSize   int      `yaml:"embedding_retry_batch_size"`
	RetentionInterval         Duration `yaml:"retention_interval"`
	RetentionWindow           Duration `yaml:"retention_window"`
	AugmentationQueueSize     int      `yaml:"augmentation_queue_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ExportConfig contains S3-compatible storage settings for memory exports.
// An empty Bucket disables exports.
type ExportConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool    `yaml:"use_ssl"`
	URLExpiry Duration `yaml:"url_expiry"`
}

// Enabled reports whether exports have somewhere to go.
func (e ExportConfig) Enabled() bool {
	return e.Bucket != ""
}

// ProviderAPIKey returns the server key for the configured provider.
func (c *Config) ProviderAPIKey() string {
	if c.LLM.Provider == ProviderAnthropic {
		return c.LLM.AnthropicAPIKey
	}
	return c.LLM.OpenAIAPIKey
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// A .env file in the working directory is read first; its values never
// replace variables already set in the process environment.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := newDefaults()

	configPath := getEnv("PLANLEARN_CONFIG_PATH", "config/planlearn.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabaseURL resolves only the database location, with the same
// precedence as Load. Provider keys are not required.
func LoadDatabaseURL() (string, error) {
	if err := loadDotEnv(".env"); err != nil {
		return "", err
	}
	cfg := newDefaults()
	if err := loadYAMLFile(cfg, getEnv("PLANLEARN_CONFIG_PATH", "config/planlearn.yaml")); err != nil {
		return "", err
	}
	applyEnvOverrides(cfg)
	return cfg.Database.URL, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Port:        8000,
			ReadTimeout: Duration(30 * time.Second),
			// Chat responses stream for as long as the model talks
			WriteTimeout:    Duration(5 * time.Minute),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			URL: "data/planlearn.db",
		},
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Model:       "gpt-4.1-mini",
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Usage: UsageConfig{
			FreeLimit: 3,
		},
		Worker: WorkerConfig{
			AlertPollInterval:         Duration(5 * time.Second),
			EmbeddingRetryInterval:    Duration(5 * time.Minute),
			EmbeddingRetryMaxAttempts: 10,
			EmbeddingRetryBatchSize:   50,
			RetentionInterval:         Duration(24 * time.Hour),
			RetentionWindow:           Duration(90 * 24 * time.Hour),
			AugmentationQueueSize:     100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Export: ExportConfig{
			Region:    "us-east-1",
			UseSSL:    &useSSL,
			URLExpiry: Duration(15 * time.Minute),
		},
	}
}

// loadDotEnv populates the environment from a dotenv file if one exists.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server (PORT is the platform convention)
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("PLANLEARN_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("PLANLEARN_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("PLANLEARN_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}

	// LLM
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAIAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("PLANLEARN_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("PLANLEARN_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("PLANLEARN_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	// Usage
	if v := os.Getenv("FREE_USAGE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Usage.FreeLimit = n
		}
	}

	// CORS
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.CORS.FrontendURL = v
	}

	// Worker
	envDuration("PLANLEARN_ALERT_POLL_INTERVAL", &cfg.Worker.AlertPollInterval)
	envDuration("PLANLEARN_EMBEDDING_RETRY_INTERVAL", &cfg.Worker.EmbeddingRetryInterval)
	envDuration("PLANLEARN_RETENTION_INTERVAL", &cfg.Worker.RetentionInterval)
	envDuration("PLANLEARN_RETENTION_WINDOW", &cfg.Worker.RetentionWindow)
	if v := os.Getenv("PLANLEARN_EMBEDDING_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.EmbeddingRetryMaxAttempts = n
		}
	}

	// Log
	if v := os.Getenv("PLANLEARN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PLANLEARN_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Export storage
	if v := os.Getenv("PLANLEARN_S3_BUCKET"); v != "" {
		cfg.Export.Bucket = v
	}
	if v := os.Getenv("PLANLEARN_S3_ENDPOINT"); v != "" {
		cfg.Export.Endpoint = v
	}
	if v := os.Getenv("PLANLEARN_S3_REGION"); v != "" {
		cfg.Export.Region = v
	}
	if v := os.Getenv("PLANLEARN_S3_ACCESS_KEY"); v != "" {
		cfg.Export.AccessKey = v
	}
	if v := os.Getenv("PLANLEARN_S3_SECRET_KEY"); v != "" {
		cfg.Export.SecretKey = v
	}
	if v := os.Getenv("PLANLEARN_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Export.UseSSL = &useSSL
	}
	envDuration("PLANLEARN_S3_URL_EXPIRY", &cfg.Export.URLExpiry)
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks that required configuration values are set.
// In dev mode (PLANLEARN_DEV_MODE=true), provider key validation is skipped.
func (c *Config) validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}

	for _, iv := range []struct {
		name string
		d    Duration
	}{
		{"alert_poll_interval", c.Worker.AlertPollInterval},
		{"embedding_retry_interval", c.Worker.EmbeddingRetryInterval},
		{"retention_interval", c.Worker.RetentionInterval},
	} {
		if iv.d <= 0 {
			return fmt.Errorf("worker %s must be positive, got %s", iv.name, time.Duration(iv.d))
		}
	}
	if c.Worker.RetentionWindow < 0 {
		return fmt.Errorf("worker retention_window must not be negative, got %s", time.Duration(c.Worker.RetentionWindow))
	}

	if os.Getenv("PLANLEARN_DEV_MODE") == "true" {
		return nil
	}

	if c.LLM.Provider == ProviderAnthropic && c.LLM.AnthropicAPIKey == "" {
		return errors.New("ANTHROPIC_API_KEY is required")
	}
	if c.LLM.Provider == ProviderOpenAI && c.LLM.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
