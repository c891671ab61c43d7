package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice-cheer daemon
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8787"`

	// Voice synthesis endpoint configuration
	SynthesisURL         string          `envconfig:"SYNTHESIS_URL" default:"https://api.tts.quest/v3/voicevox/synthesis"`
	SynthesisMaxAttempts int             `envconfig:"SYNTHESIS_MAX_ATTEMPTS" default:"3"`     // Total attempts including the first
	SynthesisBackoff     []time.Duration `envconfig:"SYNTHESIS_BACKOFF" default:"1s,3s"`      // Wait before attempt 2, 3, ...
	SynthesisReadyDelay  time.Duration   `envconfig:"SYNTHESIS_READY_DELAY" default:"2s"`     // Settle time before the readiness probe
	SynthesisTimeout     time.Duration   `envconfig:"SYNTHESIS_TIMEOUT" default:"30s"`        // Per-request timeout
	ProbeTimeout         time.Duration   `envconfig:"PROBE_TIMEOUT" default:"10s"`            // Readiness probe timeout

	// Audio delivery configuration
	DownloadTimeout      time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"30s"`
	DownloadMaxRedirects int           `envconfig:"DOWNLOAD_MAX_REDIRECTS" default:"5"`
	ScratchDir           string        `envconfig:"SCRATCH_DIR" default:""` // Empty means <tmp>/voice-cheer
	CleanupDelay         time.Duration `envconfig:"CLEANUP_DELAY" default:"5s"` // Grace period before deleting played files

	// Catalog configuration
	CatalogPath  string `envconfig:"CATALOG_PATH" default:""`               // Empty means the embedded catalog
	CatalogWatch bool   `envconfig:"CATALOG_WATCH" default:"true"`          // Reload the catalog file on change
	ImageBaseURL string `envconfig:"IMAGE_BASE_URL" default:"/characters/"` // Prefix for character image URIs

	// Panel transport configuration
	PanelCommandRate  float64 `envconfig:"PANEL_COMMAND_RATE" default:"5"`   // Commands per second per panel
	PanelCommandBurst int     `envconfig:"PANEL_COMMAND_BURST" default:"10"` // Burst allowance per panel

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failed syntheses before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "voice-cheer")
	}

	return &cfg, nil
}

// Validate checks values that envconfig cannot express as tags
func (c *Config) Validate() error {
	if c.SynthesisURL == "" {
		return fmt.Errorf("SYNTHESIS_URL is required")
	}
	if c.SynthesisMaxAttempts < 1 {
		return fmt.Errorf("SYNTHESIS_MAX_ATTEMPTS must be at least 1, got %d", c.SynthesisMaxAttempts)
	}
	if c.DownloadMaxRedirects < 0 {
		return fmt.Errorf("DOWNLOAD_MAX_REDIRECTS must not be negative, got %d", c.DownloadMaxRedirects)
	}
	if c.PanelCommandRate <= 0 {
		return fmt.Errorf("PANEL_COMMAND_RATE must be positive, got %v", c.PanelCommandRate)
	}
	return nil
}

// CircuitBreakerReset returns the breaker reset timeout as a duration
func (c *Config) CircuitBreakerReset() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
