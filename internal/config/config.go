// Package config provides configuration loading from environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// RootDir is the workspace holding state.json and all result folders.
	// Defaults to ~/BoltzPredictions when unset.
	RootDir string `envconfig:"ROOT_DIR"`

	BoltzBaseURL string `envconfig:"BOLTZ_BASE_URL" default:"https://lab.boltz.bio"`
	// BoltzAPIKeyFile points at a mounted secret holding the bearer
	// credential. The key may also arrive later via the settings API and
	// is then persisted with the state snapshot.
	BoltzAPIKeyFile string `envconfig:"BOLTZ_API_KEY_FILE"`

	// LocalAPIKey protects the local HTTP API. Empty disables auth.
	LocalAPIKey     string `envconfig:"LOCAL_API_KEY"`
	LocalAPIKeyFile string `envconfig:"LOCAL_API_KEY_FILE"`

	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"10s"`
	PollTimeout       time.Duration `envconfig:"POLL_TIMEOUT" default:"2h"`
	PollConcurrency   int           `envconfig:"POLL_CONCURRENCY" default:"10"`
	SubmitConcurrency int           `envconfig:"SUBMIT_CONCURRENCY" default:"5"`

	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"2s"`

	// CallbackURL receives webhook notifications for status changes.
	// Empty disables delivery; events are still counted.
	CallbackURL        string        `envconfig:"CALLBACK_URL"`
	CallbackSigningKey string        `envconfig:"CALLBACK_SIGNING_KEY"`
	NotifyBufferSize   int           `envconfig:"NOTIFY_BUFFER_SIZE" default:"1000"`
	NotifyWorkers      int           `envconfig:"NOTIFY_WORKERS" default:"4"`
	NotifyHTTPTimeout  time.Duration `envconfig:"NOTIFY_HTTP_TIMEOUT" default:"10s"`

	ShutdownDrainWait time.Duration `envconfig:"SHUTDOWN_DRAIN_WAIT" default:"5s"`
}

// Load reads configuration from the environment (and a .env file when
// present) and resolves file-based secrets.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}

	if c.RootDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		c.RootDir = filepath.Join(home, "BoltzPredictions")
	}
	if c.LocalAPIKey == "" {
		c.LocalAPIKey = ReadSecretFile(c.LocalAPIKeyFile)
	}

	return &c, nil
}

// BootstrapAPIKey returns the bearer credential from the secret file, or
// empty when none is configured.
func (c *Config) BootstrapAPIKey() string {
	return ReadSecretFile(c.BoltzAPIKeyFile)
}

// ReadSecretFile reads a secret from a file path.
// Works with Docker secrets (/run/secrets/) and mounted secret volumes.
func ReadSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
