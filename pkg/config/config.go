// Package config loads credentials and service settings for ingestion jobs
// from a TOML file with environment variable overrides.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "socrata-ingest.toml"

// Config is the full tool configuration.
type Config struct {
	Socrata SocrataConfig `toml:"socrata"`
	Storage StorageConfig `toml:"storage"`
	Redis   RedisConfig   `toml:"redis"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// SocrataConfig holds data API credentials.
type SocrataConfig struct {
	APIKeyID     string `toml:"api_key_id"`
	APIKeySecret string `toml:"api_key_secret"`
	AppToken     string `toml:"app_token"`
	UserAgent    string `toml:"user_agent"`
}

// StorageConfig holds object store connection settings.
type StorageConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`

	// SecretKeyFile names a file whose first line is the secret key. Used
	// when SecretKey is empty.
	SecretKeyFile string `toml:"secret_key_file"`

	UseSSL bool   `toml:"use_ssl"`
	Region string `toml:"region"`
}

// RedisConfig enables the shared rate limit cooldown when Addr is set.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// MetricsConfig configures how batch metrics leave the process.
type MetricsConfig struct {
	PushgatewayURL string `toml:"pushgateway_url"`
	ListenAddr     string `toml:"listen_addr"`
}

// Credentials is the immutable set of secrets handed to the fetcher and
// the uploader.
type Credentials struct {
	APIKeyID         string
	APIKeySecret     string
	AppToken         string
	StorageAccessKey string
	StorageSecretKey string
}

// HasAPIKey reports whether both halves of the data API key are present.
func (c Credentials) HasAPIKey() bool {
	return c.APIKeyID != "" && c.APIKeySecret != ""
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Socrata: SocrataConfig{
			UserAgent: "socrata-ingest/0.1.0",
		},
		Storage: StorageConfig{
			Endpoint: "localhost:9000",
			Region:   "us-east-1",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path, falling back to defaults when the file does not exist,
// then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg = cfg.applyEnv(os.Getenv)

	if cfg.Storage.SecretKey == "" && cfg.Storage.SecretKeyFile != "" {
		key, err := readFirstLine(cfg.Storage.SecretKeyFile)
		if err != nil {
			return cfg, fmt.Errorf("read storage secret key file: %w", err)
		}
		cfg.Storage.SecretKey = key
	}

	return cfg, nil
}

// applyEnv overrides fields from environment variables that are set.
func (c Config) applyEnv(getenv func(string) string) Config {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	str("SOCRATA_API_KEY_ID", &c.Socrata.APIKeyID)
	str("SOCRATA_API_KEY_SECRET", &c.Socrata.APIKeySecret)
	str("SOCRATA_APP_TOKEN", &c.Socrata.AppToken)
	str("USER_AGENT", &c.Socrata.UserAgent)

	str("STORAGE_ENDPOINT", &c.Storage.Endpoint)
	str("STORAGE_ACCESS_KEY", &c.Storage.AccessKey)
	str("STORAGE_SECRET_KEY", &c.Storage.SecretKey)
	str("STORAGE_SECRET_KEY_FILE", &c.Storage.SecretKeyFile)
	str("STORAGE_REGION", &c.Storage.Region)
	if v := getenv("STORAGE_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Storage.UseSSL = b
		}
	}

	str("REDIS_URL", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)

	str("LOG_LEVEL", &c.Log.Level)
	str("PUSHGATEWAY_URL", &c.Metrics.PushgatewayURL)
	str("METRICS_ADDR", &c.Metrics.ListenAddr)

	return c
}

// Credentials extracts the secrets.
func (c Config) Credentials() Credentials {
	return Credentials{
		APIKeyID:         c.Socrata.APIKeyID,
		APIKeySecret:     c.Socrata.APIKeySecret,
		AppToken:         c.Socrata.AppToken,
		StorageAccessKey: c.Storage.AccessKey,
		StorageSecretKey: c.Storage.SecretKey,
	}
}

// Validate checks that the data API key is complete and, when uploads are
// enabled, that storage credentials are present.
func (c Config) Validate(requireStorage bool) error {
	var problems []string

	if c.Socrata.APIKeyID == "" {
		problems = append(problems, "socrata.api_key_id is required")
	}
	if c.Socrata.APIKeySecret == "" {
		problems = append(problems, "socrata.api_key_secret is required")
	}

	if requireStorage {
		if c.Storage.Endpoint == "" {
			problems = append(problems, "storage.endpoint is required")
		}
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			problems = append(problems, "storage.access_key and storage.secret_key are required")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func readFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%s is empty", path)
}
