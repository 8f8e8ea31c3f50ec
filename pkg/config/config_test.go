package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Socrata.UserAgent == "" {
		t.Error("Socrata.UserAgent should have a default")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Region != "us-east-1" {
		t.Errorf("Storage.Region = %q, want us-east-1", cfg.Storage.Region)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "cfg.toml", `
[socrata]
api_key_id = "key-id"
api_key_secret = "key-secret"

[storage]
endpoint = "minio:9000"
access_key = "crimeinchicago"
secret_key = "sas"
use_ssl = true

[redis]
addr = "redis:6379"

[log]
level = "debug"
pretty = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	creds := cfg.Credentials()
	if creds.APIKeyID != "key-id" || creds.APIKeySecret != "key-secret" {
		t.Errorf("api key = %q/%q", creds.APIKeyID, creds.APIKeySecret)
	}
	if creds.StorageAccessKey != "crimeinchicago" || creds.StorageSecretKey != "sas" {
		t.Errorf("storage key = %q/%q", creds.StorageAccessKey, creds.StorageSecretKey)
	}
	if !cfg.Storage.UseSSL {
		t.Error("Storage.UseSSL should be true")
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Pretty {
		t.Errorf("Log = %+v", cfg.Log)
	}
	// Keys not present in the file keep their defaults.
	if cfg.Storage.Region != "us-east-1" {
		t.Errorf("Storage.Region = %q, want default", cfg.Storage.Region)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeFile(t, "bad.toml", "[socrata\napi_key_id = ")
	if _, err := Load(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "cfg.toml", `
[socrata]
api_key_id = "from-file"
`)
	t.Setenv("SOCRATA_API_KEY_ID", "from-env")
	t.Setenv("STORAGE_USE_SSL", "true")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Socrata.APIKeyID != "from-env" {
		t.Errorf("APIKeyID = %q, want from-env", cfg.Socrata.APIKeyID)
	}
	if !cfg.Storage.UseSSL {
		t.Error("UseSSL should be set from env")
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestLoad_SecretKeyFile(t *testing.T) {
	keyPath := writeFile(t, "sas.config", "sv=2022&sig=abc\nignored\n")
	path := writeFile(t, "cfg.toml", "[storage]\nsecret_key_file = \""+filepath.ToSlash(keyPath)+"\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.SecretKey != "sv=2022&sig=abc" {
		t.Errorf("SecretKey = %q", cfg.Storage.SecretKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name           string
		config         Config
		requireStorage bool
		errContains    string
	}{
		{
			name: "complete",
			config: Config{
				Socrata: SocrataConfig{APIKeyID: "id", APIKeySecret: "secret"},
				Storage: StorageConfig{Endpoint: "e", AccessKey: "a", SecretKey: "s"},
			},
			requireStorage: true,
		},
		{
			name:        "missing api key",
			config:      Config{Socrata: SocrataConfig{APIKeyID: "id"}},
			errContains: "api_key_secret",
		},
		{
			name: "storage not required",
			config: Config{
				Socrata: SocrataConfig{APIKeyID: "id", APIKeySecret: "secret"},
			},
			requireStorage: false,
		},
		{
			name: "missing storage key",
			config: Config{
				Socrata: SocrataConfig{APIKeyID: "id", APIKeySecret: "secret"},
				Storage: StorageConfig{Endpoint: "e", AccessKey: "a"},
			},
			requireStorage: true,
			errContains:    "storage.access_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate(tt.requireStorage)
			if tt.errContains == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.errContains)
			}
		})
	}
}

func TestCredentials_HasAPIKey(t *testing.T) {
	if (Credentials{APIKeyID: "id"}).HasAPIKey() {
		t.Error("HasAPIKey() should be false without secret")
	}
	if !(Credentials{APIKeyID: "id", APIKeySecret: "s"}).HasAPIKey() {
		t.Error("HasAPIKey() should be true")
	}
}
