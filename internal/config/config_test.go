package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func withEnv(t *testing.T, values map[string]string) {
	t.Helper()
	original := map[string]*string{}
	for key, value := range values {
		if old, ok := os.LookupEnv(key); ok {
			v := old
			original[key] = &v
		} else {
			original[key] = nil
		}
		if value == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, value)
		}
	}
	t.Cleanup(func() {
		for key, value := range original {
			if value != nil {
				os.Setenv(key, *value)
			} else {
				os.Unsetenv(key)
			}
		}
	})
}

func TestParse_Defaults(t *testing.T) {
	withEnv(t, map[string]string{
		"PORT":           "",
		"STORE_DRIVER":   "",
		"DYNAMODB_TABLE": "",
		"CACHE_TTL":      "",
	})

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port '8080', got '%s'", cfg.Port)
	}
	if cfg.StoreDriver != "sqlite" {
		t.Errorf("Expected default store driver 'sqlite', got '%s'", cfg.StoreDriver)
	}
	if cfg.DynamoTable != "BenchmarkMetrics" {
		t.Errorf("Expected default table 'BenchmarkMetrics', got '%s'", cfg.DynamoTable)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("Expected default cache TTL 30s, got %v", cfg.CacheTTL)
	}
}

func TestParse_ProviderCredentials(t *testing.T) {
	withEnv(t, map[string]string{
		"GROQ_API_KEY":          "gsk-test",
		"CLOUDFLARE_ACCOUNT_ID": "acct",
		"CLOUDFLARE_AI_TOKEN":   "cf-token",
		"STORE_DRIVER":          "memory",
		"STORE_WRITE_TIME_OUT":  "2s",
	})

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.GroqKey != "gsk-test" {
		t.Errorf("Expected Groq key 'gsk-test', got '%s'", cfg.GroqKey)
	}
	if cfg.CloudflareAccount != "acct" || cfg.CloudflareToken != "cf-token" {
		t.Errorf("Expected Cloudflare credentials to be parsed, got %q/%q", cfg.CloudflareAccount, cfg.CloudflareToken)
	}
	if cfg.StoreWriteTimeout != 2*time.Second {
		t.Errorf("Expected write timeout 2s, got %v", cfg.StoreWriteTimeout)
	}
}

func TestParse_InvalidStoreDriver(t *testing.T) {
	withEnv(t, map[string]string{"STORE_DRIVER": "mongodb"})

	if _, err := Parse(); err == nil {
		t.Fatal("Expected error for unsupported store driver")
	}
}

func TestLoad_DotenvFile(t *testing.T) {
	withEnv(t, map[string]string{"HYPERBOLIC_API": "", "STORE_DRIVER": ""})

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("HYPERBOLIC_API=hyp-key\n"), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("HYPERBOLIC_API") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.HyperbolicKey != "hyp-key" {
		t.Errorf("Expected Hyperbolic key from dotenv, got '%s'", cfg.HyperbolicKey)
	}
}

func TestLoad_MissingDotenvIsIgnored(t *testing.T) {
	withEnv(t, map[string]string{"STORE_DRIVER": ""})

	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("Expected missing .env to be ignored, got: %v", err)
	}
}
