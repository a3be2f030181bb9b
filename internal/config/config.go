package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

// Config holds process-level settings read from the environment
type Config struct {
	Port    string `env:"PORT" envDefault:"8080"`
	GinMode string `env:"GIN_MODE"`
	LogMode string `env:"LOG_MODE"`

	StoreDriver       string        `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath        string        `env:"SQLITE_PATH" envDefault:"data/benchmark.db"`
	PostgresDSN       string        `env:"POSTGRES_DSN"`
	DynamoTable       string        `env:"DYNAMODB_TABLE" envDefault:"BenchmarkMetrics"`
	AWSRegion         string        `env:"AWS_REGION"`
	AWSAccessKeyID    string        `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey      string        `env:"AWS_SECRET_ACCESS_KEY"`
	StoreWriteTimeout time.Duration `env:"STORE_WRITE_TIME_OUT" envDefault:"5s"`
	StoreReadTimeout  time.Duration `env:"STORE_READ_TIME_OUT" envDefault:"10s"`

	RedisAddr         string        `env:"REDIS_ADDR"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	RedisDB           int           `env:"REDIS_DB" envDefault:"0"`
	RedisReadTimeout  time.Duration `env:"REDIS_READ_TIME_OUT" envDefault:"1s"`
	RedisWriteTimeout time.Duration `env:"REDIS_WRITE_TIME_OUT" envDefault:"500ms"`
	CacheTTL          time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	OpenTelemetryEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OpenTelemetryEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`

	ArtifactDir string `env:"ARTIFACT_DIR" envDefault:"benchmark_graph"`
	CORSOrigin  string `env:"CORS_ORIGIN"`

	OpenAIKey          string `env:"OPEN_AI_API"`
	OpenAIBaseURL      string `env:"OPEN_AI_BASE_URL"`
	TogetherAIKey      string `env:"TOGETHER_AI_API"`
	GroqKey            string `env:"GROQ_API_KEY"`
	PerplexityKey      string `env:"PERPLEXITY_AI_API"`
	HyperbolicKey      string `env:"HYPERBOLIC_API"`
	AzureKey           string `env:"AZURE_API_KEY"`
	AzureEndpoint      string `env:"AZURE_ENDPOINT"`
	AnthropicKey       string `env:"ANTHROPIC_API"`
	GeminiKey          string `env:"GEMINI_API_KEY"`
	CloudflareAccount  string `env:"CLOUDFLARE_ACCOUNT_ID"`
	CloudflareToken    string `env:"CLOUDFLARE_AI_TOKEN"`
	BedrockAccessKeyID string `env:"AWS_BEDROCK_ACCESS_KEY_ID"`
	BedrockSecretKey   string `env:"AWS_BEDROCK_SECRET_ACCESS_KEY"`
	BedrockRegion      string `env:"AWS_BEDROCK_REGION"`
	VLLMBaseURL        string `env:"VLLM_BASE_URL"`
}

// Load reads an optional .env file and parses the environment
func Load(dotenvFiles ...string) (*Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load dotenv: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the current environment only
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	switch cfg.StoreDriver {
	case "sqlite", "postgres", "dynamodb", "memory":
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	return cfg, nil
}
