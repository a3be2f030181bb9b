package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"llmlatencybench/internal/config"
	"llmlatencybench/internal/logger"
	"llmlatencybench/internal/utils"
)

var (
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrMissingCredentials = errors.New("missing credentials")
)

// streamingHTTPClient has no overall timeout, long streams are bounded by the request context
var streamingHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	},
}

// HasCredentials reports whether cfg carries what the named provider needs
func HasCredentials(name string, cfg *config.Config) bool {
	switch name {
	case OpenAI:
		return cfg.OpenAIKey != ""
	case TogetherAI:
		return cfg.TogetherAIKey != ""
	case Groq:
		return cfg.GroqKey != ""
	case PerplexityAI:
		return cfg.PerplexityKey != ""
	case Hyperbolic:
		return cfg.HyperbolicKey != ""
	case Azure:
		return cfg.AzureKey != "" && cfg.AzureEndpoint != ""
	case Anthropic:
		return cfg.AnthropicKey != ""
	case AWSBedrock:
		return cfg.BedrockAccessKeyID != "" && cfg.BedrockSecretKey != "" && bedrockRegion(cfg) != ""
	case Cloudflare:
		return cfg.CloudflareAccount != "" && cfg.CloudflareToken != ""
	case Google:
		return cfg.GeminiKey != ""
	case VLLM:
		return cfg.VLLMBaseURL != ""
	default:
		return false
	}
}

func bedrockRegion(cfg *config.Config) string {
	if cfg.BedrockRegion != "" {
		return cfg.BedrockRegion
	}
	return cfg.AWSRegion
}

// New builds the named provider from process configuration
func New(ctx context.Context, name string, cfg *config.Config, log *logger.Logger, opts ...Option) (Provider, error) {
	if !IsKnown(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	if !HasCredentials(name, cfg) {
		return nil, fmt.Errorf("%w for provider %s", ErrMissingCredentials, name)
	}

	transport, err := newTransport(ctx, name, cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %w", name, err)
	}
	// Gemini chunks without usage metadata are counted inside the timed loop
	if name == Google && !utils.LoadEncoding() && log != nil {
		log.Warn("cl100k_base encoding unavailable, Gemini chunks without usage metadata use the word estimate")
	}

	opts = append([]Option{WithLogger(log)}, opts...)
	return NewAdapter(name, copyModels(name), transport, opts...), nil
}

func newTransport(ctx context.Context, name string, cfg *config.Config) (Transport, error) {
	switch name {
	case OpenAI:
		return newOpenAITransport(cfg.OpenAIKey, cfg.OpenAIBaseURL, streamingHTTPClient), nil
	case TogetherAI:
		return newOpenAITransport(cfg.TogetherAIKey, togetherAIBaseURL, streamingHTTPClient), nil
	case Groq:
		return newOpenAITransport(cfg.GroqKey, groqBaseURL, streamingHTTPClient), nil
	case PerplexityAI:
		return newOpenAITransport(cfg.PerplexityKey, perplexityBaseURL, streamingHTTPClient), nil
	case Hyperbolic:
		return newOpenAITransport(cfg.HyperbolicKey, hyperbolicBaseURL, streamingHTTPClient), nil
	case Azure:
		return newAzureTransport(cfg.AzureKey, cfg.AzureEndpoint, streamingHTTPClient), nil
	case Anthropic:
		return newAnthropicTransport(cfg.AnthropicKey, "", streamingHTTPClient), nil
	case AWSBedrock:
		return newBedrockTransport(ctx, cfg.BedrockAccessKeyID, cfg.BedrockSecretKey, bedrockRegion(cfg))
	case Cloudflare:
		return &cloudflareTransport{
			baseURL:   cloudflareBaseURL,
			accountID: cfg.CloudflareAccount,
			token:     cfg.CloudflareToken,
			client:    streamingHTTPClient,
		}, nil
	case Google:
		return &geminiTransport{baseURL: geminiBaseURL, apiKey: cfg.GeminiKey, client: streamingHTTPClient}, nil
	case VLLM:
		return &vllmTransport{baseURL: cfg.VLLMBaseURL, client: streamingHTTPClient}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

// CatalogEntry describes one provider for listings
type CatalogEntry struct {
	Name           string            `json:"name" yaml:"name"`
	Models         map[string]string `json:"models" yaml:"models"`
	HasCredentials bool              `json:"hasCredentials" yaml:"has-credentials"`
}

// Catalog lists every known provider with its aliases and credential state
func Catalog(cfg *config.Config) []CatalogEntry {
	entries := make([]CatalogEntry, 0, len(ModelMaps))
	for _, name := range Names() {
		entries = append(entries, CatalogEntry{
			Name:           name,
			Models:         copyModels(name),
			HasCredentials: cfg != nil && HasCredentials(name, cfg),
		})
	}
	return entries
}
