package server

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"llmlatencybench/internal/config"
)

// VCAPService represents a Cloud Foundry service binding
type VCAPService struct {
	InstanceGUID string                 `json:"instance_guid"`
	InstanceName string                 `json:"instance_name"`
	Name         string                 `json:"name"`
	Plan         string                 `json:"plan"`
	Credentials  map[string]interface{} `json:"credentials"`
	Tags         []string               `json:"tags"`
	Label        string                 `json:"label"`
}

// VCAPServices is VCAP_SERVICES keyed by service label
type VCAPServices map[string][]VCAPService

// ServiceEndpoint represents the endpoint block of a multi-plan GenAI binding
type ServiceEndpoint struct {
	APIKey    string `json:"api_key"`
	APIBase   string `json:"api_base"`
	ConfigURL string `json:"config_url"`
}

const (
	genAILabel        = "genai"
	llmCredentialsTag = "llm-credentials"
)

// postgres bindings are recognised by label or tag
var postgresLabels = map[string]bool{
	"postgres":    true,
	"postgresql":  true,
	"elephantsql": true,
}

// IsVCAPServicesAvailable checks if running in Cloud Foundry with VCAP_SERVICES
func IsVCAPServicesAvailable() bool {
	return os.Getenv("VCAP_SERVICES") != ""
}

// ParseVCAPServices decodes a VCAP_SERVICES document
func ParseVCAPServices(raw string) (VCAPServices, error) {
	var services VCAPServices
	if err := json.Unmarshal([]byte(raw), &services); err != nil {
		return nil, fmt.Errorf("failed to parse VCAP_SERVICES: %w", err)
	}
	return services, nil
}

// ApplyCloudFoundryBindings fills empty settings in cfg from VCAP_SERVICES and
// returns the names of the bindings it used. Values already set in the
// environment always win.
func ApplyCloudFoundryBindings(cfg *config.Config) ([]string, error) {
	if !IsVCAPServicesAvailable() {
		return nil, nil
	}
	services, err := ParseVCAPServices(os.Getenv("VCAP_SERVICES"))
	if err != nil {
		return nil, err
	}
	return applyBindings(cfg, services), nil
}

func applyBindings(cfg *config.Config, services VCAPServices) []string {
	var applied []string

	labels := make([]string, 0, len(services))
	for label := range services {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		for _, svc := range services[label] {
			if svc.Credentials == nil {
				continue
			}

			switch {
			case isPostgresBinding(label, svc):
				if applyPostgres(cfg, svc) {
					applied = append(applied, bindingName(svc))
				}
			case label == genAILabel:
				if applyGenAI(cfg, svc) {
					applied = append(applied, bindingName(svc))
				}
			case hasTag(svc, llmCredentialsTag):
				if applyCredentials(cfg, svc.Credentials) > 0 {
					applied = append(applied, bindingName(svc))
				}
			}
		}
	}

	return applied
}

func isPostgresBinding(label string, svc VCAPService) bool {
	return postgresLabels[label] || hasTag(svc, "postgres") || hasTag(svc, "postgresql")
}

// applyPostgres switches the store to postgres since container disks are ephemeral
func applyPostgres(cfg *config.Config, svc VCAPService) bool {
	if cfg.PostgresDSN != "" {
		return false
	}
	dsn := stringCredential(svc.Credentials, "uri", "url", "jdbcUrl")
	if dsn == "" {
		return false
	}
	cfg.PostgresDSN = dsn
	if cfg.StoreDriver == "" || cfg.StoreDriver == "sqlite" {
		cfg.StoreDriver = "postgres"
	}
	return true
}

// applyGenAI maps a GenAI on Tanzu binding onto the OpenAI-compatible provider
func applyGenAI(cfg *config.Config, svc VCAPService) bool {
	if cfg.OpenAIKey != "" {
		return false
	}

	var apiKey, baseURL string
	if endpoint, err := parseServiceEndpoint(svc.Credentials); err == nil {
		apiKey, baseURL = endpoint.APIKey, endpoint.APIBase
	} else {
		apiKey, baseURL = parseLegacyCredentials(svc.Credentials)
	}
	if apiKey == "" {
		return false
	}

	cfg.OpenAIKey = apiKey
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = baseURL
	}
	return true
}

// applyCredentials copies credentials keyed by environment variable name into
// empty config fields and returns how many it set
func applyCredentials(cfg *config.Config, credentials map[string]interface{}) int {
	fields := credentialFields(cfg)
	set := 0
	for key, value := range credentials {
		field, ok := fields[strings.ToUpper(key)]
		if !ok || *field != "" {
			continue
		}
		if s, ok := value.(string); ok && s != "" {
			*field = s
			set++
		}
	}
	return set
}

func credentialFields(cfg *config.Config) map[string]*string {
	return map[string]*string{
		"OPEN_AI_API":                   &cfg.OpenAIKey,
		"OPEN_AI_BASE_URL":              &cfg.OpenAIBaseURL,
		"TOGETHER_AI_API":               &cfg.TogetherAIKey,
		"GROQ_API_KEY":                  &cfg.GroqKey,
		"PERPLEXITY_AI_API":             &cfg.PerplexityKey,
		"HYPERBOLIC_API":                &cfg.HyperbolicKey,
		"AZURE_API_KEY":                 &cfg.AzureKey,
		"AZURE_ENDPOINT":                &cfg.AzureEndpoint,
		"ANTHROPIC_API":                 &cfg.AnthropicKey,
		"GEMINI_API_KEY":                &cfg.GeminiKey,
		"CLOUDFLARE_ACCOUNT_ID":         &cfg.CloudflareAccount,
		"CLOUDFLARE_AI_TOKEN":           &cfg.CloudflareToken,
		"AWS_BEDROCK_ACCESS_KEY_ID":     &cfg.BedrockAccessKeyID,
		"AWS_BEDROCK_SECRET_ACCESS_KEY": &cfg.BedrockSecretKey,
		"AWS_BEDROCK_REGION":            &cfg.BedrockRegion,
		"VLLM_BASE_URL":                 &cfg.VLLMBaseURL,
	}
}

// parseServiceEndpoint extracts endpoint configuration from credentials
func parseServiceEndpoint(credentials map[string]interface{}) (*ServiceEndpoint, error) {
	endpointData, exists := credentials["endpoint"]
	if !exists {
		return nil, fmt.Errorf("endpoint not found in credentials")
	}

	endpointMap, ok := endpointData.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("endpoint is not a valid object")
	}

	endpoint := &ServiceEndpoint{}
	if apiKey, ok := endpointMap["api_key"].(string); ok {
		endpoint.APIKey = apiKey
	}
	if apiBase, ok := endpointMap["api_base"].(string); ok {
		endpoint.APIBase = apiBase
	}
	if configURL, ok := endpointMap["config_url"].(string); ok {
		endpoint.ConfigURL = configURL
	}

	return endpoint, nil
}

// parseLegacyCredentials extracts key and base URL from the single-model format
func parseLegacyCredentials(credentials map[string]interface{}) (string, string) {
	apiKey := stringCredential(credentials, "api_key")
	baseURL := stringCredential(credentials, "api_base", "base_url")
	return apiKey, baseURL
}

func stringCredential(credentials map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := credentials[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func hasTag(svc VCAPService, tag string) bool {
	for _, t := range svc.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func bindingName(svc VCAPService) string {
	if svc.InstanceName != "" {
		return svc.InstanceName
	}
	if svc.Name != "" {
		return svc.Name
	}
	return svc.InstanceGUID
}
