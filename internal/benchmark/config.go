package benchmark

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"llmlatencybench/internal/provider"
	"llmlatencybench/internal/utils"

	"github.com/xeipuuv/gojsonschema"
	"go.yaml.in/yaml/v4"
)

//go:embed config.schema.json
var configSchema []byte

const (
	DefaultNumRequests = 1
	DefaultInputTokens = 10
	DefaultMaxOutput   = 100

	MinMaxOutput = 100
	MaxMaxOutput = 5000
)

// Cooldown pauses before every Every-th trial of a provider. Delay is in seconds.
type Cooldown struct {
	Every int     `json:"every" yaml:"every"`
	Delay float64 `json:"delay" yaml:"delay"`
}

// Duration returns Delay as a time.Duration
func (c Cooldown) Duration() time.Duration {
	return time.Duration(c.Delay * float64(time.Second))
}

// DefaultCooldowns covers providers known for tight request quotas
func DefaultCooldowns() map[string]Cooldown {
	return map[string]Cooldown{
		provider.Groq:       {Every: 2, Delay: 100},
		provider.Hyperbolic: {Every: 2, Delay: 100},
	}
}

// Config describes one benchmark run
type Config struct {
	RunID        string              `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Providers    []string            `json:"providers" yaml:"providers"`
	Models       []string            `json:"models" yaml:"models"`
	NumRequests  int                 `json:"num_requests" yaml:"num_requests"`
	InputTokens  int                 `json:"input_tokens" yaml:"input_tokens"`
	MaxOutput    int                 `json:"max_output" yaml:"max_output"`
	Streaming    bool                `json:"streaming" yaml:"streaming"`
	Verbose      bool                `json:"verbose" yaml:"verbose"`
	Prompt       string              `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	SystemPrompt string              `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Cooldowns    map[string]Cooldown `json:"cooldowns,omitempty" yaml:"cooldowns,omitempty"`
}

// ConfigError is a configuration mistake detected before any network call
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ApplyDefaults fills zero fields and merges user cooldowns over the defaults
func (c *Config) ApplyDefaults() {
	if c.NumRequests == 0 {
		c.NumRequests = DefaultNumRequests
	}
	if c.InputTokens == 0 {
		c.InputTokens = DefaultInputTokens
	}
	if c.MaxOutput == 0 {
		c.MaxOutput = DefaultMaxOutput
	}

	merged := DefaultCooldowns()
	for name, cd := range c.Cooldowns {
		merged[name] = cd
	}
	c.Cooldowns = merged
}

// Validate checks the rules the schema cannot express and repeats the ones it
// can, so configs built in code are held to the same limits
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return &ConfigError{Field: "providers", Message: "at least one provider is required"}
	}
	seen := map[string]bool{}
	for _, name := range c.Providers {
		if !provider.IsKnown(name) {
			return &ConfigError{Field: "providers", Message: fmt.Sprintf("unknown provider %q, available: %s", name, strings.Join(provider.Names(), ", "))}
		}
		if seen[name] {
			return &ConfigError{Field: "providers", Message: fmt.Sprintf("provider %q listed twice", name)}
		}
		seen[name] = true
	}
	if len(c.Models) == 0 {
		return &ConfigError{Field: "models", Message: "at least one model is required"}
	}
	if c.NumRequests < 1 {
		return &ConfigError{Field: "num_requests", Message: "must be at least 1"}
	}
	if c.Prompt == "" && !utils.IsValidInputSize(c.InputTokens) {
		return &ConfigError{Field: "input_tokens", Message: fmt.Sprintf("must be one of %v", utils.InputSizes)}
	}
	if c.MaxOutput < MinMaxOutput || c.MaxOutput > MaxMaxOutput {
		return &ConfigError{Field: "max_output", Message: fmt.Sprintf("must be between %d and %d", MinMaxOutput, MaxMaxOutput)}
	}
	for name, cd := range c.Cooldowns {
		if cd.Every < 0 || cd.Delay < 0 {
			return &ConfigError{Field: "cooldowns", Message: fmt.Sprintf("%s: every and delay must not be negative", name)}
		}
	}
	return nil
}

// ResolvePrompt returns the explicit prompt or the generated one for InputTokens
func (c *Config) ResolvePrompt() (string, error) {
	if c.Prompt != "" {
		return c.Prompt, nil
	}
	p, err := utils.PromptForSize(c.InputTokens)
	if err != nil {
		return "", &ConfigError{Field: "input_tokens", Message: err.Error()}
	}
	return p, nil
}

// ParseConfig decodes a JSON or YAML document, validates it against the
// embedded schema, applies defaults and validates the result
func ParseConfig(data []byte) (*Config, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Field: "document", Message: fmt.Sprintf("cannot decode: %v", err)}
	}
	if err := validateSchema(doc); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Field: "document", Message: fmt.Sprintf("cannot decode: %v", err)}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads and parses a run configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run config %q: %w", path, err)
	}
	return ParseConfig(data)
}

func validateSchema(doc any) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return &ConfigError{Field: "document", Message: fmt.Sprintf("cannot convert to JSON: %v", err)}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(configSchema), gojsonschema.NewBytesLoader(docJSON))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	field := result.Errors()[0].Field()
	return &ConfigError{Field: field, Message: strings.Join(errs, ", ")}
}
