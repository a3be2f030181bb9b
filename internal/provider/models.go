package provider

import "sort"

const (
	OpenAI       = "OpenAI"
	TogetherAI   = "TogetherAI"
	Groq         = "Groq"
	PerplexityAI = "PerplexityAI"
	Hyperbolic   = "Hyperbolic"
	Azure        = "Azure"
	Anthropic    = "Anthropic"
	AWSBedrock   = "AWSBedrock"
	Cloudflare   = "Cloudflare"
	Google       = "Google"
	VLLM         = "vLLM"
)

// ModelMaps holds every provider's alias to model id mapping
var ModelMaps = map[string]map[string]string{
	OpenAI: {
		"3b-instruct":  "gpt-4o-mini",
		"7b-instruct":  "gpt-4o",
		"70b-instruct": "gpt-4",
	},
	TogetherAI: {
		"2b-it":         "google/gemma-2b-it",
		"3b-instruct":   "meta-llama/Llama-3.2-3B-Instruct-Turbo",
		"7b-instruct":   "mistralai/Mistral-7B-Instruct-v0.1",
		"70b-instruct":  "meta-llama/Meta-Llama-3.1-70B-Instruct-Turbo",
		"405b-instruct": "meta-llama/Meta-Llama-3.1-405B-Instruct-Turbo",
	},
	Groq: {
		"google-gemma-7b-it":          "gemma-7b-it",
		"meta-llama-3.2-3b-instruct":  "llama-3.2-3b-preview",
		"meta-llama-3.1-70b-instruct": "llama-3.1-70b-versatile",
		"common-model":                "llama-3.1-70b-versatile",
	},
	PerplexityAI: {
		"70b-instruct":  "llama-3.1-70b-instruct",
		"8b-instruct":   "llama-3.1-8b-instruct",
		"405b-instruct": "llama-3.1-sonar-huge-128k-online",
	},
	Hyperbolic: {
		"meta-llama-3.2-3b-instruct":  "meta-llama/Llama-3.2-3B-Instruct",
		"qwen2-vl-7b-instruct":        "Qwen/Qwen2-VL-7B-Instruct",
		"meta-llama-3.1-70b-instruct": "meta-llama/Meta-Llama-3.1-70B-Instruct",
		"common-model":                "meta-llama/Meta-Llama-3.1-70B-Instruct",
	},
	Azure: {
		"meta-llama-3.1-8b-instruct":   "Meta-Llama-3.1-8B-Instruct",
		"meta-llama-3.3-70b-instruct":  "Llama-3.3-70B-Instruct",
		"mistral-large":                "Mistral-Large-2411-yatcd",
		"mistral-23b-instruct-v0.1":    "Mistral-small",
		"meta-llama-3.1-405b-instruct": "Meta-Llama-3.1-405B-Instruct",
		"common-model":                 "Llama-3.3-70B-Instruct",
	},
	Anthropic: {
		"claude-3.5-sonnet": "claude-3-5-sonnet-20241022",
		"claude-3-opus":     "claude-3-opus-20240229",
		"claude-3-haiku":    "claude-3-5-haiku-20241022",
		"common-model":      "claude-3-5-sonnet-20241022",
	},
	AWSBedrock: {
		"meta-llama-3-70b-instruct":  "meta.llama3-70b-instruct-v1:0",
		"meta-llama-3-8b-instruct":   "meta.llama3-8b-instruct-v1:0",
		"mistral-48b-instruct-v0.1":  "mistral.mixtral-8x7b-instruct-v0:1",
		"mistral-23b-instruct-v0.1":  "mistral.mistral-small-2402-v1:0",
		"mistral-124b-instruct-v0.1": "mistral.mistral-large-2402-v1:0",
		"common-model":               "meta.llama3-70b-instruct-v1:0",
		"common-model-small":         "meta.llama3-8b-instruct-v1:0",
	},
	Cloudflare: {
		"google-gemma-2b-it":          "@cf/google/gemma-2b-it-lora",
		"phi-2":                       "@cf/microsoft/phi-2",
		"meta-llama-3.2-3b-instruct":  "@cf/meta/llama-3.2-3b-instruct",
		"mistral-7b-instruct-v0.1":    "@cf/mistral/mistral-7b-instruct-v0.1",
		"meta-llama-3.1-70b-instruct": "@cf/meta/llama-3.1-70b-instruct",
	},
	Google: {
		"gemini-1.5-flash":    "gemini-1.5-flash",
		"gemini-1.5-flash-8b": "gemini-1.5-flash-8b",
		"gemini-1.5-pro":      "gemini-1.5-pro",
		"common-model":        "gemini-1.5-flash",
		"common-model-small":  "gemini-1.5-flash-8b",
	},
	VLLM: {
		"common-model": "NousResearch/Meta-Llama-3-8B-Instruct",
	},
}

// Names returns every known provider name, sorted
func Names() []string {
	names := make([]string, 0, len(ModelMaps))
	for n := range ModelMaps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsKnown reports whether name is a known provider
func IsKnown(name string) bool {
	_, ok := ModelMaps[name]
	return ok
}

// copyModels returns a private copy of a provider's alias map
func copyModels(name string) map[string]string {
	src := ModelMaps[name]
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
