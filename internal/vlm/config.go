// Package vlm implements C5: a uniform "analyze image+prompt -> text"
// contract over heterogeneous vision-language model backends, dispatching
// on a configured provider tag and hiding each dialect's request shape
// from the caller.
package vlm

import (
	"fmt"
	"strings"
)

// Config is one provider configuration, validated before first use.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	APIBase     string
	Temperature float64
	MaxTokens   int

	// SupportsVision is computed by Validate, not set by the caller.
	SupportsVision bool
}

type providerSpec struct {
	keyPrefix    string
	minKeyLen    int
	optionalKey  bool
	defaultBase  string
	visionModels []string
}

var providerSpecs = map[string]providerSpec{
	"openai": {
		keyPrefix: "sk-", minKeyLen: 20, defaultBase: "https://api.openai.com/v1",
		visionModels: []string{"gpt-4o", "gpt-4-vision", "gpt-4-turbo"},
	},
	"anthropic": {
		keyPrefix: "sk-ant-", minKeyLen: 20, defaultBase: "https://api.anthropic.com",
		visionModels: []string{"claude-3", "claude-3.5", "claude-opus-4", "claude-sonnet-4"},
	},
	"google": {
		keyPrefix: "", minKeyLen: 10, defaultBase: "https://generativelanguage.googleapis.com",
		visionModels: []string{"gemini-1.5", "gemini-2", "gemini-pro-vision"},
	},
	"ollama": {
		optionalKey: true, defaultBase: "http://localhost:11434",
		visionModels: []string{"llava", "bakllava", "llama3.2-vision"},
	},
	"qwen": {
		keyPrefix: "sk-", minKeyLen: 20, defaultBase: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		visionModels: []string{"qwen-vl", "qwen2-vl"},
	},
	"dashscope": {
		keyPrefix: "sk-", minKeyLen: 20, defaultBase: "https://dashscope.aliyuncs.com/api/v1",
		visionModels: []string{"qwen-vl", "qwen2-vl"},
	},
}

// visionKeywords is the fallback heuristic when a model name isn't in a
// provider's known vision-model whitelist (§4.5).
var visionKeywords = []string{"vl", "vision", "visual", "multimodal", "image"}

// Validate checks the config against its provider's format rules and
// fills SupportsVision. It never returns a nil error silently swallowing
// a bad config — the diagnosis workflow's should_trigger gate depends on
// an accurate SupportsVision.
func (c *Config) Validate() error {
	spec, ok := providerSpecs[c.Provider]
	if !ok {
		return fmt.Errorf("vlm: unknown provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("vlm: model is required")
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("vlm: temperature %v out of range [0,2]", c.Temperature)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2000
	}
	if c.MaxTokens < 1 || c.MaxTokens > 100000 {
		return fmt.Errorf("vlm: max_tokens %d out of range [1,100000]", c.MaxTokens)
	}
	if c.APIBase == "" {
		c.APIBase = spec.defaultBase
	}

	if !spec.optionalKey {
		if len(c.APIKey) < spec.minKeyLen {
			return fmt.Errorf("vlm: api key too short for provider %q", c.Provider)
		}
		if spec.keyPrefix != "" && !strings.HasPrefix(c.APIKey, spec.keyPrefix) {
			return fmt.Errorf("vlm: api key missing expected prefix %q for provider %q", spec.keyPrefix, c.Provider)
		}
	}

	c.SupportsVision = classifyVision(spec, c.Model)
	return nil
}

func classifyVision(spec providerSpec, model string) bool {
	m := strings.ToLower(model)
	for _, vm := range spec.visionModels {
		if strings.Contains(m, vm) {
			return true
		}
	}
	for _, kw := range visionKeywords {
		if strings.Contains(m, kw) {
			return true
		}
	}
	return false
}
