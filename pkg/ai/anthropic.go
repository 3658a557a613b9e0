package ai

import "fmt"

const (
	anthropicBaseURL      = "https://api.anthropic.com/v1/"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
)

// AnthropicBackend reaches Claude models through Anthropic's OpenAI
// compatible endpoint. That endpoint ignores response_format, so grading
// relies on schema validation of the returned text.
type AnthropicBackend struct {
	*compatBackend
}

// NewAnthropicBackend builds an Anthropic backend.
func NewAnthropicBackend(cfg ProviderConfig) (*AnthropicBackend, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}

	backend := newCompatBackend(string(ProviderAnthropic), cfg.AnthropicAPIKey, baseURL, cfg)
	return &AnthropicBackend{compatBackend: backend}, nil
}
