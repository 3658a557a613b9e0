package ai

import "fmt"

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta/openai/"
	defaultGeminiModel = "gemini-2.0-flash"
)

// GeminiBackend reaches Gemini models through Google's OpenAI compatible endpoint.
type GeminiBackend struct {
	*compatBackend
}

// NewGeminiBackend builds a Gemini backend.
func NewGeminiBackend(cfg ProviderConfig) (*GeminiBackend, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = geminiBaseURL
	}

	backend := newCompatBackend(string(ProviderGemini), cfg.GeminiAPIKey, baseURL, cfg)
	return &GeminiBackend{compatBackend: backend}, nil
}
