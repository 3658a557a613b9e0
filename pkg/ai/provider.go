package ai

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ProviderKind names a concrete backend variant.
type ProviderKind string

// Supported providers.
const (
	ProviderGemini    ProviderKind = "gemini"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
)

// ProviderConfig holds everything needed to pick and build a backend.
type ProviderConfig struct {
	// Provider forces a backend. Empty means pick by available credentials.
	Provider        string
	GeminiAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	Model           string
	Temperature     float32
	MaxTokens       int
	// BaseURL overrides the provider endpoint, mostly for gateways and tests.
	BaseURL string
	Logger  zerolog.Logger
}

// SelectProvider decides which backend cfg describes. An explicit provider
// wins; otherwise the first credential found in the order Gemini, OpenAI,
// Anthropic decides.
func SelectProvider(cfg ProviderConfig) (ProviderKind, error) {
	explicit := ProviderKind(strings.ToLower(strings.TrimSpace(cfg.Provider)))
	if explicit != "" {
		key, ok := credentialFor(cfg, explicit)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
		}
		if key == "" {
			return "", fmt.Errorf("%w: %s api key missing", ErrNoProvider, explicit)
		}
		return explicit, nil
	}

	for _, kind := range []ProviderKind{ProviderGemini, ProviderOpenAI, ProviderAnthropic} {
		if key, _ := credentialFor(cfg, kind); key != "" {
			return kind, nil
		}
	}
	return "", ErrNoProvider
}

// NewBackend builds the backend chosen by SelectProvider.
func NewBackend(cfg ProviderConfig) (Backend, error) {
	kind, err := SelectProvider(cfg)
	if err != nil {
		return nil, err
	}

	switch kind {
	case ProviderGemini:
		return NewGeminiBackend(cfg)
	case ProviderOpenAI:
		return NewOpenAIBackend(cfg)
	case ProviderAnthropic:
		return NewAnthropicBackend(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, kind)
	}
}

func credentialFor(cfg ProviderConfig, kind ProviderKind) (string, bool) {
	switch kind {
	case ProviderGemini:
		return strings.TrimSpace(cfg.GeminiAPIKey), true
	case ProviderOpenAI:
		return strings.TrimSpace(cfg.OpenAIAPIKey), true
	case ProviderAnthropic:
		return strings.TrimSpace(cfg.AnthropicAPIKey), true
	default:
		return "", false
	}
}
