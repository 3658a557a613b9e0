package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API and worker processes.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string

	WebhookSecret string

	AIProvider       string
	AIModel          string
	GeminiAPIKey     string
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	AIMaxRetries     int
	AIAttemptTimeout time.Duration
	AITemperature    float32

	ContentGitHubToken     string
	ContentRepository      string
	ContentCacheTTL        time.Duration
	ContentCacheMaxEntries int

	QueueName         string
	WorkerID          string
	WorkerPollTimeout time.Duration

	HintDailyLimit     int
	CitationMaxPending int

	NATSURL       string
	EventsChannel string
	SSEKeepAlive  time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	hostname, _ := os.Hostname()

	v.SetDefault("app.name", "GEMA Grading API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("ai.provider", "")
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.attempt_timeout", "60s")
	v.SetDefault("ai.temperature", 0.1)
	v.SetDefault("content.repo", "vietfood/cs4all-content")
	v.SetDefault("content.cache_ttl", "10m")
	v.SetDefault("content.cache_max_entries", 512)
	v.SetDefault("queue.name", "cs4all:grading_queue")
	v.SetDefault("worker.id", hostname)
	v.SetDefault("worker.poll_timeout", "5s")
	v.SetDefault("hint.daily_limit", 20)
	v.SetDefault("citation.max_pending", 1024)
	v.SetDefault("events.channel", "gema:grading")
	v.SetDefault("sse.keepalive", "30s")

	attemptTimeout, err := parseDuration(v, "ai.attempt_timeout")
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := parseDuration(v, "content.cache_ttl")
	if err != nil {
		return Config{}, err
	}
	pollTimeout, err := parseDuration(v, "worker.poll_timeout")
	if err != nil {
		return Config{}, err
	}
	keepAlive, err := parseDuration(v, "sse.keepalive")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		JWTSecret:              v.GetString("jwt.secret"),
		WebhookSecret:          v.GetString("webhook.secret"),
		AIProvider:             strings.ToLower(strings.TrimSpace(v.GetString("ai.provider"))),
		AIModel:                v.GetString("ai.model"),
		GeminiAPIKey:           v.GetString("ai.gemini_api_key"),
		OpenAIAPIKey:           v.GetString("ai.openai_api_key"),
		AnthropicAPIKey:        v.GetString("ai.anthropic_api_key"),
		AIMaxRetries:           v.GetInt("ai.max_retries"),
		AIAttemptTimeout:       attemptTimeout,
		AITemperature:          float32(v.GetFloat64("ai.temperature")),
		ContentGitHubToken:     v.GetString("content.github_token"),
		ContentRepository:      v.GetString("content.repo"),
		ContentCacheTTL:        cacheTTL,
		ContentCacheMaxEntries: v.GetInt("content.cache_max_entries"),
		QueueName:              v.GetString("queue.name"),
		WorkerID:               v.GetString("worker.id"),
		WorkerPollTimeout:      pollTimeout,
		HintDailyLimit:         v.GetInt("hint.daily_limit"),
		CitationMaxPending:     v.GetInt("citation.max_pending"),
		NATSURL:                v.GetString("nats.url"),
		EventsChannel:          v.GetString("events.channel"),
		SSEKeepAlive:           keepAlive,
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("redis url must be provided")
	}
	if cfg.AIMaxRetries < 0 {
		cfg.AIMaxRetries = 2
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
