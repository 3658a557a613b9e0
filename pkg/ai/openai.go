package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	completionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "completion_duration_seconds",
		Help:      "Duration of LLM completion requests",
	}, []string{"provider", "model", "mode"})

	completionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "completion_failures_total",
		Help:      "Number of failed LLM completion requests",
	}, []string{"provider", "model", "mode"})
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIBackend talks to the OpenAI chat completion API.
type OpenAIBackend struct {
	*compatBackend
}

// NewOpenAIBackend builds a backend for api.openai.com, or for cfg.BaseURL when set.
func NewOpenAIBackend(cfg ProviderConfig) (*OpenAIBackend, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}

	backend := newCompatBackend(string(ProviderOpenAI), cfg.OpenAIAPIKey, cfg.BaseURL, cfg)
	return &OpenAIBackend{compatBackend: backend}, nil
}

// compatBackend implements Backend for any endpoint speaking the OpenAI chat
// completion protocol.
type compatBackend struct {
	name        string
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	tracer      trace.Tracer
	logger      zerolog.Logger
}

func newCompatBackend(name, apiKey, baseURL string, cfg ProviderConfig) *compatBackend {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	return &compatBackend{
		name:        name,
		client:      openai.NewClientWithConfig(config),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/ai/" + name),
		logger:      cfg.Logger.With().Str("component", "ai_backend").Str("provider", name).Logger(),
	}
}

func (b *compatBackend) Name() string {
	return b.name
}

func (b *compatBackend) Model() string {
	return b.model
}

// CompleteJSON requests a completion constrained to schema and returns the raw JSON text.
func (b *compatBackend) CompleteJSON(parent context.Context, messages []Message, schema JSONSchema) (string, error) {
	ctx, span := b.tracer.Start(parent, b.name+".complete_json", trace.WithAttributes(
		attribute.String("model", b.model),
		attribute.String("schema", schema.Name),
	))
	defer span.End()

	request := openai.ChatCompletionRequest{
		Model:       b.model,
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
		Messages:    toChatMessages(messages),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schema.Name,
				Schema: json.RawMessage(schema.Schema),
				Strict: true,
			},
		},
	}

	start := time.Now()
	resp, err := b.client.CreateChatCompletion(ctx, request)
	completionDuration.WithLabelValues(b.name, b.model, "json").Observe(time.Since(start).Seconds())
	if err != nil {
		b.recordFailure(span, "json", err)
		return "", transient(b.name+".complete_json", err)
	}

	if len(resp.Choices) == 0 {
		b.recordFailure(span, "json", ErrEmptyResponse)
		return "", transient(b.name+".complete_json", ErrEmptyResponse)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		b.recordFailure(span, "json", ErrEmptyResponse)
		return "", transient(b.name+".complete_json", ErrEmptyResponse)
	}

	span.SetAttributes(attribute.Int("usage.total_tokens", resp.Usage.TotalTokens))
	return content, nil
}

// Stream opens a streamed completion. Cancelling ctx stops the upstream request.
func (b *compatBackend) Stream(ctx context.Context, messages []Message) (TokenStream, error) {
	request := openai.ChatCompletionRequest{
		Model:       b.model,
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
		Messages:    toChatMessages(messages),
		Stream:      true,
	}

	stream, err := b.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		completionFailures.WithLabelValues(b.name, b.model, "stream").Inc()
		return nil, transient(b.name+".stream", err)
	}

	return &chatStream{stream: stream, backend: b, started: time.Now()}, nil
}

func (b *compatBackend) recordFailure(span trace.Span, mode string, err error) {
	completionFailures.WithLabelValues(b.name, b.model, mode).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	b.logger.Debug().Err(err).Str("mode", mode).Msg("llm completion failed")
}

type chatStream struct {
	stream  *openai.ChatCompletionStream
	backend *compatBackend
	started time.Time
	done    bool
}

func (s *chatStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.finish()
			return "", io.EOF
		}
		if err != nil {
			completionFailures.WithLabelValues(s.backend.name, s.backend.model, "stream").Inc()
			return "", transient(s.backend.name+".stream", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *chatStream) Close() error {
	s.finish()
	return s.stream.Close()
}

func (s *chatStream) finish() {
	if s.done {
		return
	}
	s.done = true
	completionDuration.WithLabelValues(s.backend.name, s.backend.model, "stream").Observe(time.Since(s.started).Seconds())
}

func toChatMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, message := range messages {
		role := openai.ChatMessageRoleUser
		if message.Role == RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: message.Content})
	}
	return out
}
