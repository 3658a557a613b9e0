package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grading-api/internal/content"
	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
	"github.com/noah-isme/gema-grading-api/pkg/citation"
)

const (
	defaultDailyHintLimit = 20
	hintCounterPrefix     = "cs4all:hints"
	hintCounterTTL        = 24 * time.Hour
)

var (
	// ErrHintQuotaExceeded indicates the user spent today's hint allowance.
	ErrHintQuotaExceeded = errors.New("daily hint limit reached")
	// ErrHintInvalidRequest wraps validation failures.
	ErrHintInvalidRequest = errors.New("invalid hint request")
	// ErrHintLessonNotFound indicates the lesson could not be loaded.
	ErrHintLessonNotFound = errors.New("lesson content not found")
	// ErrHintUnavailable indicates the model stream could not be opened.
	ErrHintUnavailable = errors.New("hint service unavailable")
)

// LessonSource loads lessons for hint prompts.
type LessonSource interface {
	FetchLesson(ctx context.Context, lessonID string) (content.Lesson, error)
}

// TokenStreamer opens a streaming completion.
type TokenStreamer interface {
	Stream(ctx context.Context, messages []ai.Message) (ai.TokenStream, error)
}

// HintService prepares citation-safe hint streams.
type HintService interface {
	Open(ctx context.Context, userID string, req dto.HintRequest) (*HintStream, error)
	DailyLimit() int
}

// HintServiceConfig tunes quota and sanitizing.
type HintServiceConfig struct {
	DailyLimit int
	MaxPending int
	Language   string
}

type hintService struct {
	lessons    LessonSource
	streamer   TokenStreamer
	redis      *redis.Client
	validator  *validator.Validate
	policy     *bluemonday.Policy
	dailyLimit int
	maxPending int
	language   string
	tracer     trace.Tracer
	logger     zerolog.Logger
	now        func() time.Time
}

// NewHintService constructs the hint service. A nil redis client disables
// the daily quota.
func NewHintService(lessons LessonSource, streamer TokenStreamer, redisClient *redis.Client, validate *validator.Validate, cfg HintServiceConfig, logger zerolog.Logger) HintService {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	limit := cfg.DailyLimit
	if limit <= 0 {
		limit = defaultDailyHintLimit
	}
	language := cfg.Language
	if language == "" {
		language = ai.DefaultLanguage
	}

	return &hintService{
		lessons:    lessons,
		streamer:   streamer,
		redis:      redisClient,
		validator:  validate,
		policy:     bluemonday.StrictPolicy(),
		dailyLimit: limit,
		maxPending: cfg.MaxPending,
		language:   language,
		tracer:     otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/hint"),
		logger:     logger.With().Str("component", "hint_service").Logger(),
		now:        time.Now,
	}
}

func (s *hintService) DailyLimit() int {
	return s.dailyLimit
}

// Open validates the request, charges the user's quota, loads the lesson and
// opens the model stream. The caller must Close the returned stream.
func (s *hintService) Open(ctx context.Context, userID string, req dto.HintRequest) (*HintStream, error) {
	ctx, span := s.tracer.Start(ctx, "hint.open", trace.WithAttributes(
		attribute.String("hint.user_id", userID),
		attribute.String("hint.lesson_id", req.LessonID),
	))
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrHintInvalidRequest)
	}
	if err := s.validator.Struct(req); err != nil {
		span.SetStatus(codes.Error, "validation_failed")
		return nil, fmt.Errorf("%w: %v", ErrHintInvalidRequest, err)
	}

	question := s.clean(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty after sanitization", ErrHintInvalidRequest)
	}
	attempt := s.clean(req.StudentAttempt)

	if err := s.chargeQuota(ctx, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quota")
		return nil, err
	}

	lesson, err := s.lessons.FetchLesson(ctx, req.LessonID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lesson_fetch_failed")
		s.logger.Error().Err(err).Str("lesson_id", req.LessonID).Msg("failed to load lesson for hint")
		if errors.Is(err, content.ErrInvalidLessonID) {
			return nil, fmt.Errorf("%w: %v", ErrHintInvalidRequest, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrHintLessonNotFound, req.LessonID)
	}

	anchors := req.AnchorMap
	if len(anchors) == 0 {
		anchors = lesson.Anchors
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = s.language
	}

	messages, err := ai.BuildHintPrompt(ai.HintPromptInput{
		LessonTitle:    lesson.Title,
		GradingContext: lesson.GradingContext,
		LessonBody:     lesson.Body,
		Anchors:        anchors,
		Question:       question,
		StudentAttempt: attempt,
		Language:       language,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHintInvalidRequest, err)
	}

	upstream, err := s.streamer.Stream(ctx, messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream_open_failed")
		s.logger.Error().Err(err).Str("lesson_id", req.LessonID).Msg("failed to open hint stream")
		return nil, fmt.Errorf("%w: %v", ErrHintUnavailable, err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("lesson_id", req.LessonID).
		Int("question_length", len(question)).
		Int("anchors", len(anchors)).
		Msg("hint stream opened")

	return newHintStream(upstream, citation.NewSanitizer(citation.IDSetFromAnchors(anchors), citation.WithMaxPending(s.maxPending))), nil
}

// clean strips markup. The text is prompt input, not HTML, so entities the
// policy introduced are decoded again.
func (s *hintService) clean(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(value)))
}

func (s *hintService) chargeQuota(ctx context.Context, userID string) error {
	if s.redis == nil {
		return nil
	}

	key := fmt.Sprintf("%s:%s:%s", hintCounterPrefix, userID, s.now().UTC().Format("2006-01-02"))
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		// Quota storage trouble should not take hints down.
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("hint quota check failed, allowing request")
		return nil
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, hintCounterTTL).Err(); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to set hint quota expiry")
		}
	}
	if count > int64(s.dailyLimit) {
		s.logger.Warn().Str("user_id", userID).Int64("count", count).Int("limit", s.dailyLimit).Msg("hint rate limited")
		return fmt.Errorf("%w: %d questions per day", ErrHintQuotaExceeded, s.dailyLimit)
	}
	return nil
}

// HintStream yields sanitized text chunks from a model stream.
type HintStream struct {
	upstream  ai.TokenStream
	sanitizer *citation.Sanitizer
	flushed   bool
}

func newHintStream(upstream ai.TokenStream, sanitizer *citation.Sanitizer) *HintStream {
	return &HintStream{upstream: upstream, sanitizer: sanitizer}
}

// Next returns the next non-empty sanitized chunk. At the end of the model
// stream the withheld tail is flushed, then io.EOF is returned.
func (h *HintStream) Next() (string, error) {
	for {
		if h.flushed {
			return "", io.EOF
		}

		token, err := h.upstream.Recv()
		if errors.Is(err, io.EOF) {
			h.flushed = true
			if tail := h.sanitizer.Flush(); tail != "" {
				return tail, nil
			}
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}

		if out := h.sanitizer.Feed(token); out != "" {
			return out, nil
		}
	}
}

// Close releases the upstream stream.
func (h *HintStream) Close() error {
	return h.upstream.Close()
}
