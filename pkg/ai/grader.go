package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	gradeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "grade_attempts_total",
		Help:      "Grading attempts by outcome",
	}, []string{"provider", "outcome"})

	scoreMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "grade_score_mismatch_total",
		Help:      "Valid grading results whose overall score disagrees with the criterion points",
	}, []string{"provider"})
)

// scoreTolerance is how far overall_score may drift from the criterion points
// before the result is flagged.
const scoreTolerance = 5

// GraderConfig tunes a Grader.
type GraderConfig struct {
	// AttemptTimeout bounds a single backend call. Zero means no bound.
	AttemptTimeout time.Duration
	Logger         zerolog.Logger
}

// Grader turns exercise artefacts into a validated GradingResult.
type Grader struct {
	backend Backend
	cfg     GraderConfig
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// NewGrader wraps backend with schema validation and retries.
func NewGrader(backend Backend, cfg GraderConfig) (*Grader, error) {
	if backend == nil {
		return nil, fmt.Errorf("grader backend is required")
	}
	if _, err := gradingSchema(); err != nil {
		return nil, fmt.Errorf("compile grading schema: %w", err)
	}

	return &Grader{
		backend: backend,
		cfg:     cfg,
		tracer:  otel.Tracer("github.com/noah-isme/gema-grading-api/pkg/ai/grader"),
		logger:  cfg.Logger.With().Str("component", "ai_grader").Str("provider", backend.Name()).Logger(),
	}, nil
}

// Grade makes up to maxRetries+1 attempts with the same prompt. It returns a
// fully validated result, or an *Error of kind KindPermanent wrapping the last
// failure. A cancelled ctx ends the loop early with KindCanceled.
func (g *Grader) Grade(parent context.Context, req GradeRequest, maxRetries int) (GradingResult, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	attempts := maxRetries + 1

	ctx, span := g.tracer.Start(parent, "ai.grade", trace.WithAttributes(
		attribute.String("provider", g.backend.Name()),
		attribute.String("model", g.backend.Model()),
		attribute.Int("max_attempts", attempts),
	))
	defer span.End()

	messages, err := BuildGradingPrompt(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prompt_failed")
		return GradingResult{}, &Error{Kind: KindPermanent, Op: "ai.grade", Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return GradingResult{}, g.canceled(span, attempt-1, ctxErr)
		}

		result, err := g.attempt(ctx, messages, req.Rubric)
		if err == nil {
			gradeAttempts.WithLabelValues(g.backend.Name(), "success").Inc()
			span.SetAttributes(
				attribute.Int("attempts", attempt),
				attribute.Int("overall_score", result.OverallScore),
			)
			g.checkScore(result)
			return result, nil
		}

		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return GradingResult{}, g.canceled(span, attempt, ctxErr)
		}

		outcome := "backend_error"
		if errors.Is(err, ErrInvalidResult) {
			outcome = "invalid_output"
		}
		gradeAttempts.WithLabelValues(g.backend.Name(), outcome).Inc()
		g.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", attempts).Msg("grading attempt failed")
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "attempts_exhausted")
	return GradingResult{}, &Error{Kind: KindPermanent, Op: "ai.grade", Attempts: attempts, Err: lastErr}
}

func (g *Grader) attempt(parent context.Context, messages []Message, rubric []RubricCriterion) (GradingResult, error) {
	ctx := parent
	if g.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, g.cfg.AttemptTimeout)
		defer cancel()
	}

	raw, err := g.backend.CompleteJSON(ctx, messages, gradingWireSchema())
	if err != nil {
		return GradingResult{}, err
	}
	return ParseGradingResult(raw, rubric)
}

func (g *Grader) canceled(span trace.Span, attempts int, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "canceled")
	return &Error{Kind: KindCanceled, Op: "ai.grade", Attempts: attempts, Err: err}
}

// checkScore flags results whose overall score disagrees with the points in
// the feedback. Both values are kept as returned.
func (g *Grader) checkScore(result GradingResult) {
	awarded, possible := 0, 0
	for _, item := range result.Feedback {
		awarded += item.PointsAwarded
		possible += item.PointsPossible
	}
	if possible == 0 {
		return
	}

	expected := int(math.Round(float64(awarded) * 100 / float64(possible)))
	if diff := expected - result.OverallScore; diff > scoreTolerance || diff < -scoreTolerance {
		scoreMismatches.WithLabelValues(g.backend.Name()).Inc()
		g.logger.Warn().
			Int("overall_score", result.OverallScore).
			Int("criterion_score", expected).
			Msg("overall score disagrees with criterion points")
	}
}
