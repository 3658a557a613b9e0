package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/content"
	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/queue"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

const (
	defaultPollTimeout = 5 * time.Second
	defaultMaxRetries  = 2
)

// JobOutcome labels how a grading job ended.
type JobOutcome string

// Job outcomes. Only graded and failed write to the row.
const (
	OutcomeGraded   JobOutcome = "graded"
	OutcomeFailed   JobOutcome = "failed"
	OutcomeSkipped  JobOutcome = "skipped"
	OutcomeCanceled JobOutcome = "canceled"
	OutcomeError    JobOutcome = "error"
)

// ExerciseSource loads the exercise a submission answers.
type ExerciseSource interface {
	FetchExercise(ctx context.Context, lessonID string) (content.Exercise, error)
}

// SubmissionGrader grades one answer against its rubric.
type SubmissionGrader interface {
	Grade(ctx context.Context, req ai.GradeRequest, maxRetries int) (ai.GradingResult, error)
}

// GradingWorkerConfig tunes the worker loop.
type GradingWorkerConfig struct {
	MaxRetries  int
	PollTimeout time.Duration
	Language    string
}

// GradingWorker drains the grading queue one submission at a time.
type GradingWorker struct {
	repo        repository.SubmissionRepository
	queue       queue.Queue
	exercises   ExerciseSource
	grader      SubmissionGrader
	events      GradingEventPublisher
	maxRetries  int
	pollTimeout time.Duration
	language    string
	tracer      trace.Tracer
	logger      zerolog.Logger
}

// NewGradingWorker constructs a worker. events may be nil.
func NewGradingWorker(repo repository.SubmissionRepository, jobs queue.Queue, exercises ExerciseSource, grader SubmissionGrader, events GradingEventPublisher, cfg GradingWorkerConfig, logger zerolog.Logger) *GradingWorker {
	if events == nil {
		events = noopGradingEvents{}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	language := cfg.Language
	if language == "" {
		language = ai.DefaultLanguage
	}

	return &GradingWorker{
		repo:        repo,
		queue:       jobs,
		exercises:   exercises,
		grader:      grader,
		events:      events,
		maxRetries:  maxRetries,
		pollTimeout: pollTimeout,
		language:    language,
		tracer:      otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/grading_worker"),
		logger:      logger.With().Str("component", "grading_worker").Logger(),
	}
}

// Run requeues anything this worker left unacknowledged, then processes jobs
// until ctx is done. A job interrupted by shutdown is not acknowledged, so
// the next start picks it up again.
func (w *GradingWorker) Run(ctx context.Context) error {
	recovered, err := w.queue.Recover(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to requeue unacknowledged submissions")
	} else if recovered > 0 {
		w.logger.Info().Int("count", recovered).Msg("requeued unacknowledged submissions")
	}

	w.logger.Info().Dur("poll_timeout", w.pollTimeout).Int("max_retries", w.maxRetries).Msg("grading worker started")
	defer w.logger.Info().Msg("grading worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		submissionID, err := w.queue.Claim(ctx, w.pollTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn().Err(err).Msg("queue claim failed, backing off")
			if !sleepCtx(ctx, w.pollTimeout) {
				return nil
			}
			continue
		}

		outcome := w.Process(ctx, submissionID)
		if outcome == OutcomeCanceled {
			continue
		}
		if err := w.queue.Ack(context.WithoutCancel(ctx), submissionID); err != nil {
			w.logger.Warn().Err(err).Str("submission_id", submissionID).Msg("failed to acknowledge submission")
		}
	}
}

// Process grades one submission. It never panics and never returns an error;
// every failure ends up in the log and in the returned outcome.
func (w *GradingWorker) Process(ctx context.Context, submissionID string) (outcome JobOutcome) {
	start := time.Now()
	logger := w.logger.With().Str("submission_id", submissionID).Logger()

	ctx, span := w.tracer.Start(ctx, "grading.process", trace.WithAttributes(attribute.String("grading.submission_id", submissionID)))
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error().
				Str("panic", fmt.Sprint(recovered)).
				Bytes("stack", debug.Stack()).
				Msg("grading job panicked")
			span.SetStatus(codes.Error, "panic")
			outcome = OutcomeError
		}
		span.SetAttributes(attribute.String("grading.outcome", string(outcome)))
		span.End()

		observability.GradingJobs().WithLabelValues(string(outcome)).Inc()
		observability.GradingJobDuration().Observe(time.Since(start).Seconds())
		logger.Info().Str("outcome", string(outcome)).Dur("elapsed", time.Since(start)).Msg("grading job finished")
	}()

	submission, err := w.repo.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn().Msg("submission not found, skipping")
			return OutcomeSkipped
		}
		if ctx.Err() != nil {
			return OutcomeCanceled
		}
		span.RecordError(err)
		logger.Error().Err(err).Msg("failed to load submission")
		return OutcomeError
	}

	if submission.Status != models.SubmissionStatusSubmitted {
		logger.Info().Str("status", submission.Status).Msg("submission already processed, skipping")
		return OutcomeSkipped
	}
	logger = logger.With().Str("lesson_id", submission.LessonID).Logger()

	exercise, err := w.exercises.FetchExercise(ctx, submission.LessonID)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeCanceled
		}
		span.RecordError(err)
		logger.Error().Err(err).Msg("failed to load exercise content")
		return w.markFailed(ctx, submission, logger)
	}

	result, err := w.grader.Grade(ctx, ai.GradeRequest{
		Question:          exercise.Question,
		Rubric:            exercise.Rubric,
		ReferenceSolution: exercise.ReferenceSolution,
		Submission:        submission.Content,
		Language:          w.language,
		SubjectContext:    exercise.GradingContext,
	}, w.maxRetries)
	if err != nil {
		span.RecordError(err)
		switch ai.KindOf(err) {
		case ai.KindPermanent:
			logger.Error().Err(err).Msg("grading failed permanently")
			return w.markFailed(ctx, submission, logger)
		case ai.KindCanceled:
			logger.Warn().Err(err).Msg("grading interrupted, leaving submission for retry")
			return OutcomeCanceled
		default:
			logger.Error().Err(err).Msg("unexpected grading error, leaving submission untouched")
			return OutcomeError
		}
	}

	feedback, err := json.Marshal(result.Feedback)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode feedback")
		return OutcomeError
	}

	if err := w.repo.MarkAIGraded(ctx, submission.ID, result.OverallScore, datatypes.JSON(feedback)); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			logger.Info().Msg("submission changed while grading, result discarded")
			return OutcomeSkipped
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "store_failed")
		logger.Error().Err(err).Msg("failed to store grade")
		return OutcomeError
	}

	score := result.OverallScore
	w.events.Publish(ctx, dto.GradingEvent{
		Type:         dto.GradingEventCompleted,
		SubmissionID: submission.ID,
		UserID:       submission.UserID,
		LessonID:     submission.LessonID,
		Status:       models.SubmissionStatusAIGraded,
		Score:        &score,
	})
	logger.Info().Int("score", score).Msg("submission graded")
	return OutcomeGraded
}

func (w *GradingWorker) markFailed(ctx context.Context, submission models.Submission, logger zerolog.Logger) JobOutcome {
	if err := w.repo.MarkGradingFailed(ctx, submission.ID); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			logger.Info().Msg("submission changed before it could be marked failed")
			return OutcomeSkipped
		}
		logger.Error().Err(err).Msg("failed to mark submission as grading_failed")
		return OutcomeError
	}

	w.events.Publish(ctx, dto.GradingEvent{
		Type:         dto.GradingEventCompleted,
		SubmissionID: submission.ID,
		UserID:       submission.UserID,
		LessonID:     submission.LessonID,
		Status:       models.SubmissionStatusGradingFailed,
	})
	return OutcomeFailed
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
