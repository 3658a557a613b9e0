package service

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/repository"
)

var (
	// ErrAdminSubmissionNotFound indicates the submission was not located.
	ErrAdminSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionAlreadyReviewed indicates a reviewer already finalised the score.
	ErrSubmissionAlreadyReviewed = errors.New("submission already reviewed")
	// ErrSubmissionNotReviewable indicates the status does not allow a review.
	ErrSubmissionNotReviewable = errors.New("submission cannot be reviewed in its current status")
)

// AdminSubmissionService backs the reviewer endpoints.
type AdminSubmissionService interface {
	List(ctx context.Context, query dto.SubmissionListQuery) (dto.SubmissionListResponse, error)
	Get(ctx context.Context, id string) (dto.SubmissionResponse, error)
	Review(ctx context.Context, id string, payload dto.SubmissionReviewRequest, reviewerID string) (dto.SubmissionResponse, error)
}

type adminSubmissionService struct {
	repo      repository.SubmissionRepository
	validator *validator.Validate
	policy    *bluemonday.Policy
	events    GradingEventPublisher
	tracer    trace.Tracer
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAdminSubmissionService constructs the reviewer service. events may be nil.
func NewAdminSubmissionService(repo repository.SubmissionRepository, validate *validator.Validate, events GradingEventPublisher, logger zerolog.Logger) AdminSubmissionService {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	if events == nil {
		events = noopGradingEvents{}
	}
	return &adminSubmissionService{
		repo:      repo,
		validator: validate,
		policy:    bluemonday.StrictPolicy(),
		events:    events,
		tracer:    otel.Tracer("github.com/noah-isme/gema-grading-api/internal/service/admin_submission"),
		logger:    logger.With().Str("component", "admin_submission_service").Logger(),
		now:       time.Now,
	}
}

func (s *adminSubmissionService) List(ctx context.Context, query dto.SubmissionListQuery) (dto.SubmissionListResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return dto.SubmissionListResponse{}, err
	}

	filter := repository.SubmissionFilter{Page: query.Page, PageSize: query.PageSize}
	if query.Status != "" {
		status := query.Status
		filter.Status = &status
	}
	filter = filter.Normalize()

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return dto.SubmissionListResponse{}, err
	}

	return dto.SubmissionListResponse{
		Items:    dto.NewSubmissionSummaries(items),
		Page:     filter.Page,
		PageSize: filter.PageSize,
		Total:    total,
	}, nil
}

func (s *adminSubmissionService) Get(ctx context.Context, id string) (dto.SubmissionResponse, error) {
	submission, err := s.load(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	return dto.NewSubmissionResponse(submission), nil
}

func (s *adminSubmissionService) Review(ctx context.Context, id string, payload dto.SubmissionReviewRequest, reviewerID string) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submissions.review")
	span.SetAttributes(
		attribute.String("review.submission_id", id),
		attribute.String("review.reviewer_id", reviewerID),
	)
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.load(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return dto.SubmissionResponse{}, err
	}
	if err := reviewable(submission.Status); err != nil {
		span.SetStatus(codes.Error, "not_reviewable")
		return dto.SubmissionResponse{}, err
	}

	var comment *string
	if payload.Comment != nil {
		cleaned := strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(*payload.Comment)))
		if cleaned != "" {
			comment = &cleaned
		}
	}

	score := *payload.ReviewerScore
	err = s.repo.ApplyReview(ctx, id, repository.ReviewUpdate{
		Score:      score,
		Comment:    comment,
		ReviewedAt: s.now().UTC(),
	})
	if errors.Is(err, repository.ErrStaleStatus) {
		// Someone moved the row between the read and the write.
		current, loadErr := s.load(ctx, id)
		if loadErr != nil {
			return dto.SubmissionResponse{}, loadErr
		}
		if err := reviewable(current.Status); err != nil {
			return dto.SubmissionResponse{}, err
		}
		return dto.SubmissionResponse{}, ErrSubmissionNotReviewable
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "review_failed")
		return dto.SubmissionResponse{}, err
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.events.Publish(ctx, dto.GradingEvent{
		Type:         dto.GradingEventReviewed,
		SubmissionID: updated.ID,
		UserID:       updated.UserID,
		LessonID:     updated.LessonID,
		Status:       updated.Status,
		Score:        updated.FinalScore,
	})

	s.logger.Info().
		Str("submission_id", id).
		Str("reviewer_id", reviewerID).
		Int("score", score).
		Str("previous_status", submission.Status).
		Msg("submission reviewed")

	return dto.NewSubmissionResponse(updated), nil
}

func (s *adminSubmissionService) load(ctx context.Context, id string) (models.Submission, error) {
	submission, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrAdminSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}

func reviewable(status string) error {
	if status == models.SubmissionStatusHumanReviewed {
		return ErrSubmissionAlreadyReviewed
	}
	if !models.CanTransition(status, models.SubmissionStatusHumanReviewed) {
		return ErrSubmissionNotReviewable
	}
	return nil
}
