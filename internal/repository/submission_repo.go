package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// ErrStaleStatus is returned by guarded updates when the row is no longer in
// a status that allows the change.
var ErrStaleStatus = errors.New("submission status no longer allows this update")

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SubmissionFilter narrows admin listings.
type SubmissionFilter struct {
	Status   *string
	Page     int
	PageSize int
}

// Normalize clamps paging values into range.
func (f SubmissionFilter) Normalize() SubmissionFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	return f
}

// ReviewUpdate is the human review written over an AI grade.
type ReviewUpdate struct {
	Score      int
	Comment    *string
	ReviewedAt time.Time
}

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id string) (models.Submission, error)
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error)
	MarkAIGraded(ctx context.Context, id string, score int, feedback datatypes.JSON) error
	MarkGradingFailed(ctx context.Context, id string) error
	ApplyReview(ctx context.Context, id string, review ReviewUpdate) error
}

type submissionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db, now: time.Now}
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&submission).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, int64, error) {
	filter = filter.Normalize()

	query := r.db.WithContext(ctx).Model(&models.Submission{})
	if filter.Status != nil && *filter.Status != "" {
		query = query.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var submissions []models.Submission
	if err := query.
		Order("submitted_at DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&submissions).Error; err != nil {
		return nil, 0, err
	}

	return submissions, total, nil
}

// MarkAIGraded stores the LLM grade in one statement. It only matches rows
// still in submitted.
func (r *submissionRepository) MarkAIGraded(ctx context.Context, id string, score int, feedback datatypes.JSON) error {
	return r.guardedUpdate(ctx, id, []string{models.SubmissionStatusSubmitted}, map[string]interface{}{
		"llm_score":    score,
		"llm_feedback": feedback,
		"status":       models.SubmissionStatusAIGraded,
	})
}

// MarkGradingFailed only touches the status column.
func (r *submissionRepository) MarkGradingFailed(ctx context.Context, id string) error {
	return r.guardedUpdate(ctx, id, []string{models.SubmissionStatusSubmitted}, map[string]interface{}{
		"status": models.SubmissionStatusGradingFailed,
	})
}

func (r *submissionRepository) ApplyReview(ctx context.Context, id string, review ReviewUpdate) error {
	return r.guardedUpdate(ctx, id, []string{models.SubmissionStatusSubmitted, models.SubmissionStatusAIGraded}, map[string]interface{}{
		"reviewer_score":   review.Score,
		"reviewer_comment": review.Comment,
		"final_score":      review.Score,
		"status":           models.SubmissionStatusHumanReviewed,
		"reviewed_at":      review.ReviewedAt,
	})
}

func (r *submissionRepository) guardedUpdate(ctx context.Context, id string, from []string, values map[string]interface{}) error {
	values["updated_at"] = r.now().UTC()

	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}
