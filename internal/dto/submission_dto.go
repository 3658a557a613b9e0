package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

// SubmissionListQuery describes query string filters for the admin listing.
type SubmissionListQuery struct {
	Status   string `query:"status" validate:"omitempty,oneof=submitted ai_graded grading_failed human_reviewed"`
	Page     int    `query:"page" validate:"omitempty,gte=1"`
	PageSize int    `query:"page_size" validate:"omitempty,gte=1,lte=100"`
}

// SubmissionReviewRequest is the reviewer's final verdict on a submission.
type SubmissionReviewRequest struct {
	ReviewerScore *int    `json:"reviewer_score" validate:"required,gte=0,lte=100"`
	Comment       *string `json:"comment" validate:"omitempty,max=5000"`
}

// SubmissionResponse is returned to reviewers.
type SubmissionResponse struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	LessonID        string            `json:"lesson_id"`
	Content         string            `json:"content"`
	Status          string            `json:"status"`
	LLMScore        *int              `json:"llm_score"`
	LLMFeedback     []ai.FeedbackItem `json:"llm_feedback"`
	ReviewerScore   *int              `json:"reviewer_score"`
	ReviewerComment *string           `json:"reviewer_comment"`
	FinalScore      *int              `json:"final_score"`
	SubmittedAt     time.Time         `json:"submitted_at"`
	ReviewedAt      *time.Time        `json:"reviewed_at"`
}

// SubmissionSummary is the listing view, without the answer body or feedback.
type SubmissionSummary struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	LessonID    string    `json:"lesson_id"`
	Status      string    `json:"status"`
	LLMScore    *int      `json:"llm_score"`
	FinalScore  *int      `json:"final_score"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// SubmissionListResponse wraps one page of summaries.
type SubmissionListResponse struct {
	Items    []SubmissionSummary `json:"items"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Total    int64               `json:"total"`
}

// NewSubmissionResponse converts a Submission model into a DTO. Feedback that
// cannot be decoded is reported as empty.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	feedback, err := model.Feedback()
	if err != nil || feedback == nil {
		feedback = []ai.FeedbackItem{}
	}

	return SubmissionResponse{
		ID:              model.ID,
		UserID:          model.UserID,
		LessonID:        model.LessonID,
		Content:         model.Content,
		Status:          model.Status,
		LLMScore:        model.LLMScore,
		LLMFeedback:     feedback,
		ReviewerScore:   model.ReviewerScore,
		ReviewerComment: model.ReviewerComment,
		FinalScore:      model.FinalScore,
		SubmittedAt:     model.SubmittedAt,
		ReviewedAt:      model.ReviewedAt,
	}
}

// NewSubmissionSummaries converts a page of models.
func NewSubmissionSummaries(items []models.Submission) []SubmissionSummary {
	summaries := make([]SubmissionSummary, 0, len(items))
	for _, item := range items {
		summaries = append(summaries, SubmissionSummary{
			ID:          item.ID,
			UserID:      item.UserID,
			LessonID:    item.LessonID,
			Status:      item.Status,
			LLMScore:    item.LLMScore,
			FinalScore:  item.FinalScore,
			SubmittedAt: item.SubmittedAt,
		})
	}
	return summaries
}
