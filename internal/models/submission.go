package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grading-api/pkg/ai"
)

// Submission is one student answer to a lesson exercise.
type Submission struct {
	ID              string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID          string         `gorm:"size:64;not null;index" json:"user_id"`
	LessonID        string         `gorm:"size:255;not null" json:"lesson_id"`
	Content         string         `gorm:"type:text;not null" json:"content"`
	Status          string         `gorm:"size:32;not null;index" json:"status"`
	LLMScore        *int           `json:"llm_score"`
	LLMFeedback     datatypes.JSON `json:"llm_feedback"`
	ReviewerScore   *int           `json:"reviewer_score"`
	ReviewerComment *string        `gorm:"type:text" json:"reviewer_comment"`
	FinalScore      *int           `json:"final_score"`
	SubmittedAt     time.Time      `gorm:"index" json:"submitted_at"`
	ReviewedAt      *time.Time     `json:"reviewed_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

const (
	// SubmissionStatusSubmitted indicates the submission awaits AI grading.
	SubmissionStatusSubmitted = "submitted"
	// SubmissionStatusAIGraded indicates the worker stored a validated AI grade.
	SubmissionStatusAIGraded = "ai_graded"
	// SubmissionStatusGradingFailed indicates AI grading failed permanently.
	SubmissionStatusGradingFailed = "grading_failed"
	// SubmissionStatusHumanReviewed indicates a reviewer set the final score.
	SubmissionStatusHumanReviewed = "human_reviewed"
)

var submissionTransitions = map[string][]string{
	SubmissionStatusSubmitted: {SubmissionStatusAIGraded, SubmissionStatusGradingFailed, SubmissionStatusHumanReviewed},
	SubmissionStatusAIGraded:  {SubmissionStatusHumanReviewed},
}

// TableName binds the model to the shared submissions table.
func (Submission) TableName() string {
	return "exercise_submissions"
}

// BeforeCreate assigns an id and submission time when the caller left them empty.
func (s *Submission) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = SubmissionStatusSubmitted
	}
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now().UTC()
	}
	return nil
}

// CanTransitionTo reports whether moving to next keeps the status moving forward.
func (s Submission) CanTransitionTo(next string) bool {
	return CanTransition(s.Status, next)
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to string) bool {
	for _, allowed := range submissionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsValidSubmissionStatus reports whether status is a known status.
func IsValidSubmissionStatus(status string) bool {
	switch status {
	case SubmissionStatusSubmitted, SubmissionStatusAIGraded, SubmissionStatusGradingFailed, SubmissionStatusHumanReviewed:
		return true
	default:
		return false
	}
}

// Feedback decodes the stored AI feedback entries.
func (s Submission) Feedback() ([]ai.FeedbackItem, error) {
	if len(s.LLMFeedback) == 0 || string(s.LLMFeedback) == "null" {
		return nil, nil
	}
	var items []ai.FeedbackItem
	if err := json.Unmarshal(s.LLMFeedback, &items); err != nil {
		return nil, err
	}
	return items, nil
}
