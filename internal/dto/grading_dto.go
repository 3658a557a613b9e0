package dto

import (
	"encoding/json"
	"time"
)

// WebhookPayload is the database change notification posted to /api/v1/grade.
type WebhookPayload struct {
	Type      string          `json:"type"`
	Table     string          `json:"table"`
	Schema    string          `json:"schema"`
	Record    WebhookRecord   `json:"record"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
}

// WebhookRecord holds the columns the webhook needs from the inserted row.
type WebhookRecord struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	UserID   string `json:"user_id"`
	LessonID string `json:"lesson_id"`
}

// WebhookAck is the webhook response body.
type WebhookAck struct {
	Status       string `json:"status"`
	SubmissionID string `json:"submission_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// GradingEvent is broadcast whenever a submission leaves the submitted state
// or receives a human review.
type GradingEvent struct {
	Type         string    `json:"type"`
	SubmissionID string    `json:"submission_id"`
	UserID       string    `json:"user_id"`
	LessonID     string    `json:"lesson_id"`
	Status       string    `json:"status"`
	Score        *int      `json:"score,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Grading event types.
const (
	GradingEventCompleted = "grading.completed"
	GradingEventReviewed  = "submission.reviewed"
)
