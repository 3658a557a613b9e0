package dto

import "github.com/noah-isme/gema-grading-api/pkg/citation"

// HintRequest asks for a Socratic hint about a lesson.
type HintRequest struct {
	LessonID       string            `json:"lesson_id" validate:"required,min=1,max=200"`
	Question       string            `json:"question" validate:"required,min=1,max=2000"`
	StudentAttempt string            `json:"student_attempt" validate:"omitempty,max=10000"`
	Language       string            `json:"language" validate:"omitempty,max=40"`
	AnchorMap      []citation.Anchor `json:"anchor_map" validate:"omitempty,max=200,dive"`
}

// Hint stream frame types used on the websocket transport.
const (
	HintFrameToken = "token"
	HintFrameDone  = "done"
	HintFrameError = "error"
)

// HintFrame is one websocket message of a hint stream.
type HintFrame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}
