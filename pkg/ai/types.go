package ai

import "context"

// RubricCriterion is one scored line of an exercise rubric.
type RubricCriterion struct {
	Criterion   string `json:"criterion"`
	Points      int    `json:"points"`
	Description string `json:"description"`
}

// FeedbackItem is the model's verdict for a single rubric criterion.
type FeedbackItem struct {
	Criterion      string `json:"criterion"`
	PointsAwarded  int    `json:"points_awarded"`
	PointsPossible int    `json:"points_possible"`
	Comment        string `json:"comment"`
}

// GradingResult is the validated structured output of a grading call.
type GradingResult struct {
	OverallScore int            `json:"overall_score"`
	Feedback     []FeedbackItem `json:"feedback"`
}

// GradeRequest carries the exercise artefacts and the student's answer.
type GradeRequest struct {
	Question          string
	Rubric            []RubricCriterion
	ReferenceSolution string
	Submission        string
	Language          string
	SubjectContext    string
}

// Message is a single chat turn sent to a backend.
type Message struct {
	Role    string
	Content string
}

// Chat roles understood by every backend.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// JSONSchema names a schema handed to a backend for structured output.
type JSONSchema struct {
	Name   string
	Schema []byte
}

// TokenStream yields text deltas. Recv returns io.EOF once the stream is done.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Backend is a chat model capable of structured and streamed completions.
type Backend interface {
	Name() string
	Model() string
	CompleteJSON(ctx context.Context, messages []Message, schema JSONSchema) (string, error)
	Stream(ctx context.Context, messages []Message) (TokenStream, error)
}
