package ai

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/noah-isme/gema-grading-api/pkg/citation"
)

// DefaultLanguage is used for feedback and hints when a request names none.
const DefaultLanguage = "Vietnamese"

const gradingSystemPrompt = "You grade student answers for a computer science course. Respond with a single JSON object that matches the requested schema and nothing else."

var gradingTemplate = template.Must(template.New("grading").Parse(`You are an experienced teaching assistant grading a student's answer to a computer science exercise. Be fair, specific and encouraging. Write every comment in {{.Language}}.
{{if .SubjectContext}}
## Subject Context
{{.SubjectContext}}
{{end}}
## Exercise Question
{{.Question}}

## Grading Rubric
{{range .Rubric}}- {{.Criterion}} ({{.Points}} points){{if .Description}}: {{.Description}}{{end}}
{{else}}- Overall correctness (100 points): judge the answer as a whole.
{{end}}
## Student's Submission
{{.Submission}}

## Reference Solution (for context only, do not penalize divergent valid approaches)
{{if .ReferenceSolution}}{{.ReferenceSolution}}{{else}}(none provided){{end}}

## Instructions
Return only a JSON object with exactly these fields:
- "overall_score": integer from 0 to 100, the percentage of the total rubric points the student earned.
- "feedback": a non-empty array with one entry per rubric criterion. Each entry has "criterion" (copied exactly from the rubric), "points_awarded" (integer, at least 0), "points_possible" (integer, the criterion's points) and "comment".
Do not add any other fields.
`))

// BuildGradingPrompt renders the grading conversation for req. The output is a
// pure function of req.
func BuildGradingPrompt(req GradeRequest) ([]Message, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("grading prompt: question is required")
	}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = DefaultLanguage
	}

	var buf bytes.Buffer
	if err := gradingTemplate.Execute(&buf, req); err != nil {
		return nil, fmt.Errorf("grading prompt: %w", err)
	}

	return []Message{
		{Role: RoleSystem, Content: gradingSystemPrompt},
		{Role: RoleUser, Content: buf.String()},
	}, nil
}

// HintPromptInput carries what a tutor needs to answer one hint request.
type HintPromptInput struct {
	LessonTitle    string
	GradingContext string
	LessonBody     string
	Anchors        []citation.Anchor
	Question       string
	StudentAttempt string
	Language       string
}

var hintTemplate = template.Must(template.New("hint").Parse(`You are a Socratic tutor for the lesson "{{.LessonTitle}}". Guide the student toward the answer with questions and hints. Never give the full solution. Answer in {{.Language}} and keep it under 200 words.
{{if .GradingContext}}
Course context: {{.GradingContext}}
{{end}}
When you refer to lesson material, cite it with a marker of the form [ref:ID] using only the IDs listed below. Do not invent IDs.

## Citable anchors
ID | Type | Label | Preview
{{range .Anchors}}{{.ID}} | {{.Type}} | {{.Label}} | {{.Preview}}
{{else}}(none, do not cite)
{{end}}
## Lesson
{{.LessonBody}}
`))

var hintQuestionTemplate = template.Must(template.New("hint_question").Parse(`Question: {{.Question}}
{{if .StudentAttempt}}
My attempt so far:
{{.StudentAttempt}}
{{end}}`))

// BuildHintPrompt renders the tutoring conversation for one hint request.
func BuildHintPrompt(input HintPromptInput) ([]Message, error) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, fmt.Errorf("hint prompt: question is required")
	}
	if strings.TrimSpace(input.Language) == "" {
		input.Language = DefaultLanguage
	}

	var system bytes.Buffer
	if err := hintTemplate.Execute(&system, input); err != nil {
		return nil, fmt.Errorf("hint prompt: %w", err)
	}

	var user bytes.Buffer
	if err := hintQuestionTemplate.Execute(&user, input); err != nil {
		return nil, fmt.Errorf("hint prompt: %w", err)
	}

	return []Message{
		{Role: RoleSystem, Content: system.String()},
		{Role: RoleUser, Content: user.String()},
	}, nil
}
