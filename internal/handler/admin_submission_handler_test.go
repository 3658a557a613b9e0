package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/handler"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/repository"
	"github.com/noah-isme/gema-grading-api/internal/service"
)

const submissionResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["success", "data", "message"],
  "properties": {
    "success": {"const": true},
    "message": {"type": "string"},
    "data": {
      "type": "object",
      "additionalProperties": false,
      "required": ["id", "user_id", "lesson_id", "content", "status", "llm_score", "llm_feedback", "reviewer_score", "reviewer_comment", "final_score", "submitted_at", "reviewed_at"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "user_id": {"type": "string"},
        "lesson_id": {"type": "string"},
        "content": {"type": "string"},
        "status": {"enum": ["submitted", "ai_graded", "grading_failed", "human_reviewed"]},
        "llm_score": {"type": ["integer", "null"]},
        "llm_feedback": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["criterion", "points_awarded", "points_possible", "comment"]
          }
        },
        "reviewer_score": {"type": ["integer", "null"], "minimum": 0, "maximum": 100},
        "reviewer_comment": {"type": ["string", "null"]},
        "final_score": {"type": ["integer", "null"]},
        "submitted_at": {"type": "string"},
        "reviewed_at": {"type": ["string", "null"]}
      }
    }
  }
}`

func newAdminApp(t *testing.T, repo repository.SubmissionRepository, events service.GradingEventService, role string) *fiber.App {
	t.Helper()
	var publisher service.GradingEventPublisher
	if events != nil {
		publisher = events
	}
	svc := service.NewAdminSubmissionService(repo, nil, publisher, zerolog.Nop())

	app := fiber.New()
	group := app.Group("/api/v1/admin", withUser("admin-1", role), middleware.RequireRole("admin"))
	handler.NewAdminSubmissionHandler(svc, events, zerolog.Nop(), time.Second).Register(group.Group("/submissions"))
	return app
}

func reviewRequest(t *testing.T, id string, payload interface{}) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/submissions/"+id+"/review", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAdminSubmissionHandlerReviewFlow(t *testing.T) {
	_, repo := setupSubmissionDB(t)
	app := newAdminApp(t, repo, nil, "admin")
	submission := seedSubmission(t, repo)
	require.NoError(t, repo.MarkAIGraded(context.Background(), submission.ID, 64, datatypes.JSON(`[{"criterion":"Complexity","points_awarded":6,"points_possible":10,"comment":"Missing best case."}]`)))

	resp, err := app.Test(reviewRequest(t, submission.ID, map[string]interface{}{"reviewer_score": 80, "comment": "<i>Good</i> fix"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	compiler := jsonschema.NewCompiler()
	require.NoError(t, compiler.AddResource("https://schemas.gema.local/submission_response.json", strings.NewReader(submissionResponseSchema)))
	schema, err := compiler.Compile("https://schemas.gema.local/submission_response.json")
	require.NoError(t, err)
	var document interface{}
	require.NoError(t, json.Unmarshal(raw, &document))
	require.NoError(t, schema.Validate(document))

	var body struct {
		Data dto.SubmissionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	require.Equal(t, "human_reviewed", body.Data.Status)
	require.Equal(t, 80, *body.Data.FinalScore)
	require.Equal(t, 64, *body.Data.LLMScore)
	require.Equal(t, "Good fix", *body.Data.ReviewerComment)
	require.Len(t, body.Data.LLMFeedback, 1)

	resp, err = app.Test(reviewRequest(t, submission.ID, map[string]interface{}{"reviewer_score": 10}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestAdminSubmissionHandlerReviewErrors(t *testing.T) {
	_, repo := setupSubmissionDB(t)
	app := newAdminApp(t, repo, nil, "admin")
	submission := seedSubmission(t, repo)

	resp, err := app.Test(reviewRequest(t, submission.ID, map[string]interface{}{"reviewer_score": 120}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	var failure struct {
		Success bool              `json:"success"`
		Details map[string]string `json:"details"`
	}
	decodeResponse(t, resp, &failure)
	require.False(t, failure.Success)
	require.Equal(t, "lte", failure.Details["ReviewerScore"])

	resp, err = app.Test(reviewRequest(t, "missing", map[string]interface{}{"reviewer_score": 50}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	require.NoError(t, repo.MarkGradingFailed(context.Background(), submission.ID))
	resp, err = app.Test(reviewRequest(t, submission.ID, map[string]interface{}{"reviewer_score": 50}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
}

func TestAdminSubmissionHandlerListAndGet(t *testing.T) {
	_, repo := setupSubmissionDB(t)
	app := newAdminApp(t, repo, nil, "admin")
	first := seedSubmission(t, repo)
	seedSubmission(t, repo)
	require.NoError(t, repo.MarkAIGraded(context.Background(), first.ID, 90, datatypes.JSON(`[]`)))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/admin/submissions?status=submitted&page_size=10", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var list struct {
		Success bool                    `json:"success"`
		Data    []dto.SubmissionSummary `json:"data"`
		Meta    struct {
			Page     int   `json:"page"`
			PageSize int   `json:"page_size"`
			Total    int64 `json:"total"`
		} `json:"meta"`
	}
	decodeResponse(t, resp, &list)
	require.True(t, list.Success)
	require.Len(t, list.Data, 1)
	require.EqualValues(t, 1, list.Meta.Total)
	require.Equal(t, 10, list.Meta.PageSize)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/admin/submissions?status=bogus", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/admin/submissions/"+first.ID, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var detail struct {
		Data dto.SubmissionResponse `json:"data"`
	}
	decodeResponse(t, resp, &detail)
	require.Equal(t, 90, *detail.Data.LLMScore)
	require.NotNil(t, detail.Data.LLMFeedback)
}

func TestAdminSubmissionHandlerRequiresAdmin(t *testing.T) {
	_, repo := setupSubmissionDB(t)
	app := newAdminApp(t, repo, nil, "student")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/admin/submissions", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

type stubGradingEvents struct {
	pending []dto.GradingEvent
}

func (s *stubGradingEvents) Publish(context.Context, dto.GradingEvent) {}

func (s *stubGradingEvents) Subscribe() (<-chan dto.GradingEvent, func()) {
	ch := make(chan dto.GradingEvent, len(s.pending))
	for _, event := range s.pending {
		ch <- event
	}
	close(ch)
	return ch, func() {}
}

func (s *stubGradingEvents) Start(context.Context) {}

func TestAdminSubmissionHandlerStreamsGradingEvents(t *testing.T) {
	_, repo := setupSubmissionDB(t)
	score := 77
	events := &stubGradingEvents{pending: []dto.GradingEvent{{
		Type:         dto.GradingEventCompleted,
		SubmissionID: "sub-1",
		Status:       "ai_graded",
		Score:        &score,
		OccurredAt:   time.Now().UTC(),
	}}}
	app := newAdminApp(t, repo, events, "admin")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/admin/submissions/events", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "event: grading.completed\n")

	frames := readSSE(t, bytes.NewReader(raw))
	require.Len(t, frames, 1)
	var event dto.GradingEvent
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &event))
	require.Equal(t, "sub-1", event.SubmissionID)
	require.Equal(t, 77, *event.Score)
}
