package handler

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/models"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/queue"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

const (
	webhookSecretHeader = "X-Webhook-Secret"
	webhookInsert       = "INSERT"
)

// GradeHandler receives submission insert webhooks and queues them for grading.
type GradeHandler struct {
	jobs   queue.Queue
	secret []byte
	logger zerolog.Logger
}

// NewGradeHandler constructs the webhook handler. An empty secret disables
// the header check.
func NewGradeHandler(jobs queue.Queue, secret string, logger zerolog.Logger) *GradeHandler {
	h := &GradeHandler{
		jobs:   jobs,
		secret: []byte(strings.TrimSpace(secret)),
		logger: logger.With().Str("component", "grade_handler").Logger(),
	}
	if len(h.secret) == 0 {
		h.logger.Warn().Msg("webhook secret not configured, signature check disabled")
	}
	return h
}

// Register binds the webhook route.
func (h *GradeHandler) Register(router fiber.Router) {
	router.Post("/", h.receive)
}

func (h *GradeHandler) receive(c *fiber.Ctx) error {
	if !h.authorized(c.Get(webhookSecretHeader)) {
		observability.WebhookEvents().WithLabelValues("unauthorized").Inc()
		requestLogger(h.logger, c).Warn().Msg("webhook secret mismatch")
		return utils.SendError(c, fiber.StatusUnauthorized, "invalid webhook secret")
	}

	var payload dto.WebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		observability.WebhookEvents().WithLabelValues("invalid").Inc()
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	if reason := ignoreReason(payload); reason != "" {
		observability.WebhookEvents().WithLabelValues("ignored").Inc()
		requestLogger(h.logger, c).Debug().
			Str("type", payload.Type).
			Str("table", payload.Table).
			Str("reason", reason).
			Msg("webhook ignored")
		return c.Status(fiber.StatusOK).JSON(dto.WebhookAck{Status: "ignored", Reason: reason})
	}

	id := strings.TrimSpace(payload.Record.ID)
	if _, err := uuid.Parse(id); err != nil {
		observability.WebhookEvents().WithLabelValues("invalid").Inc()
		return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", map[string]string{"record.id": "must be a uuid"})
	}

	logger := requestLogger(h.logger, c).With().
		Str("submission_id", id).
		Str("lesson_id", payload.Record.LessonID).
		Str("user_id", payload.Record.UserID).
		Logger()

	if err := h.jobs.Enqueue(requestContext(c), id); err != nil {
		observability.WebhookEvents().WithLabelValues("enqueue_failed").Inc()
		logger.Error().Err(err).Msg("failed to enqueue submission")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to enqueue submission for grading, try again")
	}

	observability.WebhookEvents().WithLabelValues("queued").Inc()
	logger.Info().Msg("submission enqueued")
	return c.Status(fiber.StatusAccepted).JSON(dto.WebhookAck{Status: "queued", SubmissionID: id})
}

func (h *GradeHandler) authorized(header string) bool {
	if len(h.secret) == 0 {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(header), h.secret) == 1
}

func ignoreReason(payload dto.WebhookPayload) string {
	switch {
	case !strings.EqualFold(payload.Type, webhookInsert):
		return "not an insert"
	case payload.Table != (models.Submission{}).TableName():
		return "unexpected table"
	case payload.Record.Status != "" && payload.Record.Status != models.SubmissionStatusSubmitted:
		return "status is not submitted"
	default:
		return ""
	}
}
