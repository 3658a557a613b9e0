package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// AdminSubmissionHandler exposes the reviewer endpoints.
type AdminSubmissionHandler struct {
	service   service.AdminSubmissionService
	events    service.GradingEventService
	logger    zerolog.Logger
	keepAlive time.Duration
}

// NewAdminSubmissionHandler constructs a handler instance. events may be nil,
// which disables the event stream.
func NewAdminSubmissionHandler(service service.AdminSubmissionService, events service.GradingEventService, logger zerolog.Logger, keepAlive time.Duration) *AdminSubmissionHandler {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &AdminSubmissionHandler{
		service:   service,
		events:    events,
		logger:    logger.With().Str("component", "admin_submission_handler").Logger(),
		keepAlive: keepAlive,
	}
}

// Register binds the reviewer routes.
func (h *AdminSubmissionHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Get("/events", h.stream)
	router.Get("/:id", h.get)
	router.Post("/:id/review", h.review)
}

func (h *AdminSubmissionHandler) list(c *fiber.Ctx) error {
	var query dto.SubmissionListQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	result, err := h.service.List(requestContext(c), query)
	if err != nil {
		return h.handleError(c, err)
	}

	meta := utils.PageMeta{Page: result.Page, PageSize: result.PageSize, Total: result.Total}
	return utils.OK(c, result.Items, "submissions", meta)
}

func (h *AdminSubmissionHandler) get(c *fiber.Ctx) error {
	submission, err := h.service.Get(requestContext(c), c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}
	return utils.SendSuccess(c, "submission", submission)
}

func (h *AdminSubmissionHandler) review(c *fiber.Ctx) error {
	var payload dto.SubmissionReviewRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	reviewerID := userIDStringFromContext(c)
	submission, err := h.service.Review(requestContext(c), c.Params("id"), payload, reviewerID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submission reviewed", submission)
}

func (h *AdminSubmissionHandler) stream(c *fiber.Ctx) error {
	if h.events == nil {
		return utils.SendError(c, fiber.StatusServiceUnavailable, "event stream disabled")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(middleware.DetachedContext(c))
	events, cleanup := h.events.Subscribe()
	keepAlive := h.keepAlive

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
		}()

		ticker := time.NewTicker(keepAlive / 2)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := writeGradingEvent(w, event); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write grading event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write grading keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func (h *AdminSubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	case errors.Is(err, service.ErrAdminSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrSubmissionAlreadyReviewed):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrSubmissionNotReviewable):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("admin submission request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func writeGradingEvent(w *bufio.Writer, event dto.GradingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}
