package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/middleware"
	"github.com/noah-isme/gema-grading-api/internal/observability"
	"github.com/noah-isme/gema-grading-api/internal/service"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

const (
	hintDoneFrame   = "[DONE]"
	hintErrorPrefix = "[ERROR] "
	hintStreamError = "hint generation failed, please try again"
)

// HintHandler streams Socratic hints over SSE and websockets.
type HintHandler struct {
	service service.HintService
	logger  zerolog.Logger
}

// NewHintHandler constructs a handler instance.
func NewHintHandler(service service.HintService, logger zerolog.Logger) *HintHandler {
	return &HintHandler{
		service: service,
		logger:  logger.With().Str("component", "hint_handler").Logger(),
	}
}

// Register binds the hint routes.
func (h *HintHandler) Register(router fiber.Router) {
	router.Post("/", h.stream)

	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("request_ctx", middleware.DetachedContext(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *HintHandler) stream(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.HintRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	ctx, cancel := context.WithCancel(middleware.DetachedContext(c))
	hints, err := h.service.Open(ctx, userID, payload)
	if err != nil {
		cancel()
		observability.HintRequests().WithLabelValues("sse", hintOutcome(err)).Inc()
		return h.handleError(c, err)
	}

	logger := requestLogger(h.logger, c).With().Str("user_id", userID).Str("lesson_id", payload.LessonID).Logger()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		observability.HintStreamsActive().Inc()
		defer func() {
			observability.HintStreamsActive().Dec()
			_ = hints.Close()
			cancel()
		}()

		for {
			chunk, err := hints.Next()
			if errors.Is(err, io.EOF) {
				_ = writeSSEData(w, hintDoneFrame)
				observability.HintRequests().WithLabelValues("sse", "completed").Inc()
				return
			}
			if err != nil {
				logger.Error().Err(err).Msg("hint stream failed")
				_ = writeSSEData(w, hintErrorPrefix+hintStreamError)
				observability.HintRequests().WithLabelValues("sse", "stream_error").Inc()
				return
			}
			if err := writeSSEData(w, chunk); err != nil {
				logger.Debug().Err(err).Msg("hint client disconnected")
				observability.HintRequests().WithLabelValues("sse", "disconnected").Inc()
				return
			}
		}
	})

	return nil
}

func (h *HintHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"))
		_ = conn.Close()
		return
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()
	defer func() { _ = conn.Close() }()

	var payload dto.HintRequest
	if err := conn.ReadJSON(&payload); err != nil {
		_ = conn.WriteJSON(dto.HintFrame{Type: dto.HintFrameError, Data: "invalid payload"})
		return
	}

	hints, err := h.service.Open(ctx, userID, payload)
	if err != nil {
		observability.HintRequests().WithLabelValues("ws", hintOutcome(err)).Inc()
		_ = conn.WriteJSON(dto.HintFrame{Type: dto.HintFrameError, Data: publicHintError(err)})
		return
	}
	defer func() { _ = hints.Close() }()

	observability.HintStreamsActive().Inc()
	defer observability.HintStreamsActive().Dec()

	// Any inbound frame or read failure after the request ends the stream.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger := h.logger.With().Str("user_id", userID).Str("lesson_id", payload.LessonID).Logger()
	for {
		chunk, err := hints.Next()
		if errors.Is(err, io.EOF) {
			_ = conn.WriteJSON(dto.HintFrame{Type: dto.HintFrameDone})
			observability.HintRequests().WithLabelValues("ws", "completed").Inc()
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				observability.HintRequests().WithLabelValues("ws", "disconnected").Inc()
				return
			}
			logger.Error().Err(err).Msg("hint stream failed")
			_ = conn.WriteJSON(dto.HintFrame{Type: dto.HintFrameError, Data: hintStreamError})
			observability.HintRequests().WithLabelValues("ws", "stream_error").Inc()
			return
		}
		if err := conn.WriteJSON(dto.HintFrame{Type: dto.HintFrameToken, Data: chunk}); err != nil {
			observability.HintRequests().WithLabelValues("ws", "disconnected").Inc()
			return
		}
	}
}

func (h *HintHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrHintQuotaExceeded):
		return utils.SendError(c, fiber.StatusTooManyRequests, publicHintError(err))
	case errors.Is(err, service.ErrHintInvalidRequest):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrHintLessonNotFound):
		return utils.SendError(c, fiber.StatusNotFound, publicHintError(err))
	case errors.Is(err, service.ErrHintUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, publicHintError(err))
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to open hint stream")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to open hint stream")
	}
}

func publicHintError(err error) string {
	switch {
	case errors.Is(err, service.ErrHintQuotaExceeded):
		return err.Error() + ", try again tomorrow"
	case errors.Is(err, service.ErrHintLessonNotFound):
		return "could not load lesson content"
	case errors.Is(err, service.ErrHintUnavailable):
		return "hint service unavailable"
	case errors.Is(err, service.ErrHintInvalidRequest):
		return err.Error()
	default:
		return "failed to open hint stream"
	}
}

func hintOutcome(err error) string {
	switch {
	case errors.Is(err, service.ErrHintQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, service.ErrHintInvalidRequest):
		return "invalid"
	case errors.Is(err, service.ErrHintLessonNotFound):
		return "lesson_not_found"
	default:
		return "unavailable"
	}
}

// writeSSEData writes one event. Embedded newlines become extra data lines,
// which clients join back with '\n'.
func writeSSEData(w *bufio.Writer, data string) error {
	for _, line := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("\n"); err != nil {
		return err
	}
	return w.Flush()
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		if v, ok := value.(string); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
