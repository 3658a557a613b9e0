package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDPropagates(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"local":    GetCorrelationID(c),
			"context":  CorrelationIDFromContext(c.UserContext()),
			"detached": CorrelationIDFromContext(DetachedContext(c)),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "corr-42", resp.Header.Get("X-Correlation-ID"))

	var body map[string]string
	decodeJSON(t, resp, &body)
	require.Equal(t, map[string]string{"local": "corr-42", "context": "corr-42", "detached": "corr-42"}, body)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))
}
