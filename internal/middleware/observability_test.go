package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/observability"
)

func TestObservabilityCountsByRouteTemplate(t *testing.T) {
	app := fiber.New()
	app.Use(Observability(zerolog.Nop()))
	app.Get("/api/v1/admin/submissions/:id", func(c *fiber.Ctx) error {
		if c.Params("id") == "missing" {
			return c.SendStatus(fiber.StatusNotFound)
		}
		return c.SendStatus(fiber.StatusOK)
	})

	route := "/api/v1/admin/submissions/:id"
	okBefore := testutil.ToFloat64(observability.APIRequests().WithLabelValues(http.MethodGet, route, "200"))
	errBefore := testutil.ToFloat64(observability.APIErrors().WithLabelValues(http.MethodGet, route, "404"))

	for _, id := range []string{"a1", "b2", "missing"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/admin/submissions/"+id, nil), -1)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
	}

	require.Equal(t, okBefore+2, testutil.ToFloat64(observability.APIRequests().WithLabelValues(http.MethodGet, route, "200")))
	require.Equal(t, errBefore+1, testutil.ToFloat64(observability.APIErrors().WithLabelValues(http.MethodGet, route, "404")))
}

func TestLatencyBucket(t *testing.T) {
	require.Equal(t, "fast", latencyBucket(10*time.Millisecond))
	require.Equal(t, "ok", latencyBucket(200*time.Millisecond))
	require.Equal(t, "slow", latencyBucket(900*time.Millisecond))
	require.Equal(t, "very_slow", latencyBucket(3*time.Second))
}
