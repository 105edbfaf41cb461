package observability

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves the codequest_* collectors alongside the Go runtime
// and process metrics. When token is non-empty a scraper must present it as
// a bearer token; the endpoint sits outside /api and carries no JWT guard.
func MetricsHandler(token string) fiber.Handler {
	RegisterMetrics()
	scrape := adaptor.HTTPHandler(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	if token == "" {
		return scrape
	}

	expected := []byte("Bearer " + token)
	return func(c *fiber.Ctx) error {
		if subtle.ConstantTimeCompare([]byte(c.Get(fiber.HeaderAuthorization)), expected) != 1 {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		return scrape(c)
	}
}
