package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/codequest-api/internal/config"
	"github.com/noah-isme/codequest-api/internal/handler"
	"github.com/noah-isme/codequest-api/internal/middleware"
	"github.com/noah-isme/codequest-api/internal/observability"
)

// Dependencies groups router dependencies for registration. Nil handlers
// leave their route group unregistered.
type Dependencies struct {
	AuthHandler        *handler.AuthHandler
	TestHandler        *handler.TestHandler
	InvitationHandler  *handler.InvitationHandler
	SessionHandler     *handler.SessionHandler
	SubmissionHandler  *handler.SubmissionHandler
	CodeHandler        *handler.CodeHandler
	CertificateHandler *handler.CertificateHandler
	AnalyticsHandler   *handler.AnalyticsHandler
	AdminHandler       *handler.AdminHandler
	AssetHandler       *handler.AssetHandler
	SeedHandler        *handler.SeedHandler
	JWTMiddleware      fiber.Handler
	// CodeLimiter throttles /api/code/execute. Defaults to the configured
	// per-minute limit.
	CodeLimiter  fiber.Handler
	HealthProbes []handler.Probe
	// DisableMetrics skips the /metrics route, e.g. in tests.
	DisableMetrics bool
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	if !deps.DisableMetrics {
		app.Get("/metrics", observability.MetricsHandler(cfg.MetricsToken))
	}

	api := app.Group("/api", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))

	jwt := deps.JWTMiddleware
	if jwt == nil {
		jwt = middleware.JWTProtected(cfg.JWTSecret)
	}

	if deps.AuthHandler != nil {
		deps.AuthHandler.Register(api.Group("/auth"), jwt)
	}

	if deps.TestHandler != nil {
		tests := api.Group("/tests", jwt)
		// Invitation routes first so /:id/invitations is not shadowed.
		if deps.InvitationHandler != nil {
			deps.InvitationHandler.RegisterTestRoutes(tests)
		}
		deps.TestHandler.Register(tests)
	}

	if deps.InvitationHandler != nil {
		deps.InvitationHandler.RegisterTokenRoutes(api.Group("/invitations"), jwt)
	}

	if deps.SessionHandler != nil {
		deps.SessionHandler.Register(api.Group("/sessions", jwt))
	}

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(api.Group("/submissions", jwt))
	}

	if deps.CodeHandler != nil {
		limiter := deps.CodeLimiter
		if limiter == nil {
			limiter = middleware.RateLimit("code-execute", cfg.CodeExecuteRateLimit, time.Minute)
		}
		deps.CodeHandler.Register(api.Group("/code", jwt), limiter)
	}

	if deps.CertificateHandler != nil {
		deps.CertificateHandler.Register(api.Group("/certificates"), jwt)
	}

	if deps.AnalyticsHandler != nil {
		deps.AnalyticsHandler.RegisterEvents(api.Group("/analytics", jwt))
		vendor := api.Group("/vendor", jwt)
		deps.AnalyticsHandler.RegisterVendor(vendor)
		if deps.AssetHandler != nil {
			deps.AssetHandler.Register(vendor.Group("/assets", middleware.RequireManager()))
		}
	}

	if deps.AdminHandler != nil {
		deps.AdminHandler.Register(api.Group("/admin", jwt, middleware.RequireAdmin()))
	}

	if deps.SeedHandler != nil {
		deps.SeedHandler.Register(api.Group("/seed"))
	}
}
