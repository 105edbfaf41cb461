package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codequest-api/internal/middleware"
	"github.com/noah-isme/codequest-api/internal/service"
	"github.com/noah-isme/codequest-api/internal/utils"
)

// CertificateHandler lists a candidate's certificates and verifies them
// publicly by UUID.
type CertificateHandler struct {
	service service.CertificateService
	logger  zerolog.Logger
}

func NewCertificateHandler(service service.CertificateService, logger zerolog.Logger) *CertificateHandler {
	return &CertificateHandler{
		service: service,
		logger:  logger.With().Str("component", "certificate_handler").Logger(),
	}
}

// Register wires certificate routes. Only /mine requires a token.
func (h *CertificateHandler) Register(router fiber.Router, protect fiber.Handler) {
	router.Get("/mine", protect, middleware.WithAuth(h.mine, middleware.AuthOptions{RequireUser: true}))
	router.Get("/:uuid", h.verify)
}

func (h *CertificateHandler) mine(c *fiber.Ctx) error {
	certificates, err := h.service.Mine(requestContext(c), principalFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "certificates retrieved", certificates)
}

func (h *CertificateHandler) verify(c *fiber.Ctx) error {
	uuid := strings.TrimSpace(c.Params("uuid"))
	if uuid == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "uuid is required")
	}

	certificate, err := h.service.Verify(requestContext(c), uuid)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "certificate verified", certificate)
}
