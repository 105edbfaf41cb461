package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/codequest-api/internal/service"
	"github.com/noah-isme/codequest-api/internal/utils"
)

// AssetHandler handles question image uploads.
type AssetHandler struct {
	service service.AssetService
	logger  zerolog.Logger
}

// NewAssetHandler constructs an asset handler.
func NewAssetHandler(service service.AssetService, logger zerolog.Logger) *AssetHandler {
	return &AssetHandler{
		service: service,
		logger:  logger.With().Str("component", "asset_handler").Logger(),
	}
}

// Register wires asset routes.
func (h *AssetHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Post("", h.upload)
}

func (h *AssetHandler) upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	result, err := h.service.Upload(requestContext(c), principalFromContext(c), file)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "upload successful", result)
}

func (h *AssetHandler) list(c *fiber.Ctx) error {
	assets, err := h.service.List(requestContext(c), principalFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "assets retrieved", assets)
}
