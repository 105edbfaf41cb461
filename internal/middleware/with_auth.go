package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/utils"
)

// Auth role constants used by WithAuth helper. The concrete roles mirror the
// values stored on models.User.
const (
	AuthRoleAny       = "any"
	AuthRoleAdmin     = models.RoleAdmin
	AuthRoleVendor    = models.RoleVendor
	AuthRoleCandidate = models.RoleCandidate
	// AuthRoleManager admits admins and vendors.
	AuthRoleManager = "manager"
)

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth wraps a single handler with authentication and role guards.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	role := strings.ToLower(strings.TrimSpace(opts.Role))
	if role == "" {
		role = AuthRoleAny
	}

	requireUser := opts.RequireUser || role != AuthRoleAny

	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals(LocalUserID).(uint)
		if requireUser && userID == 0 {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}

		currentRole := normalizeRoleValue(c.Locals(LocalUserRole))
		switch role {
		case AuthRoleAny:
		case AuthRoleManager:
			if currentRole != AuthRoleAdmin && currentRole != AuthRoleVendor {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
			}
		default:
			if currentRole != role {
				return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
			}
		}

		return handler(c)
	}
}
