package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/codequest-api/internal/models"
	"github.com/noah-isme/codequest-api/internal/utils"
)

// RequireRole admits requests whose role claim is one of roles. Names that
// are not CodeQuest roles are ignored, so a typo closes the route instead of
// opening it. A request with no role claim at all is answered with 401.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		normalized := normalizeRoleValue(role)
		if models.IsValidRole(normalized) {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		role := normalizeRoleValue(c.Locals(LocalUserRole))
		if role == "" {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}
		if _, ok := allowed[role]; !ok {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", nil)
		}
		return c.Next()
	}
}

// RequireAdmin guards the administration area.
func RequireAdmin() fiber.Handler {
	return RequireRole(models.RoleAdmin)
}

// RequireManager admits the roles that author tests: admins and vendors.
func RequireManager() fiber.Handler {
	return RequireRole(models.RoleAdmin, models.RoleVendor)
}

// normalizeRoleValue lowercases a role stored in fiber locals. Claims decoded
// from JWTs arrive as strings; anything else counts as no role.
func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return ""
	}
}
