package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/codequest-api/internal/models"
)

func roleStatus(t *testing.T, guard fiber.Handler, role interface{}) int {
	t.Helper()
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if role != nil {
			c.Locals(LocalUserRole, role)
		}
		return c.Next()
	})
	app.Use(guard)
	app.Get("/admin", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestRequireRoleAllowsAuthorizedRoles(t *testing.T) {
	require.Equal(t, fiber.StatusOK, roleStatus(t, RequireRole("admin", "vendor"), "admin"))
	require.Equal(t, fiber.StatusOK, roleStatus(t, RequireRole(" Vendor "), "VENDOR"))
}

func TestRequireRoleRejectsUnauthorizedRoles(t *testing.T) {
	require.Equal(t, fiber.StatusForbidden, roleStatus(t, RequireRole("admin", "vendor"), "candidate"))
	require.Equal(t, fiber.StatusUnauthorized, roleStatus(t, RequireRole("admin"), nil))
	require.Equal(t, fiber.StatusUnauthorized, roleStatus(t, RequireRole("admin"), 7))
}

func TestRequireRoleIgnoresUnknownRoleNames(t *testing.T) {
	require.Equal(t, fiber.StatusForbidden, roleStatus(t, RequireRole("superuser"), "superuser"))
}

func TestRequireAdminAndManager(t *testing.T) {
	require.Equal(t, fiber.StatusOK, roleStatus(t, RequireAdmin(), models.RoleAdmin))
	require.Equal(t, fiber.StatusForbidden, roleStatus(t, RequireAdmin(), models.RoleVendor))

	require.Equal(t, fiber.StatusOK, roleStatus(t, RequireManager(), models.RoleVendor))
	require.Equal(t, fiber.StatusOK, roleStatus(t, RequireManager(), models.RoleAdmin))
	require.Equal(t, fiber.StatusForbidden, roleStatus(t, RequireManager(), models.RoleCandidate))
}
