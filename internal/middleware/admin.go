package middleware

import (
	"github.com/gofiber/fiber/v2"

	"taskhub/internal/config"
	"taskhub/internal/models"
	"taskhub/pkg/auth"
)

// ScopeMiddleware resolves the tenant scope of the authenticated user.
// Users with role super_admin or listed in SUPERADMIN_USER_IDS read across tenants.
func ScopeMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("user_id").(string)
		if !ok || userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		isSuperadmin := false
		if role, ok := c.Locals("user_role").(string); ok && role == auth.RoleSuperAdmin {
			isSuperadmin = true
		}
		if !isSuperadmin && cfg != nil {
			isSuperadmin = cfg.IsSuperadmin(userID)
		}

		c.Locals("is_superadmin", isSuperadmin)
		return c.Next()
	}
}

// AdminMiddleware checks if the authenticated user is a superadmin.
// It must run after ScopeMiddleware.
func AdminMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !ScopeFromContext(c).SuperAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Superadmin access required",
			})
		}
		return c.Next()
	}
}

// ScopeFromContext returns the scope set by the auth and scope middleware
func ScopeFromContext(c *fiber.Ctx) models.Scope {
	tenantID, _ := c.Locals("tenant_id").(string)
	superAdmin, _ := c.Locals("is_superadmin").(bool)
	return models.Scope{TenantID: tenantID, SuperAdmin: superAdmin}
}

// UserIDFromContext returns the authenticated user ID
func UserIDFromContext(c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(string)
	return userID
}
