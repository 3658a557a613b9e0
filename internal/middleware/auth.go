package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// Roles recognised on the grading API. Students carry whatever role the
// identity provider issues; only reviewers need an explicit one.
const (
	RoleAny   = "any"
	RoleAdmin = "admin"
)

// RequireUser rejects requests that reached it without an authenticated user.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if UserID(c) == "" {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}
		return c.Next()
	}
}

// RequireRole ensures that the authenticated user possesses one of the allowed roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		normalized := strings.ToLower(strings.TrimSpace(role))
		if normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}
	_, anyRole := allowed[RoleAny]

	return func(c *fiber.Ctx) error {
		if UserID(c) == "" {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}
		if anyRole {
			return c.Next()
		}
		if _, ok := allowed[UserRole(c)]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

// UserID returns the subject the JWT middleware stored for this request.
func UserID(c *fiber.Ctx) string {
	if v, ok := c.Locals("user_id").(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// UserRole returns the normalised role the JWT middleware stored.
func UserRole(c *fiber.Ctx) string {
	return normalizeRoleValue(c.Locals("user_role"))
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		if value == nil {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
