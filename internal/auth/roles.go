package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-realtime/internal/domain"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

// RequireUser ensures a customer is authenticated.
func RequireUser() fiber.Handler {
	return requireRole(domain.RoleUser, "customer account required")
}

// RequireAdmin ensures a staff member is authenticated.
func RequireAdmin() fiber.Handler {
	return requireRole(domain.RoleAdmin, "admin role required")
}

func requireRole(role domain.Role, message string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if principal.Role != role {
			return apperrors.NewForbidden(message)
		}
		return c.Next()
	}
}
