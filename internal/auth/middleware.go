package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-realtime/internal/domain"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// AuthMiddleware validates bearer tokens and stores the caller identity.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	raw, err := bearerToken(c.Get("Authorization"))
	if err != nil {
		return err
	}
	return m.authenticate(c, raw)
}

// HandleSocket authenticates a socket upgrade. Browsers cannot set headers on
// the upgrade request, so a `token` query parameter is accepted as well.
func (m *AuthMiddleware) HandleSocket(c *fiber.Ctx) error {
	if header := c.Get("Authorization"); header != "" {
		raw, err := bearerToken(header)
		if err != nil {
			return err
		}
		return m.authenticate(c, raw)
	}
	if raw := c.Query("token"); raw != "" {
		return m.authenticate(c, raw)
	}
	return apperrors.NewUnauthorized("missing credentials")
}

func (m *AuthMiddleware) authenticate(c *fiber.Ctx, raw string) error {
	identity, err := m.tokens.Identity(raw)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}
	c.Locals(principalKey, identity)
	return c.Next()
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", apperrors.NewUnauthorized("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", apperrors.NewUnauthorized("invalid authorization header")
	}
	return parts[1], nil
}

// PrincipalFromContext retrieves the authenticated identity.
func PrincipalFromContext(c *fiber.Ctx) (domain.Identity, bool) {
	return PrincipalFromLocals(c.Locals(principalKey))
}

// PrincipalFromLocals is used where only the locals accessor is available,
// such as an upgraded socket connection.
func PrincipalFromLocals(val any) (domain.Identity, bool) {
	identity, ok := val.(domain.Identity)
	return identity, ok
}

// PrincipalKey is the locals key holding the identity.
func PrincipalKey() string {
	return principalKey
}
