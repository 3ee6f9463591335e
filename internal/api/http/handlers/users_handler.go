package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-realtime/internal/api/dto"
	"github.com/spec-kit/ticket-realtime/internal/service"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

// UsersHandler exposes auth endpoints.
type UsersHandler struct {
	auth *service.AuthService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService) *UsersHandler {
	return &UsersHandler{auth: authService}
}

// Register handles POST /auth/register.
func (h *UsersHandler) Register(c *fiber.Ctx) error {
	var req dto.UserRegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return apperrors.NewValidationError("name, email, password required", nil)
	}

	session, err := h.auth.RegisterUser(c.UserContext(), req.Name, req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": sessionResponse(session)})
}

// Login handles POST /auth/login for customers and staff alike.
func (h *UsersHandler) Login(c *fiber.Ctx) error {
	var req dto.UserLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	session, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sessionResponse(session)})
}

func sessionResponse(session *service.Session) fiber.Map {
	return fiber.Map{
		"user": dto.UserResponse{
			ID:    session.User.ID,
			Name:  session.User.Name,
			Email: session.User.Email,
			Role:  session.User.Role,
		},
		"auth": dto.AuthResponse{Token: session.Token, ExpiresAt: session.ExpiresAt},
	}
}
