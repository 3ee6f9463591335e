package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-realtime/internal/api/dto"
	"github.com/spec-kit/ticket-realtime/internal/auth"
	"github.com/spec-kit/ticket-realtime/internal/domain"
	"github.com/spec-kit/ticket-realtime/internal/service"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

// TicketsHandler manages customer ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := currentIdentity(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), principal, service.TicketCreateInput{
		Subject:  req.Subject,
		Message:  req.Message,
		Priority: req.Priority,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.TicketSummaryFrom(ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, err := currentIdentity(c)
	if err != nil {
		return err
	}
	tickets, err := h.service.ListUserTickets(c.UserContext(), principal.UserID, parseTicketQuery(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summaries(tickets)})
}

// GetTicket GET /tickets/:id. Clients call this after reconnecting; missed
// socket events are not replayed.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, err := currentIdentity(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicketForUser(c.UserContext(), principal.UserID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketDetailFrom(ticket)})
}

// PostMessage POST /tickets/:id/messages.
func (h *TicketsHandler) PostMessage(c *fiber.Ctx) error {
	return postMessage(c, h.service)
}

func postMessage(c *fiber.Ctx, svc *service.TicketService) error {
	principal, err := currentIdentity(c)
	if err != nil {
		return err
	}
	var req dto.PostMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	msg, err := svc.PostMessage(c.UserContext(), principal, c.Params("id"), req.Message, req.TempID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.MessageFrom(msg)})
}

func currentIdentity(c *fiber.Ctx) (domain.Identity, error) {
	identity, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Identity{}, apperrors.NewUnauthorized("authentication required")
	}
	return identity, nil
}

func parseTicketQuery(c *fiber.Ctx) service.TicketListFilter {
	filter := service.TicketListFilter{}
	for _, part := range splitList(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.TicketStatus(part))
	}
	for _, part := range splitList(c.Query("priority")) {
		filter.Priorities = append(filter.Priorities, domain.TicketPriority(part))
	}
	if term := strings.TrimSpace(c.Query("q")); term != "" {
		filter.SearchTerm = &term
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func summaries(tickets []domain.Ticket) []dto.TicketSummary {
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.TicketSummaryFrom(&tickets[i]))
	}
	return items
}
