package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-realtime/internal/api/dto"
	"github.com/spec-kit/ticket-realtime/internal/service"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

// AdminTicketsHandler serves the staff panel.
type AdminTicketsHandler struct {
	tickets *service.TicketService
}

// NewAdminTicketsHandler constructs handler.
func NewAdminTicketsHandler(ticketService *service.TicketService) *AdminTicketsHandler {
	return &AdminTicketsHandler{tickets: ticketService}
}

// ListTickets GET /admin/tickets.
func (h *AdminTicketsHandler) ListTickets(c *fiber.Ctx) error {
	filter := parseTicketQuery(c)
	if assignee := strings.TrimSpace(c.Query("assignee_id")); assignee != "" {
		filter.AssigneeID = &assignee
	}
	tickets, err := h.tickets.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summaries(tickets)})
}

// GetTicket GET /admin/tickets/:id.
func (h *AdminTicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.tickets.GetTicketForAdmin(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketDetailFrom(ticket)})
}

// PostMessage POST /admin/tickets/:id/messages.
func (h *AdminTicketsHandler) PostMessage(c *fiber.Ctx) error {
	return postMessage(c, h.tickets)
}

// AddNote POST /admin/tickets/:id/notes.
func (h *AdminTicketsHandler) AddNote(c *fiber.Ctx) error {
	principal, err := currentIdentity(c)
	if err != nil {
		return err
	}
	var req dto.CreateNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	note, err := h.tickets.AddNote(c.UserContext(), principal, c.Params("id"), req.Text)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NoteFrom(note)})
}

// Assign POST /admin/tickets/:id/assign.
func (h *AdminTicketsHandler) Assign(c *fiber.Ctx) error {
	principal, err := currentIdentity(c)
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.Assign(c.UserContext(), principal, c.Params("id"), req.AgentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketSummaryFrom(ticket)})
}

// UpdateStatus PATCH /admin/tickets/:id/status.
func (h *AdminTicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	principal, err := currentIdentity(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.UpdateStatus(c.UserContext(), principal, c.Params("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketSummaryFrom(ticket)})
}

// UpdatePriority PATCH /admin/tickets/:id/priority.
func (h *AdminTicketsHandler) UpdatePriority(c *fiber.Ctx) error {
	principal, err := currentIdentity(c)
	if err != nil {
		return err
	}
	var req dto.UpdatePriorityRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.UpdatePriority(c.UserContext(), principal, c.Params("id"), req.Priority)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketSummaryFrom(ticket)})
}
