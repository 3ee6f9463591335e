package events

import (
	"time"

	"github.com/spec-kit/ticket-realtime/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated   EventType = "ticket_created"
	EventTicketAssigned  EventType = "ticket_assigned"
	EventTicketNoteAdded EventType = "ticket_note_added"
)

// Actor is the identity that caused an event.
type Actor struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role"`
}

// ActorFrom converts a verified identity.
func ActorFrom(identity domain.Identity) Actor {
	return Actor{UserID: identity.UserID, Role: identity.Role}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TicketCreatedPayload carries the ticket as persisted.
type TicketCreatedPayload struct {
	Ticket *domain.Ticket `json:"ticket"`
}

// TicketAssignedPayload carries the ticket after the assignment change.
type TicketAssignedPayload struct {
	Ticket          *domain.Ticket `json:"ticket"`
	PreviousAgentID *string        `json:"previous_agent_id,omitempty"`
}

// TicketNoteAddedPayload describes an internal staff note.
type TicketNoteAddedPayload struct {
	NoteID   string `json:"note_id"`
	AuthorID string `json:"author_id"`
}
