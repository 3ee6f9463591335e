package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets, in workflow order.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in-progress"
	TicketStatusPending    TicketStatus = "pending"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// Valid reports whether s is one of the enumerated statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusPending, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// IsTerminal reports whether customers can no longer post to the conversation.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// Valid reports whether p is one of the enumerated priorities.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	}
	return false
}

// TicketField names a mutable ticket attribute for store updates.
type TicketField string

const (
	TicketFieldStatus   TicketField = "status"
	TicketFieldPriority TicketField = "priority"
)

// Ticket is the aggregate for a customer conversation.
type Ticket struct {
	ID              string
	OwnerID         string
	Subject         string
	Message         string
	Status          TicketStatus
	Priority        TicketPriority
	AssignedAgentID *string
	Messages        []Message
	Notes           []Note
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Note is a staff-only annotation, never shown to the ticket owner.
type Note struct {
	ID        string
	TicketID  string
	AuthorID  string
	Text      string
	CreatedAt time.Time
}
