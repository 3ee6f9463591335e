package dto

import (
	"time"

	"github.com/spec-kit/ticket-realtime/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Subject  string                `json:"subject"`
	Message  string                `json:"message"`
	Priority domain.TicketPriority `json:"priority"`
}

// PostMessageRequest payload. TempID is echoed back on the room broadcast.
type PostMessageRequest struct {
	Message string `json:"message"`
	TempID  string `json:"tempId"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// UpdatePriorityRequest payload.
type UpdatePriorityRequest struct {
	Priority domain.TicketPriority `json:"priority"`
}

// AssignRequest payload; a null or empty agent clears the assignment.
type AssignRequest struct {
	AgentID *string `json:"agent_id"`
}

// CreateNoteRequest payload.
type CreateNoteRequest struct {
	Text string `json:"text"`
}

// TicketSummary response.
type TicketSummary struct {
	ID              string                `json:"id"`
	OwnerID         string                `json:"owner_id"`
	Subject         string                `json:"subject"`
	Status          domain.TicketStatus   `json:"status"`
	Priority        domain.TicketPriority `json:"priority"`
	AssignedAgentID *string               `json:"assigned_agent_id"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info. Notes are only filled for staff.
type TicketDetailResponse struct {
	TicketSummary
	Message  string            `json:"message"`
	Messages []MessageResponse `json:"messages"`
	Notes    []NoteResponse    `json:"notes,omitempty"`
}

// MessageResponse represents one conversation entry.
type MessageResponse struct {
	ID        string            `json:"id"`
	Text      string            `json:"message"`
	Sender    domain.SenderRole `json:"sender"`
	SenderID  string            `json:"sender_id,omitempty"`
	TempID    *string           `json:"tempId,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NoteResponse represents an internal note.
type NoteResponse struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// TicketSummaryFrom maps a ticket to its summary.
func TicketSummaryFrom(ticket *domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:              ticket.ID,
		OwnerID:         ticket.OwnerID,
		Subject:         ticket.Subject,
		Status:          ticket.Status,
		Priority:        ticket.Priority,
		AssignedAgentID: ticket.AssignedAgentID,
		CreatedAt:       ticket.CreatedAt,
		UpdatedAt:       ticket.UpdatedAt,
	}
}

// TicketDetailFrom maps a ticket with its thread.
func TicketDetailFrom(ticket *domain.Ticket) TicketDetailResponse {
	msgs := make([]MessageResponse, 0, len(ticket.Messages))
	for i := range ticket.Messages {
		msgs = append(msgs, MessageFrom(&ticket.Messages[i]))
	}
	var notes []NoteResponse
	for _, note := range ticket.Notes {
		notes = append(notes, NoteFrom(&note))
	}
	return TicketDetailResponse{
		TicketSummary: TicketSummaryFrom(ticket),
		Message:       ticket.Message,
		Messages:      msgs,
		Notes:         notes,
	}
}

// MessageFrom maps a stored message.
func MessageFrom(msg *domain.Message) MessageResponse {
	return MessageResponse{
		ID:        msg.ID,
		Text:      msg.Text,
		Sender:    msg.Sender,
		SenderID:  msg.SenderID,
		TempID:    msg.CorrelationToken,
		CreatedAt: msg.CreatedAt,
	}
}

// NoteFrom maps a stored note.
func NoteFrom(note *domain.Note) NoteResponse {
	return NoteResponse{
		ID:        note.ID,
		AuthorID:  note.AuthorID,
		Text:      note.Text,
		CreatedAt: note.CreatedAt,
	}
}
