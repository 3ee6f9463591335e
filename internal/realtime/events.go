package realtime

import (
	"time"

	"github.com/spec-kit/ticket-realtime/internal/domain"
)

// EventName identifies an outbound socket event.
type EventName string

// Ticket room events.
const (
	EventAdminJoined           EventName = "adminJoined"
	EventUserJoined            EventName = "userJoined"
	EventAdminLeft             EventName = "adminLeft"
	EventUserLeft              EventName = "userLeft"
	EventTicketMessage         EventName = "ticketMessage"
	EventTicketStatusUpdated   EventName = "ticketStatusUpdated"
	EventTicketPriorityUpdated EventName = "ticketPriorityUpdated"
)

// Notification channel events.
const (
	EventNewTicketCreated          EventName = "newTicketCreated"
	EventUrgentTicketAlert         EventName = "urgentTicketAlert"
	EventAdminReplyToUserTicket    EventName = "adminReplyToUserTicket"
	EventUserTicketStatusUpdated   EventName = "userTicketStatusUpdated"
	EventUserTicketPriorityUpdated EventName = "userTicketPriorityUpdated"
	EventUserTicketAssigned        EventName = "userTicketAssigned"
)

// EventError is sent to a single connection whose request failed.
const EventError EventName = "error"

// Event is the envelope written to sockets.
type Event struct {
	Name      EventName `json:"event"`
	TicketID  string    `json:"ticketId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// PresencePayload describes who joined or left a ticket room.
type PresencePayload struct {
	UserID string `json:"userId"`
	Side   Side   `json:"side"`
}

// MessagePayload is a confirmed conversation message. TempID echoes the
// client's correlation token verbatim.
type MessagePayload struct {
	ID        string            `json:"id"`
	TicketID  string            `json:"ticketId"`
	Text      string            `json:"message"`
	Sender    domain.SenderRole `json:"sender"`
	SenderID  string            `json:"senderId,omitempty"`
	TempID    *string           `json:"tempId,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// StatusPayload carries the persisted status after a change.
type StatusPayload struct {
	Status domain.TicketStatus `json:"status"`
}

// PriorityPayload carries the persisted priority after a change.
type PriorityPayload struct {
	Priority domain.TicketPriority `json:"priority"`
}

// NotificationPayload is what notification channels receive.
type NotificationPayload struct {
	Kind     NotificationKind `json:"type"`
	Title    string           `json:"title"`
	Message  string           `json:"message"`
	TicketID string           `json:"ticketId"`
}

// ErrorPayload explains a rejected request to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
	TempID  string `json:"tempId,omitempty"`
}

func messagePayload(msg *domain.Message) MessagePayload {
	return MessagePayload{
		ID:        msg.ID,
		TicketID:  msg.TicketID,
		Text:      msg.Text,
		Sender:    msg.Sender,
		SenderID:  msg.SenderID,
		TempID:    msg.CorrelationToken,
		CreatedAt: msg.CreatedAt,
	}
}
