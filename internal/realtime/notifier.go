package realtime

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-realtime/internal/domain"
)

// NotificationKind tags a lifecycle notification.
type NotificationKind string

const (
	KindNewTicket      NotificationKind = "new-ticket"
	KindUrgent         NotificationKind = "urgent"
	KindReply          NotificationKind = "reply"
	KindStatusChange   NotificationKind = "status-change"
	KindPriorityChange NotificationKind = "priority-change"
	KindAssignment     NotificationKind = "assignment"
)

// Notification is a ticket lifecycle alert addressed to a channel.
type Notification struct {
	Kind     NotificationKind
	Title    string
	Message  string
	TicketID string
}

var adminEvents = map[NotificationKind]EventName{
	KindNewTicket: EventNewTicketCreated,
	KindUrgent:    EventUrgentTicketAlert,
}

var userEvents = map[NotificationKind]EventName{
	KindReply:          EventAdminReplyToUserTicket,
	KindStatusChange:   EventUserTicketStatusUpdated,
	KindPriorityChange: EventUserTicketPriorityUpdated,
	KindAssignment:     EventUserTicketAssigned,
}

// Notifier fans lifecycle events out to the admin channel and to users'
// private channels, independently of ticket room membership.
type Notifier struct {
	registry *Registry
	emit     *emitter
	logger   *zap.Logger
}

// JoinAdminChannel subscribes conn to the shared staff channel.
func (n *Notifier) JoinAdminChannel(conn Conn) {
	n.registry.Bind(conn, Channel{Kind: ChannelAdmin})
}

// JoinUserChannel subscribes conn to userID's private channel. Every
// connection joined for the same user receives the same notifications.
func (n *Notifier) JoinUserChannel(conn Conn, userID string) {
	n.registry.Bind(conn, Channel{Kind: ChannelUser, UserID: userID})
}

// NotifyAdmins pushes to every staff connection and returns how many accepted it.
func (n *Notifier) NotifyAdmins(note Notification) int {
	name, ok := adminEvents[note.Kind]
	if !ok {
		name = EventNewTicketCreated
	}
	return n.emit.deliver(n.registry.AdminChannel(), n.emit.event(name, note.TicketID, payloadOf(note)))
}

// NotifyUser pushes to every connection of userID's private channel.
func (n *Notifier) NotifyUser(userID string, note Notification) int {
	name, ok := userEvents[note.Kind]
	if !ok {
		name = EventAdminReplyToUserTicket
	}
	delivered := n.emit.deliver(n.registry.LookupUserChannel(userID), n.emit.event(name, note.TicketID, payloadOf(note)))
	if delivered == 0 {
		n.logger.Debug("user not connected to notification channel",
			zap.String("user_id", userID),
			zap.String("ticket_id", note.TicketID),
			zap.String("kind", string(note.Kind)))
	}
	return delivered
}

// TicketCreated announces a new ticket to staff. High-priority tickets also
// raise a distinct urgent alert referencing the same ticket.
func (n *Notifier) TicketCreated(ticket *domain.Ticket) {
	n.NotifyAdmins(Notification{
		Kind:     KindNewTicket,
		Title:    "New ticket",
		Message:  ticket.Subject,
		TicketID: ticket.ID,
	})
	if ticket.Priority == domain.TicketPriorityHigh {
		n.NotifyAdmins(Notification{
			Kind:     KindUrgent,
			Title:    "Urgent ticket",
			Message:  fmt.Sprintf("High priority: %s", ticket.Subject),
			TicketID: ticket.ID,
		})
	}
}

// TicketAssigned tells the owner an agent picked up their ticket.
func (n *Notifier) TicketAssigned(ticket *domain.Ticket) {
	message := "Your ticket is no longer assigned"
	if ticket.AssignedAgentID != nil {
		message = "An agent has been assigned to your ticket"
	}
	n.NotifyUser(ticket.OwnerID, Notification{
		Kind:     KindAssignment,
		Title:    ticket.Subject,
		Message:  message,
		TicketID: ticket.ID,
	})
}

func payloadOf(note Notification) NotificationPayload {
	return NotificationPayload{
		Kind:     note.Kind,
		Title:    note.Title,
		Message:  note.Message,
		TicketID: note.TicketID,
	}
}
