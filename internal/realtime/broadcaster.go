package realtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-realtime/internal/domain"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

// Broadcaster applies status and priority changes and announces them to the
// ticket room and the owner's private channel.
type Broadcaster struct {
	store    TicketStore
	registry *Registry
	notifier *Notifier
	emit     *emitter
	logger   *zap.Logger
}

// SetStatus persists a new status. Any legal value may follow any other.
func (b *Broadcaster) SetStatus(ctx context.Context, actor domain.Identity, ticketID string, status domain.TicketStatus) (*domain.Ticket, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError("invalid ticket status", map[string]any{"status": string(status)})
	}
	ticket, err := b.apply(ctx, actor, ticketID, domain.TicketFieldStatus, string(status))
	if err != nil {
		return nil, err
	}

	b.emit.deliver(b.registry.Lookup(ticket.ID).Conns(),
		b.emit.event(EventTicketStatusUpdated, ticket.ID, StatusPayload{Status: ticket.Status}))
	b.notifier.NotifyUser(ticket.OwnerID, Notification{
		Kind:     KindStatusChange,
		Title:    ticket.Subject,
		Message:  fmt.Sprintf("Ticket status changed to %s", ticket.Status),
		TicketID: ticket.ID,
	})
	return ticket, nil
}

// SetPriority persists a new priority.
func (b *Broadcaster) SetPriority(ctx context.Context, actor domain.Identity, ticketID string, priority domain.TicketPriority) (*domain.Ticket, error) {
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("invalid ticket priority", map[string]any{"priority": string(priority)})
	}
	ticket, err := b.apply(ctx, actor, ticketID, domain.TicketFieldPriority, string(priority))
	if err != nil {
		return nil, err
	}

	b.emit.deliver(b.registry.Lookup(ticket.ID).Conns(),
		b.emit.event(EventTicketPriorityUpdated, ticket.ID, PriorityPayload{Priority: ticket.Priority}))
	b.notifier.NotifyUser(ticket.OwnerID, Notification{
		Kind:     KindPriorityChange,
		Title:    ticket.Subject,
		Message:  fmt.Sprintf("Ticket priority changed to %s", ticket.Priority),
		TicketID: ticket.ID,
	})
	return ticket, nil
}

func (b *Broadcaster) apply(ctx context.Context, actor domain.Identity, ticketID string, field domain.TicketField, value string) (*domain.Ticket, error) {
	if !actor.IsAdmin() {
		current, err := b.store.GetTicket(ctx, ticketID)
		if err != nil {
			return nil, classifyStoreError(b.logger, "load ticket", ticketID, err)
		}
		if current.OwnerID != actor.UserID {
			return nil, apperrors.NewForbidden("not your ticket")
		}
	}

	ticket, err := b.store.UpdateField(ctx, ticketID, field, value)
	if err != nil {
		return nil, classifyStoreError(b.logger, "update "+string(field), ticketID, err)
	}
	b.logger.Info("ticket field updated",
		zap.String("ticket_id", ticket.ID),
		zap.String("field", string(field)),
		zap.String("value", value),
		zap.String("actor_id", actor.UserID))
	return ticket, nil
}
