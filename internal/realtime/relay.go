package realtime

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-realtime/internal/domain"
	"github.com/spec-kit/ticket-realtime/internal/repository"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

// TicketStore is the part of the ticket store the real-time layer consults.
type TicketStore interface {
	GetTicket(ctx context.Context, id string) (*domain.Ticket, error)
	GetMessage(ctx context.Context, ticketID, messageID string) (*domain.Message, error)
	AppendMessage(ctx context.Context, ticketID string, msg domain.Message) (*domain.Message, error)
	UpdateField(ctx context.Context, ticketID string, field domain.TicketField, value string) (*domain.Ticket, error)
}

// RelayRequest is one inbound chat message.
type RelayRequest struct {
	TicketID string
	Sender   domain.Identity
	Text     string
	// CorrelationToken is the client's tempId; empty when absent.
	CorrelationToken string
	// Origin receives the echo even when it is not a room occupant. May be nil.
	Origin Conn
}

// Relay persists chat messages and fans confirmed messages out to the room.
type Relay struct {
	store    TicketStore
	cache    repository.CorrelationCache
	registry *Registry
	notifier *Notifier
	emit     *emitter
	logger   *zap.Logger
}

// Relay stores the message and, only once the store confirmed it, broadcasts
// it to every room occupant with the correlation token echoed verbatim. Admin
// messages additionally notify the owner's private channel.
func (r *Relay) Relay(ctx context.Context, req RelayRequest) (*domain.Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, apperrors.NewValidationError("message text required", nil)
	}
	role := req.Sender.Role.SenderRole()

	ticket, err := r.store.GetTicket(ctx, req.TicketID)
	if err != nil {
		return nil, r.storeError("load ticket", req.TicketID, err)
	}
	if role == domain.SenderUser && ticket.OwnerID != req.Sender.UserID {
		return nil, apperrors.NewForbidden("not your ticket")
	}
	if role == domain.SenderUser && ticket.Status.IsTerminal() {
		return nil, apperrors.NewTicketClosed(ticket.ID)
	}

	var token *string
	if req.CorrelationToken != "" {
		t := req.CorrelationToken
		token = &t
		if prior, ok := r.priorSend(ctx, ticket.ID, t); ok {
			r.echoToOrigin(req.Origin, prior)
			return prior, nil
		}
	}

	msg := domain.Message{
		ID:               uuid.NewString(),
		TicketID:         ticket.ID,
		Text:             text,
		Sender:           role,
		SenderID:         req.Sender.UserID,
		CorrelationToken: token,
	}
	stored, err := r.store.AppendMessage(ctx, ticket.ID, msg)
	if err != nil {
		return nil, r.storeError("append message", ticket.ID, err)
	}
	if stored.ID != msg.ID {
		// The store collapsed a resend onto the original message.
		r.echoToOrigin(req.Origin, stored)
		return stored, nil
	}
	if token != nil {
		if err := r.cache.Remember(ctx, ticket.ID, *token, stored.ID); err != nil {
			r.logger.Warn("correlation cache write failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
	}

	evt := r.emit.event(EventTicketMessage, ticket.ID, messagePayload(stored))
	recipients := r.registry.Lookup(ticket.ID).Conns()
	if req.Origin != nil && !containsConn(recipients, req.Origin) {
		recipients = append(recipients, req.Origin)
	}
	r.emit.deliver(recipients, evt)

	if role == domain.SenderAdmin {
		r.notifier.NotifyUser(ticket.OwnerID, Notification{
			Kind:     KindReply,
			Title:    ticket.Subject,
			Message:  preview(stored.Text, 120),
			TicketID: ticket.ID,
		})
	}
	return stored, nil
}

// priorSend resolves a correlation token already recorded for the ticket.
// Cache failures count as misses; the store's own token check still applies.
func (r *Relay) priorSend(ctx context.Context, ticketID, token string) (*domain.Message, bool) {
	messageID, found, err := r.cache.Lookup(ctx, ticketID, token)
	if err != nil {
		r.logger.Warn("correlation cache lookup failed", zap.String("ticket_id", ticketID), zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	msg, err := r.store.GetMessage(ctx, ticketID, messageID)
	if err != nil {
		return nil, false
	}
	return msg, true
}

func (r *Relay) echoToOrigin(origin Conn, msg *domain.Message) {
	if origin == nil {
		return
	}
	r.emit.deliverOne(origin, r.emit.event(EventTicketMessage, msg.TicketID, messagePayload(msg)))
}

func (r *Relay) storeError(op, ticketID string, err error) error {
	return classifyStoreError(r.logger, op, ticketID, err)
}

func classifyStoreError(logger *zap.Logger, op, ticketID string, err error) error {
	if apperrors.IsNotFound(err) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	logger.Error("ticket store failure", zap.String("op", op), zap.String("ticket_id", ticketID), zap.Error(err))
	return apperrors.NewPersistenceError(err)
}

func preview(body string, max int) string {
	runes := []rune(strings.TrimSpace(body))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max-3]) + "..."
}
