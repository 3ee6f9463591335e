package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-realtime/internal/config"
	"github.com/spec-kit/ticket-realtime/internal/domain"
	"github.com/spec-kit/ticket-realtime/internal/events"
)

// TicketNotifier pushes lifecycle alerts to connected sockets.
type TicketNotifier interface {
	TicketCreated(ticket *domain.Ticket)
	TicketAssigned(ticket *domain.Ticket)
}

// NotificationService turns domain events into socket notifications and
// out-of-band hooks.
type NotificationService struct {
	dispatcher events.Dispatcher
	notifier   TicketNotifier
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, notifier TicketNotifier, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
	n.dispatcher.Subscribe(events.EventTicketNoteAdded, n.handleTicketNoteAdded)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok || payload.Ticket == nil {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.logger.Info("TicketCreated",
		zap.String("ticket_id", event.TicketID),
		zap.String("priority", string(payload.Ticket.Priority)))
	n.notifier.TicketCreated(payload.Ticket)
	n.sendEmailNotificationStub(ctx, event)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleTicketAssigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketAssignedPayload)
	if !ok || payload.Ticket == nil {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	n.logger.Info("TicketAssigned", zap.String("ticket_id", event.TicketID))
	n.notifier.TicketAssigned(payload.Ticket)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleTicketNoteAdded(ctx context.Context, event events.Event) error {
	n.logger.Debug("TicketNoteAdded", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

// The email and webhook hooks only log what they would deliver.
func (n *NotificationService) sendEmailNotificationStub(_ context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(_ context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))
}
