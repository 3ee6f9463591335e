package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-realtime/internal/domain"
	"github.com/spec-kit/ticket-realtime/internal/observability"
	"github.com/spec-kit/ticket-realtime/internal/repository"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

// Inbound socket event names.
const (
	InJoinTicketRoom            = "joinTicketRoom"
	InUserJoinTicketRoom        = "userJoinTicketRoom"
	InLeaveTicketRoom           = "leaveTicketRoom"
	InTicketMessage             = "ticketMessage"
	InUpdateTicketStatus        = "updateTicketStatus"
	InUpdateTicketPriority      = "updateTicketPriority"
	InUserJoinNotificationRoom  = "userJoinNotificationRoom"
	InAdminJoinNotificationRoom = "adminJoinNotificationRoom"
)

// Inbound is a client frame. Fields unused by an event are ignored.
type Inbound struct {
	Event    string `json:"event"`
	TicketID string `json:"ticketId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Message  string `json:"message,omitempty"`
	Sender   string `json:"sender,omitempty"`
	TempID   string `json:"tempId,omitempty"`
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// HubDependencies wires a Hub.
type HubDependencies struct {
	Store   TicketStore
	Cache   repository.CorrelationCache
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Hub is the composition root of the real-time layer. It owns the registry
// and routes inbound socket events to the coordinator, relay and broadcaster.
type Hub struct {
	store       TicketStore
	registry    *Registry
	coordinator *Coordinator
	relay       *Relay
	broadcaster *Broadcaster
	notifier    *Notifier
	lifecycle   *Lifecycle
	emit        *emitter
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewHub builds a hub with a fresh registry.
func NewHub(deps HubDependencies) *Hub {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cache := deps.Cache
	if cache == nil {
		cache = repository.NopCorrelationCache{}
	}

	registry := NewRegistry()
	registry.now = now
	emit := &emitter{logger: logger, metrics: deps.Metrics, now: now}
	notifier := &Notifier{registry: registry, emit: emit, logger: logger}
	coordinator := &Coordinator{registry: registry, emit: emit, logger: logger, metrics: deps.Metrics}

	return &Hub{
		store:       deps.Store,
		registry:    registry,
		coordinator: coordinator,
		relay: &Relay{
			store:    deps.Store,
			cache:    cache,
			registry: registry,
			notifier: notifier,
			emit:     emit,
			logger:   logger,
		},
		broadcaster: &Broadcaster{
			store:    deps.Store,
			registry: registry,
			notifier: notifier,
			emit:     emit,
			logger:   logger,
		},
		notifier: notifier,
		lifecycle: &Lifecycle{
			registry:    registry,
			coordinator: coordinator,
			logger:      logger,
			metrics:     deps.Metrics,
		},
		emit:    emit,
		logger:  logger,
		metrics: deps.Metrics,
	}
}

// Registry exposes room and channel membership.
func (h *Hub) Registry() *Registry { return h.registry }

// Coordinator handles room joins and leaves.
func (h *Hub) Coordinator() *Coordinator { return h.coordinator }

// Relay persists and fans out conversation messages.
func (h *Hub) Relay() *Relay { return h.relay }

// Broadcaster persists and fans out status and priority changes.
func (h *Hub) Broadcaster() *Broadcaster { return h.broadcaster }

// Notifier pushes alerts to notification channels.
func (h *Hub) Notifier() *Notifier { return h.notifier }

// Connect registers a newly authenticated connection.
func (h *Hub) Connect(conn Conn) {
	h.registry.Register(conn)
	h.metrics.ConnectionOpened()
	h.logger.Debug("connection registered",
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", conn.Identity().UserID),
		zap.String("role", string(conn.Identity().Role)))
}

// Disconnect runs the lifecycle cleanup for conn. Repeated or unknown
// disconnects leave the connection gauge alone.
func (h *Hub) Disconnect(conn Conn) {
	if _, known := h.lifecycle.Disconnect(conn); known {
		h.metrics.ConnectionClosed()
	}
}

// Dispatch handles one inbound event for conn. A failure is reported to conn
// alone as an error event and returned; other connections see nothing.
func (h *Hub) Dispatch(ctx context.Context, conn Conn, in Inbound) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("inbound event panicked",
				zap.String("conn_id", conn.ID()),
				zap.String("event", in.Event),
				zap.String("panic", fmt.Sprint(rec)))
			err = apperrors.NewInternalError(nil)
		}
		if err != nil {
			h.Reject(conn, in, err)
		}
	}()
	return h.dispatch(ctx, conn, in)
}

func (h *Hub) dispatch(ctx context.Context, conn Conn, in Inbound) error {
	identity := conn.Identity()
	ticketID := strings.TrimSpace(in.TicketID)

	switch in.Event {
	case InJoinTicketRoom:
		if !identity.IsAdmin() {
			return apperrors.NewForbidden("admin role required")
		}
		if err := h.requireTicket(ctx, ticketID); err != nil {
			return err
		}
		h.coordinator.JoinAsAdmin(ticketID, conn)
		return nil

	case InUserJoinTicketRoom:
		if err := h.requireOwner(ctx, identity, ticketID); err != nil {
			return err
		}
		h.coordinator.JoinAsUser(ticketID, conn)
		return nil

	case InLeaveTicketRoom:
		if ticketID == "" {
			return apperrors.NewValidationError("ticketId required", nil)
		}
		h.coordinator.Leave(ticketID, conn)
		return nil

	case InTicketMessage:
		if ticketID == "" {
			return apperrors.NewValidationError("ticketId required", nil)
		}
		if in.Sender != "" {
			claimed, err := domain.ParseSenderRole(in.Sender)
			if err != nil {
				return apperrors.NewValidationError("invalid sender", map[string]any{"sender": in.Sender})
			}
			if claimed != identity.Role.SenderRole() {
				return apperrors.NewForbidden("sender does not match authenticated role")
			}
		}
		_, err := h.relay.Relay(ctx, RelayRequest{
			TicketID:         ticketID,
			Sender:           identity,
			Text:             in.Message,
			CorrelationToken: in.TempID,
			Origin:           conn,
		})
		return err

	case InUpdateTicketStatus:
		if ticketID == "" {
			return apperrors.NewValidationError("ticketId required", nil)
		}
		_, err := h.broadcaster.SetStatus(ctx, identity, ticketID, domain.TicketStatus(in.Status))
		return err

	case InUpdateTicketPriority:
		if ticketID == "" {
			return apperrors.NewValidationError("ticketId required", nil)
		}
		_, err := h.broadcaster.SetPriority(ctx, identity, ticketID, domain.TicketPriority(in.Priority))
		return err

	case InUserJoinNotificationRoom:
		userID := strings.TrimSpace(in.UserID)
		if userID == "" {
			userID = identity.UserID
		}
		if userID != identity.UserID {
			return apperrors.NewForbidden("cannot subscribe to another user's notifications")
		}
		h.notifier.JoinUserChannel(conn, userID)
		return nil

	case InAdminJoinNotificationRoom:
		if !identity.IsAdmin() {
			return apperrors.NewForbidden("admin role required")
		}
		h.notifier.JoinAdminChannel(conn)
		return nil
	}
	return apperrors.NewValidationError("unknown event", map[string]any{"event": in.Event})
}

func (h *Hub) requireTicket(ctx context.Context, ticketID string) error {
	_, err := h.loadTicket(ctx, ticketID)
	return err
}

func (h *Hub) requireOwner(ctx context.Context, identity domain.Identity, ticketID string) error {
	ticket, err := h.loadTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.OwnerID != identity.UserID {
		return apperrors.NewForbidden("not your ticket")
	}
	return nil
}

func (h *Hub) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	if ticketID == "" {
		return nil, apperrors.NewValidationError("ticketId required", nil)
	}
	ticket, err := h.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, classifyStoreError(h.logger, "load ticket", ticketID, err)
	}
	return ticket, nil
}

// Reject reports err to conn alone as an error event.
func (h *Hub) Reject(conn Conn, in Inbound, err error) {
	domainErr := apperrors.ToDomainError(err)
	h.metrics.Rejected(domainErr.Code)

	level := h.logger.Debug
	if domainErr.HTTPStatus >= 500 {
		level = h.logger.Warn
	}
	level("socket event rejected",
		zap.String("conn_id", conn.ID()),
		zap.String("event", in.Event),
		zap.String("ticket_id", in.TicketID),
		zap.String("code", domainErr.Code),
		zap.Error(err))

	h.emit.deliverOne(conn, h.emit.event(EventError, in.TicketID, ErrorPayload{
		Code:    domainErr.Code,
		Message: domainErr.Message,
		Event:   in.Event,
		TempID:  in.TempID,
	}))
}
