package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-realtime/internal/domain"
	"github.com/spec-kit/ticket-realtime/internal/events"
	"github.com/spec-kit/ticket-realtime/internal/realtime"
	"github.com/spec-kit/ticket-realtime/internal/repository"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

const (
	maxSubjectLength = 200
	maxMessageLength = 10000
	maxListLimit     = 100
)

// FieldBroadcaster persists status and priority changes and fans them out.
type FieldBroadcaster interface {
	SetStatus(ctx context.Context, actor domain.Identity, ticketID string, status domain.TicketStatus) (*domain.Ticket, error)
	SetPriority(ctx context.Context, actor domain.Identity, ticketID string, priority domain.TicketPriority) (*domain.Ticket, error)
}

// MessageRelay persists a chat message and fans it out to the ticket room.
type MessageRelay interface {
	Relay(ctx context.Context, req realtime.RelayRequest) (*domain.Message, error)
}

// TicketService coordinates ticket workflows outside the socket path.
type TicketService struct {
	tickets     repository.TicketStore
	users       repository.UserRepository
	broadcaster FieldBroadcaster
	relay       MessageRelay
	dispatcher  events.Dispatcher
	logger      *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketStore repository.TicketStore
	UserRepo    repository.UserRepository
	Broadcaster FieldBroadcaster
	Relay       MessageRelay
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Subject  string
	Message  string
	Priority domain.TicketPriority
}

// TicketListFilter describes listing filters. OwnerID is forced for customers.
type TicketListFilter struct {
	AssigneeID *string
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	SearchTerm *string
	Limit      int
	Offset     int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:     deps.TicketStore,
		users:       deps.UserRepo,
		broadcaster: deps.Broadcaster,
		relay:       deps.Relay,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
	}
}

// CreateTicket opens a ticket for a customer and announces it to staff.
func (s *TicketService) CreateTicket(ctx context.Context, owner domain.Identity, input TicketCreateInput) (*domain.Ticket, error) {
	subject := strings.TrimSpace(input.Subject)
	message := strings.TrimSpace(input.Message)
	if subject == "" || message == "" {
		return nil, apperrors.NewValidationError("subject and message are required", nil)
	}
	if len(subject) > maxSubjectLength || len(message) > maxMessageLength {
		return nil, apperrors.NewValidationError("subject or message too long", map[string]any{
			"max_subject": maxSubjectLength,
			"max_message": maxMessageLength,
		})
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("invalid ticket priority", map[string]any{"priority": string(priority)})
	}

	ticket := &domain.Ticket{
		OwnerID:  owner.UserID,
		Subject:  subject,
		Message:  message,
		Status:   domain.TicketStatusOpen,
		Priority: priority,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}

	s.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("owner_id", ticket.OwnerID),
		zap.String("priority", string(ticket.Priority)))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    events.ActorFrom(owner),
		Payload:  events.TicketCreatedPayload{Ticket: ticket},
	})
	return ticket, nil
}

// ListUserTickets lists the caller's own tickets.
func (s *TicketService) ListUserTickets(ctx context.Context, userID string, filter TicketListFilter) ([]domain.Ticket, error) {
	repoFilter := toRepoFilter(filter)
	repoFilter.OwnerID = &userID
	repoFilter.AssigneeID = nil
	tickets, err := s.tickets.ListTickets(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	for i := range tickets {
		tickets[i].Notes = nil
	}
	return tickets, nil
}

// GetTicketForUser returns the conversation as the store currently holds it.
// Internal notes are never shown to the owner.
func (s *TicketService) GetTicketForUser(ctx context.Context, userID, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.OwnerID != userID {
		// Do not reveal that someone else's ticket exists.
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	ticket.Notes = nil
	return ticket, nil
}

// ListTickets lists tickets for staff.
func (s *TicketService) ListTickets(ctx context.Context, filter TicketListFilter) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListTickets(ctx, toRepoFilter(filter))
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return tickets, nil
}

// GetTicketForAdmin returns the ticket with notes.
func (s *TicketService) GetTicketForAdmin(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return s.load(ctx, ticketID)
}

// AddNote stores an internal staff note.
func (s *TicketService) AddNote(ctx context.Context, author domain.Identity, ticketID, text string) (*domain.Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.NewValidationError("note text required", nil)
	}
	if len(text) > maxMessageLength {
		return nil, apperrors.NewValidationError("note too long", map[string]any{"max_length": maxMessageLength})
	}

	note, err := s.tickets.AddNote(ctx, ticketID, domain.Note{
		ID:       uuid.NewString(),
		TicketID: ticketID,
		AuthorID: author.UserID,
		Text:     text,
	})
	if err != nil {
		return nil, storeError(ticketID, err)
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketNoteAdded,
		TicketID: ticketID,
		Actor:    events.ActorFrom(author),
		Payload:  events.TicketNoteAddedPayload{NoteID: note.ID, AuthorID: note.AuthorID},
	})
	return note, nil
}

// Assign sets or clears the handling agent. The agent must be a staff account.
func (s *TicketService) Assign(ctx context.Context, actor domain.Identity, ticketID string, agentID *string) (*domain.Ticket, error) {
	if agentID != nil {
		trimmed := strings.TrimSpace(*agentID)
		if trimmed == "" {
			agentID = nil
		} else {
			agent, err := s.users.GetByID(ctx, trimmed)
			if err != nil {
				if apperrors.IsNotFound(err) {
					return nil, apperrors.NewValidationError("unknown agent", map[string]any{"agent_id": trimmed})
				}
				return nil, apperrors.NewPersistenceError(err)
			}
			if agent.Role != domain.RoleAdmin {
				return nil, apperrors.NewValidationError("assignee must be staff", map[string]any{"agent_id": trimmed})
			}
			agentID = &trimmed
		}
	}

	current, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	ticket, err := s.tickets.Assign(ctx, ticketID, agentID)
	if err != nil {
		return nil, storeError(ticketID, err)
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketAssigned,
		TicketID: ticketID,
		Actor:    events.ActorFrom(actor),
		Payload: events.TicketAssignedPayload{
			Ticket:          ticket,
			PreviousAgentID: current.AssignedAgentID,
		},
	})
	return ticket, nil
}

// PostMessage sends a conversation message without a socket. Room occupants
// receive it exactly as if it had been sent over one.
func (s *TicketService) PostMessage(ctx context.Context, sender domain.Identity, ticketID, text, tempID string) (*domain.Message, error) {
	if len(text) > maxMessageLength {
		return nil, apperrors.NewValidationError("message too long", map[string]any{"max_length": maxMessageLength})
	}
	return s.relay.Relay(ctx, realtime.RelayRequest{
		TicketID:         ticketID,
		Sender:           sender,
		Text:             text,
		CorrelationToken: tempID,
	})
}

// UpdateStatus changes the status through the broadcaster so HTTP and socket
// mutations reach the same subscribers.
func (s *TicketService) UpdateStatus(ctx context.Context, actor domain.Identity, ticketID string, status domain.TicketStatus) (*domain.Ticket, error) {
	return s.broadcaster.SetStatus(ctx, actor, ticketID, status)
}

// UpdatePriority is the priority counterpart of UpdateStatus.
func (s *TicketService) UpdatePriority(ctx context.Context, actor domain.Identity, ticketID string, priority domain.TicketPriority) (*domain.Ticket, error) {
	return s.broadcaster.SetPriority(ctx, actor, ticketID, priority)
}

func (s *TicketService) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, storeError(ticketID, err)
	}
	return ticket, nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func toRepoFilter(filter TicketListFilter) repository.TicketFilter {
	limit := filter.Limit
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return repository.TicketFilter{
		AssigneeID: filter.AssigneeID,
		Statuses:   filter.Statuses,
		Priorities: filter.Priorities,
		SearchTerm: filter.SearchTerm,
		Limit:      limit,
		Offset:     filter.Offset,
	}
}

func storeError(ticketID string, err error) error {
	if apperrors.IsNotFound(err) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return apperrors.NewPersistenceError(err)
}
