package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-realtime/internal/domain"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

// MemoryTicketStore keeps tickets in process memory. It is used when no
// Postgres DSN is configured and as the store in tests.
type MemoryTicketStore struct {
	mu      sync.RWMutex
	tickets map[string]*domain.Ticket
	now     func() time.Time
}

// NewMemoryTicketStore builds an empty store.
func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{
		tickets: make(map[string]*domain.Ticket),
		now:     time.Now,
	}
}

func (s *MemoryTicketStore) Create(_ context.Context, ticket *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if _, exists := s.tickets[ticket.ID]; exists {
		return apperrors.NewConflict("ticket already exists", map[string]any{"ticket_id": ticket.ID})
	}
	now := s.now()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	s.tickets[ticket.ID] = cloneTicket(ticket, true)
	return nil
}

func (s *MemoryTicketStore) GetTicket(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", id, apperrors.ErrNotFound)
	}
	return cloneTicket(ticket, true), nil
}

func (s *MemoryTicketStore) ListTickets(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	s.mu.RLock()
	matched := make([]domain.Ticket, 0, len(s.tickets))
	for _, ticket := range s.tickets {
		if matchesFilter(ticket, filter) {
			matched = append(matched, *cloneTicket(ticket, false))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	limit, offset := normalizePage(filter.Limit, filter.Offset)
	if offset >= len(matched) {
		return []domain.Ticket{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (s *MemoryTicketStore) AppendMessage(_ context.Context, ticketID string, msg domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, apperrors.ErrNotFound)
	}
	if msg.HasCorrelation() {
		for i := range ticket.Messages {
			existing := ticket.Messages[i]
			if existing.HasCorrelation() && *existing.CorrelationToken == *msg.CorrelationToken {
				return cloneMessage(existing), nil
			}
		}
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.TicketID = ticketID
	msg.CreatedAt = s.now()
	ticket.Messages = append(ticket.Messages, *cloneMessage(msg))
	ticket.UpdatedAt = msg.CreatedAt
	return cloneMessage(msg), nil
}

func (s *MemoryTicketStore) GetMessage(_ context.Context, ticketID, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ticket, ok := s.tickets[ticketID]; ok {
		for _, msg := range ticket.Messages {
			if msg.ID == messageID {
				return cloneMessage(msg), nil
			}
		}
	}
	return nil, fmt.Errorf("message %s: %w", messageID, apperrors.ErrNotFound)
}

func (s *MemoryTicketStore) UpdateField(_ context.Context, ticketID string, field domain.TicketField, value string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, apperrors.ErrNotFound)
	}
	switch field {
	case domain.TicketFieldStatus:
		status := domain.TicketStatus(value)
		if !status.Valid() {
			return nil, fmt.Errorf("invalid status %q", value)
		}
		ticket.Status = status
	case domain.TicketFieldPriority:
		priority := domain.TicketPriority(value)
		if !priority.Valid() {
			return nil, fmt.Errorf("invalid priority %q", value)
		}
		ticket.Priority = priority
	default:
		return nil, fmt.Errorf("field %q is not updatable", field)
	}
	ticket.UpdatedAt = s.now()
	return cloneTicket(ticket, false), nil
}

func (s *MemoryTicketStore) AddNote(_ context.Context, ticketID string, note domain.Note) (*domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, apperrors.ErrNotFound)
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	note.TicketID = ticketID
	note.CreatedAt = s.now()
	ticket.Notes = append(ticket.Notes, note)
	return &note, nil
}

func (s *MemoryTicketStore) Assign(_ context.Context, ticketID string, agentID *string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, apperrors.ErrNotFound)
	}
	ticket.AssignedAgentID = cloneString(agentID)
	ticket.UpdatedAt = s.now()
	return cloneTicket(ticket, false), nil
}

func matchesFilter(ticket *domain.Ticket, filter TicketFilter) bool {
	if filter.OwnerID != nil && ticket.OwnerID != *filter.OwnerID {
		return false
	}
	if filter.AssigneeID != nil && (ticket.AssignedAgentID == nil || *ticket.AssignedAgentID != *filter.AssigneeID) {
		return false
	}
	if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, ticket.Status) {
		return false
	}
	if len(filter.Priorities) > 0 && !containsPriority(filter.Priorities, ticket.Priority) {
		return false
	}
	if filter.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*filter.SearchTerm))
		if term != "" &&
			!strings.Contains(strings.ToLower(ticket.Subject), term) &&
			!strings.Contains(strings.ToLower(ticket.Message), term) {
			return false
		}
	}
	return true
}

func containsStatus(list []domain.TicketStatus, v domain.TicketStatus) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsPriority(list []domain.TicketPriority, v domain.TicketPriority) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func cloneTicket(t *domain.Ticket, withThread bool) *domain.Ticket {
	out := *t
	out.AssignedAgentID = cloneString(t.AssignedAgentID)
	out.Messages = nil
	out.Notes = nil
	if withThread {
		out.Messages = make([]domain.Message, 0, len(t.Messages))
		for _, msg := range t.Messages {
			out.Messages = append(out.Messages, *cloneMessage(msg))
		}
		out.Notes = append([]domain.Note(nil), t.Notes...)
	}
	return &out
}

func cloneMessage(m domain.Message) *domain.Message {
	out := m
	out.CorrelationToken = cloneString(m.CorrelationToken)
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
