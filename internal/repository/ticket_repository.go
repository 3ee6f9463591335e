package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-realtime/internal/domain"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	OwnerID    *string
	AssigneeID *string
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	SearchTerm *string
	Limit      int
	Offset     int
}

// TicketStore is the system of record for tickets and their conversations.
type TicketStore interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	// GetTicket returns the ticket with its messages and notes.
	GetTicket(ctx context.Context, id string) (*domain.Ticket, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// AppendMessage stores msg at the end of the conversation. When msg carries a
	// correlation token already stored for the ticket, the earlier message is
	// returned unchanged and nothing is written.
	AppendMessage(ctx context.Context, ticketID string, msg domain.Message) (*domain.Message, error)
	GetMessage(ctx context.Context, ticketID, messageID string) (*domain.Message, error)
	UpdateField(ctx context.Context, ticketID string, field domain.TicketField, value string) (*domain.Ticket, error)
	AddNote(ctx context.Context, ticketID string, note domain.Note) (*domain.Note, error)
	Assign(ctx context.Context, ticketID string, agentID *string) (*domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the Postgres-backed store.
func NewTicketRepository(pool *pgxpool.Pool) TicketStore {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, owner_id, subject, message, status, priority, assigned_agent_id, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	const query = `
        INSERT INTO tickets (id, owner_id, subject, message, status, priority, assigned_agent_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.ID,
		ticket.OwnerID,
		ticket.Subject,
		ticket.Message,
		ticket.Status,
		ticket.Priority,
		ticket.AssignedAgentID,
	).Scan(&ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id)
	if err != nil {
		return nil, notFound(err, "ticket", id)
	}
	if ticket.Messages, err = r.listMessages(ctx, id); err != nil {
		return nil, err
	}
	if ticket.Notes, err = r.listNotes(ctx, id); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, args...).Scan(
		&ticket.ID,
		&ticket.OwnerID,
		&ticket.Subject,
		&ticket.Message,
		&ticket.Status,
		&ticket.Priority,
		&ticket.AssignedAgentID,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ListTickets(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		clauses = append(clauses, fmt.Sprintf("owner_id=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assigned_agent_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(subject) LIKE %s OR LOWER(message) LIKE %s)", placeholder, placeholder))
	}

	limit, offset := normalizePage(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.OwnerID,
			&ticket.Subject,
			&ticket.Message,
			&ticket.Status,
			&ticket.Priority,
			&ticket.AssignedAgentID,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) AppendMessage(ctx context.Context, ticketID string, msg domain.Message) (*domain.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.TicketID = ticketID

	var stored *domain.Message
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, `UPDATE tickets SET updated_at=NOW() WHERE id=$1`, ticketID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return fmt.Errorf("ticket %s: %w", ticketID, apperrors.ErrNotFound)
		}

		const insert = `
            INSERT INTO ticket_messages (id, ticket_id, text, sender, sender_id, correlation_token)
            VALUES ($1,$2,$3,$4,$5,$6)
            ON CONFLICT (ticket_id, correlation_token) WHERE correlation_token IS NOT NULL DO NOTHING
            RETURNING created_at`
		err = tx.QueryRow(ctx, insert,
			msg.ID,
			ticketID,
			msg.Text,
			msg.Sender,
			msg.SenderID,
			msg.CorrelationToken,
		).Scan(&msg.CreatedAt)
		if err == nil {
			stored = &msg
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) || !msg.HasCorrelation() {
			return err
		}

		// Token collision: the send already happened.
		existing, err := scanMessage(tx.QueryRow(ctx,
			`SELECT `+messageColumns+` FROM ticket_messages WHERE ticket_id=$1 AND correlation_token=$2`,
			ticketID, *msg.CorrelationToken))
		if err != nil {
			return err
		}
		stored = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *ticketRepository) GetMessage(ctx context.Context, ticketID, messageID string) (*domain.Message, error) {
	msg, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM ticket_messages WHERE ticket_id=$1 AND id=$2`, ticketID, messageID))
	if err != nil {
		return nil, notFound(err, "message", messageID)
	}
	return msg, nil
}

func (r *ticketRepository) UpdateField(ctx context.Context, ticketID string, field domain.TicketField, value string) (*domain.Ticket, error) {
	var column string
	switch field {
	case domain.TicketFieldStatus:
		if !domain.TicketStatus(value).Valid() {
			return nil, fmt.Errorf("invalid status %q", value)
		}
		column = "status"
	case domain.TicketFieldPriority:
		if !domain.TicketPriority(value).Valid() {
			return nil, fmt.Errorf("invalid priority %q", value)
		}
		column = "priority"
	default:
		return nil, fmt.Errorf("field %q is not updatable", field)
	}

	query := fmt.Sprintf(`UPDATE tickets SET %s=$1, updated_at=NOW() WHERE id=$2 RETURNING %s`, column, ticketColumns)
	ticket, err := r.fetchSingle(ctx, query, value, ticketID)
	if err != nil {
		return nil, notFound(err, "ticket", ticketID)
	}
	return ticket, nil
}

func (r *ticketRepository) AddNote(ctx context.Context, ticketID string, note domain.Note) (*domain.Note, error) {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	note.TicketID = ticketID
	const query = `
        INSERT INTO ticket_notes (id, ticket_id, author_id, text)
        SELECT $1, id, $3, $4 FROM tickets WHERE id=$2
        RETURNING created_at`
	if err := r.pool.QueryRow(ctx, query, note.ID, ticketID, note.AuthorID, note.Text).Scan(&note.CreatedAt); err != nil {
		return nil, notFound(err, "ticket", ticketID)
	}
	return &note, nil
}

func (r *ticketRepository) Assign(ctx context.Context, ticketID string, agentID *string) (*domain.Ticket, error) {
	query := `UPDATE tickets SET assigned_agent_id=$1, updated_at=NOW() WHERE id=$2 RETURNING ` + ticketColumns
	ticket, err := r.fetchSingle(ctx, query, agentID, ticketID)
	if err != nil {
		return nil, notFound(err, "ticket", ticketID)
	}
	return ticket, nil
}

const messageColumns = `id, ticket_id, text, sender, sender_id, correlation_token, created_at`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	if err := row.Scan(
		&msg.ID,
		&msg.TicketID,
		&msg.Text,
		&msg.Sender,
		&msg.SenderID,
		&msg.CorrelationToken,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *ticketRepository) listMessages(ctx context.Context, ticketID string) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM ticket_messages WHERE ticket_id=$1 ORDER BY created_at ASC, seq ASC`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *msg)
	}
	return result, rows.Err()
}

func (r *ticketRepository) listNotes(ctx context.Context, ticketID string) ([]domain.Note, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, ticket_id, author_id, text, created_at FROM ticket_notes WHERE ticket_id=$1 ORDER BY created_at ASC`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Note
	for rows.Next() {
		var note domain.Note
		if err := rows.Scan(&note.ID, &note.TicketID, &note.AuthorID, &note.Text, &note.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, note)
	}
	return result, rows.Err()
}

func notFound(err error, resource, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", resource, id, apperrors.ErrNotFound)
	}
	return err
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
