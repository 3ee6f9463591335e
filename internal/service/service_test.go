package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/ticket-realtime/internal/auth"
	"github.com/spec-kit/ticket-realtime/internal/config"
	"github.com/spec-kit/ticket-realtime/internal/domain"
	"github.com/spec-kit/ticket-realtime/internal/events"
	"github.com/spec-kit/ticket-realtime/internal/repository"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var domainErr *apperrors.DomainError
	require.True(t, errors.As(err, &domainErr), "expected domain error, got %v", err)
	return domainErr.Code
}

func newAuthService(users repository.UserRepository) *AuthService {
	return NewAuthService(config.AuthConfig{JWTSecret: "secret", AccessTokenTTLMinutes: 5, BcryptCost: 4}, users, zap.NewNop())
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newAuthService(repository.NewMemoryUserRepository())

	session, err := svc.RegisterUser(ctx, " Ada ", " Ada@Example.com ", "long-enough")
	require.NoError(t, err)
	assert.Equal(t, "Ada", session.User.Name)
	assert.Equal(t, "ada@example.com", session.User.Email)
	assert.Equal(t, domain.RoleUser, session.User.Role)

	identity, err := svc.TokenManager().Identity(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, identity.UserID)

	login, err := svc.Login(ctx, "ada@example.com", "long-enough")
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, login.User.ID)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newAuthService(repository.NewMemoryUserRepository())

	tests := []struct {
		name     string
		email    string
		password string
		code     string
	}{
		{name: "missing email", email: " ", password: "long-enough", code: apperrors.CodeValidation},
		{name: "malformed email", email: "ada", password: "long-enough", code: apperrors.CodeValidation},
		{name: "short password", email: "ada@example.com", password: "short", code: apperrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RegisterUser(ctx, "Ada", tt.email, tt.password)
			assert.Equal(t, tt.code, codeOf(t, err))
		})
	}

	_, err := svc.RegisterUser(ctx, "Ada", "ada@example.com", "long-enough")
	require.NoError(t, err)
	_, err = svc.RegisterUser(ctx, "Ada again", "ADA@example.com", "long-enough")
	assert.Equal(t, apperrors.CodeConflict, codeOf(t, err))
}

func TestLoginFailures(t *testing.T) {
	ctx := context.Background()
	users := repository.NewMemoryUserRepository()
	svc := newAuthService(users)

	_, err := svc.RegisterUser(ctx, "Ada", "ada@example.com", "long-enough")
	require.NoError(t, err)

	hash, err := auth.HashPassword("long-enough", 4)
	require.NoError(t, err)
	require.NoError(t, users.Create(ctx, &domain.User{
		Name:         "Bob",
		Email:        "bob@example.com",
		PasswordHash: hash,
		Role:         domain.RoleUser,
		Status:       domain.UserStatusSuspended,
	}))

	_, err = svc.Login(ctx, "nobody@example.com", "long-enough")
	assert.Equal(t, apperrors.CodeUnauthorized, codeOf(t, err))

	_, err = svc.Login(ctx, "ada@example.com", "wrong-password")
	assert.Equal(t, apperrors.CodeUnauthorized, codeOf(t, err))

	_, err = svc.Login(ctx, "bob@example.com", "long-enough")
	assert.Equal(t, apperrors.CodeForbidden, codeOf(t, err))
}

func TestEnsureAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newAuthService(repository.NewMemoryUserRepository())

	first, err := svc.EnsureAdmin(ctx, "staff@example.com", "staff-password")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, first.Role)

	second, err := svc.EnsureAdmin(ctx, "staff@example.com", "staff-password")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = svc.RegisterUser(ctx, "Ada", "ada@example.com", "long-enough")
	require.NoError(t, err)
	_, err = svc.EnsureAdmin(ctx, "ada@example.com", "staff-password")
	assert.Equal(t, apperrors.CodeConflict, codeOf(t, err))
}

type recordingNotifier struct {
	created  []*domain.Ticket
	assigned []*domain.Ticket
}

func (r *recordingNotifier) TicketCreated(ticket *domain.Ticket)  { r.created = append(r.created, ticket) }
func (r *recordingNotifier) TicketAssigned(ticket *domain.Ticket) { r.assigned = append(r.assigned, ticket) }

type ticketFixture struct {
	svc      *TicketService
	store    *repository.MemoryTicketStore
	users    *repository.MemoryUserRepository
	notifier *recordingNotifier
}

func newTicketFixture(t *testing.T) ticketFixture {
	t.Helper()
	store := repository.NewMemoryTicketStore()
	users := repository.NewMemoryUserRepository()
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	notifier := &recordingNotifier{}
	NewNotificationService(dispatcher, notifier, zap.NewNop(), config.NotificationConfig{WebhookURL: "http://hooks.local"}).RegisterHandlers()

	svc := NewTicketService(TicketDependencies{
		TicketStore: store,
		UserRepo:    users,
		Dispatcher:  dispatcher,
	})
	return ticketFixture{svc: svc, store: store, users: users, notifier: notifier}
}

func TestCreateTicket(t *testing.T) {
	ctx := context.Background()
	f := newTicketFixture(t)
	owner := domain.Identity{UserID: "u1", Role: domain.RoleUser}

	ticket, err := f.svc.CreateTicket(ctx, owner, TicketCreateInput{Subject: " Refund ", Message: "charged twice"})
	require.NoError(t, err)
	assert.Equal(t, "Refund", ticket.Subject)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)
	require.Len(t, f.notifier.created, 1)
	assert.Equal(t, ticket.ID, f.notifier.created[0].ID)

	_, err = f.svc.CreateTicket(ctx, owner, TicketCreateInput{Subject: "x", Message: " "})
	assert.Equal(t, apperrors.CodeValidation, codeOf(t, err))

	_, err = f.svc.CreateTicket(ctx, owner, TicketCreateInput{Subject: "x", Message: "y", Priority: "urgent"})
	assert.Equal(t, apperrors.CodeValidation, codeOf(t, err))
	assert.Len(t, f.notifier.created, 1)
}

func TestTicketVisibility(t *testing.T) {
	ctx := context.Background()
	f := newTicketFixture(t)
	owner := domain.Identity{UserID: "u1", Role: domain.RoleUser}
	staff := domain.Identity{UserID: "a1", Role: domain.RoleAdmin}

	ticket, err := f.svc.CreateTicket(ctx, owner, TicketCreateInput{Subject: "Login", Message: "spins forever"})
	require.NoError(t, err)
	_, err = f.svc.AddNote(ctx, staff, ticket.ID, "legacy browser")
	require.NoError(t, err)

	own, err := f.svc.GetTicketForUser(ctx, "u1", ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, own.Notes)

	_, err = f.svc.GetTicketForUser(ctx, "u2", ticket.ID)
	assert.Equal(t, apperrors.CodeNotFound, codeOf(t, err))

	full, err := f.svc.GetTicketForAdmin(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Len(t, full.Notes, 1)

	listed, err := f.svc.ListUserTickets(ctx, "u2", TicketListFilter{})
	require.NoError(t, err)
	assert.Empty(t, listed)

	_, err = f.svc.AddNote(ctx, staff, ticket.ID, "  ")
	assert.Equal(t, apperrors.CodeValidation, codeOf(t, err))
	_, err = f.svc.AddNote(ctx, staff, "missing", "text")
	assert.Equal(t, apperrors.CodeNotFound, codeOf(t, err))
}

func TestAssign(t *testing.T) {
	ctx := context.Background()
	f := newTicketFixture(t)
	owner := domain.Identity{UserID: "u1", Role: domain.RoleUser}
	staff := domain.Identity{UserID: "a1", Role: domain.RoleAdmin}

	agent := &domain.User{Name: "Agent", Email: "agent@example.com", Role: domain.RoleAdmin, Status: domain.UserStatusActive}
	require.NoError(t, f.users.Create(ctx, agent))
	customer := &domain.User{Name: "Ada", Email: "ada@example.com", Role: domain.RoleUser, Status: domain.UserStatusActive}
	require.NoError(t, f.users.Create(ctx, customer))

	ticket, err := f.svc.CreateTicket(ctx, owner, TicketCreateInput{Subject: "Login", Message: "spins forever"})
	require.NoError(t, err)

	assigned, err := f.svc.Assign(ctx, staff, ticket.ID, &agent.ID)
	require.NoError(t, err)
	require.NotNil(t, assigned.AssignedAgentID)
	assert.Equal(t, agent.ID, *assigned.AssignedAgentID)
	require.Len(t, f.notifier.assigned, 1)

	_, err = f.svc.Assign(ctx, staff, ticket.ID, &customer.ID)
	assert.Equal(t, apperrors.CodeValidation, codeOf(t, err))

	unknown := "ghost"
	_, err = f.svc.Assign(ctx, staff, ticket.ID, &unknown)
	assert.Equal(t, apperrors.CodeValidation, codeOf(t, err))

	blank := " "
	cleared, err := f.svc.Assign(ctx, staff, ticket.ID, &blank)
	require.NoError(t, err)
	assert.Nil(t, cleared.AssignedAgentID)
	assert.Len(t, f.notifier.assigned, 2)
}

func TestNotificationHooksOnlyLog(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	notifier := &recordingNotifier{}
	NewNotificationService(dispatcher, notifier, zap.New(core), config.NotificationConfig{
		WebhookURL: "http://hooks.local",
		EmailFrom:  "support@example.com",
	}).RegisterHandlers()

	ticket := &domain.Ticket{ID: "t1", Priority: domain.TicketPriorityHigh}
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: "t1",
		Payload:  events.TicketCreatedPayload{Ticket: ticket},
	}))

	assert.Len(t, notifier.created, 1)
	assert.Equal(t, 1, logs.FilterMessage("sendWebhookNotificationStub").Len())
	assert.Equal(t, 1, logs.FilterMessage("sendEmailNotificationStub").Len())

	quiet, quietLogs := observer.New(zapcore.DebugLevel)
	silent := events.NewInMemoryDispatcher(zap.NewNop())
	NewNotificationService(silent, &recordingNotifier{}, zap.New(quiet), config.NotificationConfig{}).RegisterHandlers()
	require.NoError(t, silent.Publish(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: "t1",
		Payload:  events.TicketCreatedPayload{Ticket: ticket},
	}))
	assert.Zero(t, quietLogs.FilterMessage("sendWebhookNotificationStub").Len())
	assert.Zero(t, quietLogs.FilterMessage("sendEmailNotificationStub").Len())
}
