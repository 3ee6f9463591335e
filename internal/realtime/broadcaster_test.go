package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-realtime/internal/domain"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

func TestBroadcasterSetStatus(t *testing.T) {
	f := newFixture(t)
	ticket := f.ticket(t, "u1", domain.TicketStatusOpen, domain.TicketPriorityMedium)
	owner := newConn("c1", "u1", domain.RoleUser)
	ownerPhone := newConn("c3", "u1", domain.RoleUser)
	admin := newConn("c2", "a1", domain.RoleAdmin)
	f.connect(owner, ownerPhone, admin)
	f.hub.Coordinator().JoinAsUser(ticket.ID, owner)
	f.hub.Coordinator().JoinAsAdmin(ticket.ID, admin)
	f.hub.Notifier().JoinUserChannel(ownerPhone, "u1")

	updated, err := f.hub.Broadcaster().SetStatus(context.Background(), adminIdentity("a1"), ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, updated.Status)

	for _, conn := range []*fakeConn{owner, admin} {
		got := conn.named(EventTicketStatusUpdated)
		require.Len(t, got, 1, conn.id)
		assert.Equal(t, StatusPayload{Status: domain.TicketStatusInProgress}, got[0].Data)
	}
	assert.Empty(t, ownerPhone.named(EventTicketStatusUpdated))

	notices := ownerPhone.named(EventUserTicketStatusUpdated)
	require.Len(t, notices, 1)
	payload := notices[0].Data.(NotificationPayload)
	assert.Equal(t, KindStatusChange, payload.Kind)
	assert.Equal(t, "Ticket status changed to in-progress", payload.Message)

	stored, err := f.store.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, stored.Status)
}

func TestBroadcasterAllowsAnyTransition(t *testing.T) {
	f := newFixture(t)
	ticket := f.ticket(t, "u1", domain.TicketStatusClosed, domain.TicketPriorityMedium)

	updated, err := f.hub.Broadcaster().SetStatus(context.Background(), adminIdentity("a1"), ticket.ID, domain.TicketStatusOpen)

	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, updated.Status)
}

func TestBroadcasterRejectsInvalidValues(t *testing.T) {
	f := newFixture(t)
	ticket := f.ticket(t, "u1", domain.TicketStatusOpen, domain.TicketPriorityMedium)
	admin := newConn("c2", "a1", domain.RoleAdmin)
	f.connect(admin)
	f.hub.Coordinator().JoinAsAdmin(ticket.ID, admin)
	admin.reset()

	_, err := f.hub.Broadcaster().SetStatus(context.Background(), adminIdentity("a1"), ticket.ID, "archived")
	assert.Equal(t, apperrors.CodeValidation, codeOf(t, err))

	_, err = f.hub.Broadcaster().SetPriority(context.Background(), adminIdentity("a1"), ticket.ID, "urgent")
	assert.Equal(t, apperrors.CodeValidation, codeOf(t, err))

	assert.Empty(t, admin.all())
}

func TestBroadcasterOwnershipRules(t *testing.T) {
	f := newFixture(t)
	ticket := f.ticket(t, "u1", domain.TicketStatusOpen, domain.TicketPriorityMedium)

	_, err := f.hub.Broadcaster().SetStatus(context.Background(), userIdentity("u2"), ticket.ID, domain.TicketStatusClosed)
	assert.Equal(t, apperrors.CodeForbidden, codeOf(t, err))

	updated, err := f.hub.Broadcaster().SetStatus(context.Background(), userIdentity("u1"), ticket.ID, domain.TicketStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, updated.Status)
}

func TestBroadcasterUnknownTicket(t *testing.T) {
	f := newFixture(t)

	_, err := f.hub.Broadcaster().SetPriority(context.Background(), adminIdentity("a1"), "missing", domain.TicketPriorityHigh)

	assert.Equal(t, apperrors.CodeNotFound, codeOf(t, err))
}

func TestBroadcasterPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	ticket := f.ticket(t, "u1", domain.TicketStatusOpen, domain.TicketPriorityMedium)
	owner := newConn("c1", "u1", domain.RoleUser)
	f.connect(owner)
	f.hub.Coordinator().JoinAsUser(ticket.ID, owner)
	f.hub.Notifier().JoinUserChannel(owner, "u1")
	f.store.updateErr = errStoreDown

	_, err := f.hub.Broadcaster().SetStatus(context.Background(), adminIdentity("a1"), ticket.ID, domain.TicketStatusPending)

	assert.Equal(t, apperrors.CodePersistence, codeOf(t, err))
	assert.Empty(t, owner.named(EventTicketStatusUpdated))
	assert.Empty(t, owner.named(EventUserTicketStatusUpdated))
}

func TestBroadcasterSetPriority(t *testing.T) {
	f := newFixture(t)
	ticket := f.ticket(t, "u1", domain.TicketStatusOpen, domain.TicketPriorityLow)
	owner := newConn("c1", "u1", domain.RoleUser)
	f.connect(owner)
	f.hub.Coordinator().JoinAsUser(ticket.ID, owner)
	f.hub.Notifier().JoinUserChannel(owner, "u1")

	updated, err := f.hub.Broadcaster().SetPriority(context.Background(), adminIdentity("a1"), ticket.ID, domain.TicketPriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityHigh, updated.Priority)

	got := owner.named(EventTicketPriorityUpdated)
	require.Len(t, got, 1)
	assert.Equal(t, PriorityPayload{Priority: domain.TicketPriorityHigh}, got[0].Data)
	assert.Len(t, owner.named(EventUserTicketPriorityUpdated), 1)
}

func TestStatusChangeVisibleAfterReconnect(t *testing.T) {
	f := newFixture(t)
	ticket := f.ticket(t, "u1", domain.TicketStatusOpen, domain.TicketPriorityMedium)

	_, err := f.hub.Broadcaster().SetStatus(context.Background(), adminIdentity("a1"), ticket.ID, domain.TicketStatusInProgress)
	require.NoError(t, err)

	owner := newConn("c1", "u1", domain.RoleUser)
	f.connect(owner)
	f.hub.Coordinator().JoinAsUser(ticket.ID, owner)

	assert.Empty(t, owner.named(EventTicketStatusUpdated))
	stored, err := f.store.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, stored.Status)
}
