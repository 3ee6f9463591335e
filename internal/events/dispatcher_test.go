package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcherRoutesByType(t *testing.T) {
	d := NewInMemoryDispatcher(zap.NewNop())
	var created, assigned []string
	d.Subscribe(EventTicketCreated, func(_ context.Context, e Event) error {
		created = append(created, e.TicketID)
		return nil
	})
	d.Subscribe(EventTicketAssigned, func(_ context.Context, e Event) error {
		assigned = append(assigned, e.TicketID)
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: "t1"}))
	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketNoteAdded, TicketID: "t2"}))

	assert.Equal(t, []string{"t1"}, created)
	assert.Empty(t, assigned)
}

func TestDispatcherContinuesAfterFailure(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	calls := 0
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		calls++
		return errors.New("webhook down")
	})
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		calls++
		return nil
	})

	assert.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: "t1"}))
	assert.Equal(t, 2, calls)
}
