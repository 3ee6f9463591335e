package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-realtime/internal/domain"
	"github.com/spec-kit/ticket-realtime/internal/observability"
	"github.com/spec-kit/ticket-realtime/internal/repository"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeConn struct {
	id       string
	identity domain.Identity
	capacity int

	mu     sync.Mutex
	events []Event
}

func newConn(id, userID string, role domain.Role) *fakeConn {
	return &fakeConn{id: id, identity: domain.Identity{UserID: userID, Role: role}}
}

func (c *fakeConn) ID() string                { return c.id }
func (c *fakeConn) Identity() domain.Identity { return c.identity }

func (c *fakeConn) Send(evt Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity > 0 && len(c.events) >= c.capacity {
		return false
	}
	c.events = append(c.events, evt)
	return true
}

func (c *fakeConn) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *fakeConn) named(name EventName) []Event {
	var out []Event
	for _, evt := range c.all() {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// flakyStore fails selected operations on top of the in-memory store.
type flakyStore struct {
	*repository.MemoryTicketStore
	appendErr error
	updateErr error
	appends   int
}

func (s *flakyStore) AppendMessage(ctx context.Context, ticketID string, msg domain.Message) (*domain.Message, error) {
	s.appends++
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	return s.MemoryTicketStore.AppendMessage(ctx, ticketID, msg)
}

func (s *flakyStore) UpdateField(ctx context.Context, ticketID string, field domain.TicketField, value string) (*domain.Ticket, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return s.MemoryTicketStore.UpdateField(ctx, ticketID, field, value)
}

var errStoreDown = errors.New("connection refused")

type mapCache struct {
	mu      sync.Mutex
	entries map[string]string
	lookups int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]string)}
}

func (c *mapCache) Lookup(_ context.Context, ticketID, token string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	id, ok := c.entries[ticketID+"/"+token]
	return id, ok, nil
}

func (c *mapCache) Remember(_ context.Context, ticketID, token, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := ticketID + "/" + token
	if _, ok := c.entries[key]; !ok {
		c.entries[key] = messageID
	}
	return nil
}

type fixture struct {
	hub   *Hub
	store *flakyStore
	cache *mapCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := &flakyStore{MemoryTicketStore: repository.NewMemoryTicketStore()}
	cache := newMapCache()
	hub := NewHub(HubDependencies{
		Store: store,
		Cache: cache,
		Now:   func() time.Time { return fixedNow },
	})
	return &fixture{hub: hub, store: store, cache: cache}
}

func (f *fixture) ticket(t *testing.T, ownerID string, status domain.TicketStatus, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		OwnerID:  ownerID,
		Subject:  fmt.Sprintf("order issue for %s", ownerID),
		Message:  "my parcel never arrived",
		Status:   status,
		Priority: priority,
	}
	require.NoError(t, f.store.Create(context.Background(), ticket))
	return ticket
}

func (f *fixture) connect(conns ...*fakeConn) {
	for _, conn := range conns {
		f.hub.Connect(conn)
	}
}

func userIdentity(id string) domain.Identity {
	return domain.Identity{UserID: id, Role: domain.RoleUser}
}

func adminIdentity(id string) domain.Identity {
	return domain.Identity{UserID: id, Role: domain.RoleAdmin}
}

func counterValue(t *testing.T, m *observability.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(t *testing.T, m *observability.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}
