package realtime

import (
	"sync"
	"time"
)

// Side records which party of a ticket an occupant acts for.
type Side string

const (
	SideUser  Side = "user"
	SideAdmin Side = "admin"
)

// ChannelKind distinguishes notification channels.
type ChannelKind int

const (
	ChannelNone ChannelKind = iota
	ChannelUser
	ChannelAdmin
)

// Channel is a connection's notification channel: the shared admin channel or
// one user's private channel.
type Channel struct {
	Kind   ChannelKind
	UserID string
}

// Occupant is a connection joined to a ticket room.
type Occupant struct {
	Conn     Conn
	Side     Side
	JoinedAt time.Time
}

// RoomSnapshot is a point-in-time copy of a room. The zero value means no occupants.
type RoomSnapshot struct {
	TicketID string
	User     *Occupant
	Admin    *Occupant
}

// Conns lists the occupant connections.
func (r RoomSnapshot) Conns() []Conn {
	conns := make([]Conn, 0, 2)
	if r.User != nil {
		conns = append(conns, r.User.Conn)
	}
	if r.Admin != nil {
		conns = append(conns, r.Admin.Conn)
	}
	return conns
}

// Size returns the number of occupied slots.
func (r RoomSnapshot) Size() int {
	return len(r.Conns())
}

// Empty reports whether nobody occupies the room.
func (r RoomSnapshot) Empty() bool {
	return r.User == nil && r.Admin == nil
}

type room struct {
	ticketID string
	user     *Occupant
	admin    *Occupant
}

func (r *room) slot(side Side) **Occupant {
	if side == SideAdmin {
		return &r.admin
	}
	return &r.user
}

func (r *room) snapshot() RoomSnapshot {
	snap := RoomSnapshot{TicketID: r.ticketID}
	if r.user != nil {
		u := *r.user
		snap.User = &u
	}
	if r.admin != nil {
		a := *r.admin
		snap.Admin = &a
	}
	return snap
}

type binding struct {
	conn    Conn
	channel Channel
	rooms   map[string]Side
}

// Registry tracks live connections, their ticket rooms and notification
// channels. All state is in memory and safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*binding
	rooms    map[string]*room
	users    map[string]map[string]Conn
	admins   map[string]Conn
	now      func() time.Time
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]*binding),
		rooms:    make(map[string]*room),
		users:    make(map[string]map[string]Conn),
		admins:   make(map[string]Conn),
		now:      time.Now,
	}
}

// Register tracks a connection with no memberships. Re-registering is a no-op.
func (r *Registry) Register(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindingFor(conn)
}

func (r *Registry) bindingFor(conn Conn) *binding {
	b, ok := r.bindings[conn.ID()]
	if !ok {
		b = &binding{conn: conn, rooms: make(map[string]Side)}
		r.bindings[conn.ID()] = b
	}
	return b
}

// Bind attaches conn to a notification channel, replacing any previous one.
func (r *Registry) Bind(conn Conn, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bindingFor(conn)
	r.detachChannel(b)
	b.channel = ch
	switch ch.Kind {
	case ChannelAdmin:
		r.admins[conn.ID()] = conn
	case ChannelUser:
		set, ok := r.users[ch.UserID]
		if !ok {
			set = make(map[string]Conn)
			r.users[ch.UserID] = set
		}
		set[conn.ID()] = conn
	}
}

// Unbind removes the connection's notification channel binding.
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bindings[connID]; ok {
		r.detachChannel(b)
	}
}

func (r *Registry) detachChannel(b *binding) {
	id := b.conn.ID()
	switch b.channel.Kind {
	case ChannelAdmin:
		delete(r.admins, id)
	case ChannelUser:
		if set, ok := r.users[b.channel.UserID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.users, b.channel.UserID)
			}
		}
	}
	b.channel = Channel{}
}

// Occupy puts conn in the side slot of the ticket room, creating the room if
// needed. A previous occupant of that slot is replaced and returned.
func (r *Registry) Occupy(ticketID string, side Side, conn Conn) (RoomSnapshot, Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[ticketID]
	if !ok {
		rm = &room{ticketID: ticketID}
		r.rooms[ticketID] = rm
	}

	// A connection holds one side of a given room.
	other := SideUser
	if side == SideUser {
		other = SideAdmin
	}
	if occ := *rm.slot(other); occ != nil && occ.Conn.ID() == conn.ID() {
		*rm.slot(other) = nil
	}

	var replaced Conn
	slot := rm.slot(side)
	if prev := *slot; prev != nil && prev.Conn.ID() != conn.ID() {
		replaced = prev.Conn
		if pb, ok := r.bindings[prev.Conn.ID()]; ok {
			delete(pb.rooms, ticketID)
		}
	}
	*slot = &Occupant{Conn: conn, Side: side, JoinedAt: r.now()}
	r.bindingFor(conn).rooms[ticketID] = side

	return rm.snapshot(), replaced
}

// Vacate removes conn from the ticket room. It reports the side conn held and
// whether it was the current occupant; a connection already replaced by a
// newer one only loses its membership record. The room is deleted when the
// user side leaves or nobody remains.
func (r *Registry) Vacate(ticketID, connID string) (Side, RoomSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bindings[connID]; ok {
		delete(b.rooms, ticketID)
	}

	rm, ok := r.rooms[ticketID]
	if !ok {
		return "", RoomSnapshot{}, false
	}

	var side Side
	switch {
	case rm.user != nil && rm.user.Conn.ID() == connID:
		side = SideUser
		rm.user = nil
	case rm.admin != nil && rm.admin.Conn.ID() == connID:
		side = SideAdmin
		rm.admin = nil
	default:
		return "", rm.snapshot(), false
	}

	remaining := rm.snapshot()
	if side == SideUser || (rm.user == nil && rm.admin == nil) {
		delete(r.rooms, ticketID)
		if rm.admin != nil {
			if ab, ok := r.bindings[rm.admin.Conn.ID()]; ok {
				delete(ab.rooms, ticketID)
			}
		}
	}
	return side, remaining, true
}

// Lookup returns the room's occupants; an unknown ticket has none.
func (r *Registry) Lookup(ticketID string) RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rm, ok := r.rooms[ticketID]; ok {
		return rm.snapshot()
	}
	return RoomSnapshot{TicketID: ticketID}
}

// LookupUserChannel returns every connection joined to the user's private channel.
func (r *Registry) LookupUserChannel(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	conns := make([]Conn, 0, len(set))
	for _, conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// AdminChannel returns every connection joined to the admin channel.
func (r *Registry) AdminChannel() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.admins))
	for _, conn := range r.admins {
		conns = append(conns, conn)
	}
	return conns
}

// Memberships reports the rooms and channel held by a connection.
func (r *Registry) Memberships(connID string) (map[string]Side, Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bindings[connID]
	if !ok {
		return nil, Channel{}, false
	}
	rooms := make(map[string]Side, len(b.rooms))
	for id, side := range b.rooms {
		rooms[id] = side
	}
	return rooms, b.channel, true
}

// Remove forgets a connection entirely: channel binding and any leftover
// room slots. Callers vacate rooms first to emit departure notices. It
// reports whether the connection was still registered.
func (r *Registry) Remove(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[connID]
	if !ok {
		return false
	}
	r.detachChannel(b)
	for ticketID := range b.rooms {
		if rm, ok := r.rooms[ticketID]; ok {
			if rm.user != nil && rm.user.Conn.ID() == connID {
				delete(r.rooms, ticketID)
				continue
			}
			if rm.admin != nil && rm.admin.Conn.ID() == connID {
				rm.admin = nil
				if rm.user == nil {
					delete(r.rooms, ticketID)
				}
			}
		}
	}
	delete(r.bindings, connID)
	return true
}

// RoomCount returns the number of rooms held in memory.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
