package realtime

import (
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-realtime/internal/observability"
)

// Coordinator manages ticket room membership and emits presence events.
type Coordinator struct {
	registry *Registry
	emit     *emitter
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// JoinAsUser places conn on the user side of the ticket room and announces it
// to every occupant, the joiner included. Re-joining replaces the previous
// user-side connection.
func (c *Coordinator) JoinAsUser(ticketID string, conn Conn) RoomSnapshot {
	return c.join(ticketID, SideUser, conn)
}

// JoinAsAdmin is the admin-side counterpart of JoinAsUser.
func (c *Coordinator) JoinAsAdmin(ticketID string, conn Conn) RoomSnapshot {
	return c.join(ticketID, SideAdmin, conn)
}

func (c *Coordinator) join(ticketID string, side Side, conn Conn) RoomSnapshot {
	snap, replaced := c.registry.Occupy(ticketID, side, conn)
	c.metrics.SetRooms(c.registry.RoomCount())

	fields := []zap.Field{
		zap.String("ticket_id", ticketID),
		zap.String("conn_id", conn.ID()),
		zap.String("side", string(side)),
	}
	if replaced != nil {
		fields = append(fields, zap.String("replaced_conn_id", replaced.ID()))
	}
	c.logger.Debug("joined ticket room", fields...)

	name := EventUserJoined
	if side == SideAdmin {
		name = EventAdminJoined
	}
	c.emit.deliver(snap.Conns(), c.emit.event(name, ticketID, PresencePayload{
		UserID: conn.Identity().UserID,
		Side:   side,
	}))
	return snap
}

// Leave removes conn from the ticket room and tells whoever remains. It
// reports whether conn was an occupant.
func (c *Coordinator) Leave(ticketID string, conn Conn) bool {
	side, remaining, ok := c.registry.Vacate(ticketID, conn.ID())
	c.metrics.SetRooms(c.registry.RoomCount())
	if !ok {
		return false
	}

	c.logger.Debug("left ticket room",
		zap.String("ticket_id", ticketID),
		zap.String("conn_id", conn.ID()),
		zap.String("side", string(side)))

	name := EventUserLeft
	if side == SideAdmin {
		name = EventAdminLeft
	}
	c.emit.deliver(remaining.Conns(), c.emit.event(name, ticketID, PresencePayload{
		UserID: conn.Identity().UserID,
		Side:   side,
	}))
	return true
}
