package realtime

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-realtime/internal/observability"
)

// Lifecycle scrubs a connection from the registry when it goes away.
type Lifecycle struct {
	registry    *Registry
	coordinator *Coordinator
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// Disconnect leaves every room conn occupied, telling the remaining
// occupants, then drops its channel binding. Unknown connections are a no-op
// and it never panics into the caller. It reports how many rooms were left
// and whether this call removed the connection; only one of several racing
// calls for the same connection sees known.
func (l *Lifecycle) Disconnect(conn Conn) (left int, known bool) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("disconnect cleanup panicked",
				zap.String("conn_id", conn.ID()),
				zap.String("panic", fmt.Sprint(rec)))
			known = l.registry.Remove(conn.ID()) || known
		}
	}()

	rooms, channel, ok := l.registry.Memberships(conn.ID())
	if !ok {
		return 0, false
	}
	for ticketID := range rooms {
		if l.coordinator.Leave(ticketID, conn) {
			left++
		}
	}
	l.registry.Unbind(conn.ID())
	known = l.registry.Remove(conn.ID())
	l.metrics.SetRooms(l.registry.RoomCount())

	l.logger.Debug("connection cleaned up",
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", conn.Identity().UserID),
		zap.Int("rooms_left", left),
		zap.Bool("had_channel", channel.Kind != ChannelNone))
	return left, known
}
