package realtime

import (
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-realtime/internal/domain"
	"github.com/spec-kit/ticket-realtime/internal/observability"
)

// Conn is a live connection as seen by the hub.
type Conn interface {
	ID() string
	Identity() domain.Identity
	// Send queues evt without blocking and reports whether it was accepted.
	Send(evt Event) bool
}

// emitter delivers events to connections and accounts for drops. It never blocks.
type emitter struct {
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func (e *emitter) event(name EventName, ticketID string, data any) Event {
	return Event{Name: name, TicketID: ticketID, Timestamp: e.now().UTC(), Data: data}
}

func (e *emitter) deliver(conns []Conn, evt Event) int {
	delivered := 0
	for _, conn := range conns {
		if conn == nil {
			continue
		}
		if conn.Send(evt) {
			delivered++
			e.metrics.EventSent(string(evt.Name))
			continue
		}
		e.metrics.EventDropped(string(evt.Name))
		e.logger.Warn("send buffer full, dropping event",
			zap.String("conn_id", conn.ID()),
			zap.String("event", string(evt.Name)),
			zap.String("ticket_id", evt.TicketID))
	}
	return delivered
}

func (e *emitter) deliverOne(conn Conn, evt Event) bool {
	return e.deliver([]Conn{conn}, evt) == 1
}

func containsConn(conns []Conn, target Conn) bool {
	if target == nil {
		return false
	}
	for _, conn := range conns {
		if conn != nil && conn.ID() == target.ID() {
			return true
		}
	}
	return false
}
