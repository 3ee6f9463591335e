package ws

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-realtime/internal/domain"
	"github.com/spec-kit/ticket-realtime/internal/realtime"
)

// client adapts one upgraded socket to realtime.Conn. Outbound events go
// through a bounded buffer drained by the write pump.
type client struct {
	id       string
	identity domain.Identity
	conn     *websocket.Conn
	send     chan realtime.Event
	logger   *zap.Logger

	pingPeriod time.Duration
	writeWait  time.Duration

	closeOnce sync.Once
	closed    chan struct{}
	// done is closed once the write pump has stopped touching the socket.
	done chan struct{}
}

func newClient(conn *websocket.Conn, identity domain.Identity, opts Options, logger *zap.Logger) *client {
	buffer := opts.SendBuffer
	if buffer <= 0 {
		buffer = 64
	}
	id := uuid.NewString()
	return &client{
		id:         id,
		identity:   identity,
		conn:       conn,
		send:       make(chan realtime.Event, buffer),
		logger:     logger.With(zap.String("conn_id", id), zap.String("user_id", identity.UserID)),
		pingPeriod: opts.PingPeriod,
		writeWait:  opts.WriteWait,
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (c *client) ID() string {
	return c.id
}

func (c *client) Identity() domain.Identity {
	return c.identity
}

// Send never blocks. It refuses events once the client is closed or the
// buffer is full.
func (c *client) Send(evt realtime.Event) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- evt:
		return true
	case <-c.closed:
		return false
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// writePump owns all writes to the socket. The socket must stay valid until
// done is closed.
func (c *client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case evt := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				c.logger.Debug("socket write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("socket ping failed", zap.Error(err))
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}
