package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-realtime/internal/auth"
	"github.com/spec-kit/ticket-realtime/internal/config"
	"github.com/spec-kit/ticket-realtime/internal/realtime"
	apperrors "github.com/spec-kit/ticket-realtime/pkg/util/errorutil"
)

// Options tunes a socket connection.
type Options struct {
	SendBuffer      int
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	// EventTimeout bounds the store calls made for one inbound event.
	EventTimeout   time.Duration
	AllowedOrigins []string
}

// OptionsFromConfig derives socket options from service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SendBuffer:      cfg.WebSocket.SendBuffer,
		PingPeriod:      cfg.WebSocket.PingPeriod(),
		PongWait:        cfg.WebSocket.PongWait(),
		WriteWait:       cfg.WebSocket.WriteWait(),
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		EventTimeout:    cfg.App.RequestTimeout(),
		AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
	}
}

func (o Options) withDefaults() Options {
	if o.PingPeriod <= 0 {
		o.PingPeriod = 30 * time.Second
	}
	if o.PongWait <= o.PingPeriod {
		o.PongWait = o.PingPeriod * 2
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 32 << 10
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = 10 * time.Second
	}
	return o
}

// Handler serves the real-time socket endpoint.
type Handler struct {
	hub    *realtime.Hub
	opts   Options
	logger *zap.Logger
}

// NewHandler constructs the socket handler.
func NewHandler(hub *realtime.Hub, opts Options, logger *zap.Logger) *Handler {
	return &Handler{hub: hub, opts: opts.withDefaults(), logger: logger}
}

// Upgrade rejects plain HTTP requests on the socket route. It runs after the
// auth middleware so unauthenticated upgrades never reach the hub.
func (h *Handler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("missing credentials")
	}
	return c.Next()
}

// Endpoint returns the fiber handler that upgrades and serves connections.
func (h *Handler) Endpoint() fiber.Handler {
	return websocket.New(h.Serve, websocket.Config{
		Origins:         h.origins(),
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	})
}

func (h *Handler) origins() []string {
	if len(h.opts.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return h.opts.AllowedOrigins
}

// Serve runs one connection until the peer goes away. It returns only after
// the write pump has finished, since the upgrader recycles conn on return.
func (h *Handler) Serve(conn *websocket.Conn) {
	identity, ok := auth.PrincipalFromLocals(conn.Locals(auth.PrincipalKey()))
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthenticated"))
		_ = conn.Close()
		return
	}

	cl := newClient(conn, identity, h.opts, h.logger)
	h.hub.Connect(cl)
	defer func() {
		cl.close()
		<-cl.done
		h.hub.Disconnect(cl)
	}()

	go cl.writePump()
	h.readPump(cl)
}

func (h *Handler) readPump(cl *client) {
	conn := cl.conn
	conn.SetReadLimit(h.opts.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.logger.Debug("socket closed unexpectedly", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage || len(raw) == 0 {
			continue
		}

		var in realtime.Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			h.hub.Reject(cl, in, apperrors.NewValidationError("malformed event", nil))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.opts.EventTimeout)
		_ = h.hub.Dispatch(ctx, cl, in)
		cancel()
	}
}
