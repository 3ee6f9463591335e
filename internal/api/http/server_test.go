package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticket-realtime/internal/api/http"
	"github.com/spec-kit/ticket-realtime/internal/api/http/handlers"
	"github.com/spec-kit/ticket-realtime/internal/api/ws"
	"github.com/spec-kit/ticket-realtime/internal/auth"
	"github.com/spec-kit/ticket-realtime/internal/config"
	"github.com/spec-kit/ticket-realtime/internal/domain"
	"github.com/spec-kit/ticket-realtime/internal/events"
	"github.com/spec-kit/ticket-realtime/internal/observability"
	"github.com/spec-kit/ticket-realtime/internal/realtime"
	"github.com/spec-kit/ticket-realtime/internal/repository"
	"github.com/spec-kit/ticket-realtime/internal/service"
	"github.com/spec-kit/ticket-realtime/internal/worker"
)

const (
	adminEmail    = "staff@example.com"
	adminPassword = "staff-password"
)

type testServer struct {
	app     *fiber.App
	hub     *realtime.Hub
	store   *repository.MemoryTicketStore
	authSvc *service.AuthService
	metrics *observability.Metrics
	// baseURL is set once the app listens on a real socket.
	baseURL string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := repository.NewMemoryTicketStore()
	users := repository.NewMemoryUserRepository()
	metrics := observability.NewMetrics()

	hub := realtime.NewHub(realtime.HubDependencies{Store: store, Logger: logger, Metrics: metrics})
	dispatcher := events.NewInMemoryDispatcher(logger)
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, hub.Notifier(), logger, config.NotificationConfig{}))

	authSvc := service.NewAuthService(config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTLMinutes: 5, BcryptCost: 4}, users, logger)
	_, err := authSvc.EnsureAdmin(context.Background(), adminEmail, adminPassword)
	require.NoError(t, err)

	ticketSvc := service.NewTicketService(service.TicketDependencies{
		TicketStore: store,
		UserRepo:    users,
		Broadcaster: hub.Broadcaster(),
		Relay:       hub.Relay(),
		Dispatcher:  dispatcher,
		Logger:      logger,
	})

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, 0)
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler("ticket-realtime", "test", map[string]handlers.Pinger{}, hub.Registry()),
		Users:          handlers.NewUsersHandler(authSvc),
		Tickets:        handlers.NewTicketsHandler(ticketSvc),
		AdminTickets:   handlers.NewAdminTicketsHandler(ticketSvc),
		Socket:         ws.NewHandler(hub, ws.Options{}, logger),
		AuthMiddleware: auth.NewAuthMiddleware(authSvc.TokenManager()),
		Metrics:        metrics,
	})

	return &testServer{app: app, hub: hub, store: store, authSvc: authSvc, metrics: metrics}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, target, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	var req *http.Request
	if s.baseURL != "" {
		var err error
		req, err = http.NewRequest(method, s.baseURL+target, reader)
		require.NoError(t, err)
	} else {
		req = httptest.NewRequest(method, target, reader)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	var resp *http.Response
	var err error
	if s.baseURL != "" {
		resp, err = http.DefaultClient.Do(req)
	} else {
		resp, err = s.app.Test(req, -1)
	}
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &env)
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

type sessionBody struct {
	User struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
	Auth struct {
		Token string `json:"token"`
	} `json:"auth"`
}

func (s *testServer) register(t *testing.T, name, email string) sessionBody {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "long-enough-password",
	})
	require.Equal(t, http.StatusCreated, status)
	return decode[sessionBody](t, env)
}

func (s *testServer) loginAdmin(t *testing.T) sessionBody {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": adminEmail, "password": adminPassword,
	})
	require.Equal(t, http.StatusOK, status)
	return decode[sessionBody](t, env)
}

// recordingConn stands in for a socket client.
type recordingConn struct {
	id       string
	identity domain.Identity

	mu     sync.Mutex
	events []realtime.Event
}

func (c *recordingConn) ID() string                { return c.id }
func (c *recordingConn) Identity() domain.Identity { return c.identity }

func (c *recordingConn) Send(evt realtime.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return true
}

func (c *recordingConn) named(name realtime.EventName) []realtime.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []realtime.Event
	for _, evt := range c.events {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}
