package http_test

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-realtime/internal/api/dto"
	"github.com/spec-kit/ticket-realtime/pkg/chatclient"
)

func (s *testServer) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.app.Listener(ln) }()
	t.Cleanup(func() { _ = s.app.Shutdown() })
	s.baseURL = "http://" + ln.Addr().String()
	return s.baseURL
}

func dial(t *testing.T, baseURL, token, role string) *chatclient.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := chatclient.Dial(ctx, baseURL, token, role, chatclient.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func waitFor(t *testing.T, client *chatclient.Client, event string) chatclient.Frame {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-client.Events():
			require.True(t, ok, "connection closed while waiting for %s", event)
			if frame.Event == event {
				return frame
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for "+event)
		}
	}
}

func TestSocketConversation(t *testing.T) {
	srv := newTestServer(t)
	baseURL := srv.listen(t)
	customer := srv.register(t, "Ada", "ada@example.com")
	admin := srv.loginAdmin(t)

	staffClient := dial(t, baseURL, admin.Auth.Token, "admin")
	require.NoError(t, staffClient.JoinAdminNotifications())
	require.Eventually(t, func() bool {
		return len(srv.hub.Registry().AdminChannel()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	status, env := srv.do(t, http.MethodPost, "/tickets", customer.Auth.Token, map[string]string{
		"subject": "Outage", "message": "Nothing loads", "priority": "high",
	})
	require.Equal(t, http.StatusCreated, status)
	ticket := decode[dto.TicketSummary](t, env)

	waitFor(t, staffClient, "newTicketCreated")
	urgent := waitFor(t, staffClient, "urgentTicketAlert")
	assert.Equal(t, ticket.ID, urgent.TicketID)

	userClient := dial(t, baseURL, customer.Auth.Token, "user")
	require.NoError(t, userClient.JoinUserNotifications(""))
	require.NoError(t, userClient.JoinTicket(ticket.ID))
	waitFor(t, userClient, "userJoined")
	require.NoError(t, staffClient.JoinTicket(ticket.ID))
	waitFor(t, staffClient, "adminJoined")
	waitFor(t, userClient, "adminJoined")

	token, err := userClient.SendMessage(ticket.ID, "is anyone there?")
	require.NoError(t, err)

	echo := waitFor(t, userClient, "ticketMessage")
	msg, err := chatclient.DecodeMessage(echo)
	require.NoError(t, err)
	require.NotNil(t, msg.TempID)
	assert.Equal(t, token, *msg.TempID)
	assert.Equal(t, "user", msg.Sender)

	relayed := waitFor(t, staffClient, "ticketMessage")
	staffView, err := chatclient.DecodeMessage(relayed)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, staffView.ID)

	entries := userClient.Thread(ticket.ID).Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, chatclient.Confirmed, entries[0].State)
	assert.Equal(t, msg.ID, entries[0].ID)

	_, err = staffClient.SendMessage(ticket.ID, "looking into it")
	require.NoError(t, err)
	waitFor(t, userClient, "adminReplyToUserTicket")

	require.NoError(t, staffClient.SetStatus(ticket.ID, "in-progress"))
	waitFor(t, userClient, "ticketStatusUpdated")
	waitFor(t, userClient, "userTicketStatusUpdated")

	require.NoError(t, userClient.Close())
	left := waitFor(t, staffClient, "userLeft")
	assert.Equal(t, ticket.ID, left.TicketID)
}

func TestSocketRejectsForbiddenJoin(t *testing.T) {
	srv := newTestServer(t)
	baseURL := srv.listen(t)
	owner := srv.register(t, "Ada", "ada@example.com")
	stranger := srv.register(t, "Bob", "bob@example.com")

	status, env := srv.do(t, http.MethodPost, "/tickets", owner.Auth.Token, map[string]string{
		"subject": "Private", "message": "mine",
	})
	require.Equal(t, http.StatusCreated, status)
	ticket := decode[dto.TicketSummary](t, env)

	client := dial(t, baseURL, stranger.Auth.Token, "user")
	require.NoError(t, client.JoinTicket(ticket.ID))

	frame := waitFor(t, client, "error")
	serverErr, err := chatclient.DecodeError(frame)
	require.NoError(t, err)
	assert.Equal(t, "FORBIDDEN", serverErr.Code)
	assert.Equal(t, "userJoinTicketRoom", serverErr.Event)
	assert.True(t, srv.hub.Registry().Lookup(ticket.ID).Empty())
}

func TestSocketRequiresCredentials(t *testing.T) {
	srv := newTestServer(t)
	baseURL := srv.listen(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := chatclient.Dial(ctx, baseURL, "bogus", "user", chatclient.Options{})
	assert.Error(t, err)
}

func gaugeValue(t *testing.T, srv *testServer, name string) float64 {
	t.Helper()
	families, err := srv.metrics.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func TestSocketChurnLeavesOtherConnectionsIntact(t *testing.T) {
	srv := newTestServer(t)
	baseURL := srv.listen(t)
	customer := srv.register(t, "Ada", "ada@example.com")
	admin := srv.loginAdmin(t)

	staffClient := dial(t, baseURL, admin.Auth.Token, "admin")
	require.NoError(t, staffClient.JoinAdminNotifications())
	require.Eventually(t, func() bool {
		return len(srv.hub.Registry().AdminChannel()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client, err := chatclient.Dial(ctx, baseURL, customer.Auth.Token, "user", chatclient.Options{})
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, client.JoinUserNotifications(""))
			assert.NoError(t, client.Close())
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return srv.hub.Registry().ConnectionCount() == 1 &&
			gaugeValue(t, srv, "ws_connections_active") == 1
	}, 5*time.Second, 10*time.Millisecond)

	status, _ := srv.do(t, http.MethodPost, "/tickets", customer.Auth.Token, map[string]string{
		"subject": "Still here?", "message": "checking the staff socket",
	})
	require.Equal(t, http.StatusCreated, status)
	waitFor(t, staffClient, "newTicketCreated")

	select {
	case <-staffClient.Done():
		t.Fatal("staff connection closed by another client's disconnect")
	default:
	}
}
