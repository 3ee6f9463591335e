// Package chatclient is a Go client for the ticket socket endpoint. It keeps a
// per-ticket Thread in which optimistic sends are reconciled with the
// server's confirmed echoes.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Frame is one server event as received.
type Frame struct {
	Event     string          `json:"event"`
	TicketID  string          `json:"ticketId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Message is a confirmed conversation message.
type Message struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticketId"`
	Text      string    `json:"message"`
	Sender    string    `json:"sender"`
	SenderID  string    `json:"senderId,omitempty"`
	TempID    *string   `json:"tempId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ServerError is the payload of an "error" event.
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
	TempID  string `json:"tempId,omitempty"`
}

func (e ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type outbound struct {
	Event    string `json:"event"`
	TicketID string `json:"ticketId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Message  string `json:"message,omitempty"`
	Sender   string `json:"sender,omitempty"`
	TempID   string `json:"tempId,omitempty"`
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// Options tunes a Client.
type Options struct {
	Logger *zap.Logger
	// EventBuffer sizes the Events channel. Frames are dropped when it is full.
	EventBuffer int
	Dialer      *websocket.Dialer
}

// Client is a connected socket session.
type Client struct {
	conn   *websocket.Conn
	logger *zap.Logger
	role   string

	writeMu sync.Mutex
	events  chan Frame
	done    chan struct{}

	threadsMu sync.Mutex
	threads   map[string]*Thread

	closeOnce sync.Once
	err       error
}

// Dial connects to baseURL (http, https, ws or wss) and authenticates with
// token. role is "user" or "admin" and is stamped on outgoing messages.
func Dial(ctx context.Context, baseURL, token, role string, opts Options) (*Client, error) {
	endpoint, err := socketURL(baseURL, token)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c := &Client{
		conn:    conn,
		logger:  logger,
		role:    role,
		events:  make(chan Frame, buffer),
		done:    make(chan struct{}),
		threads: make(map[string]*Thread),
	}
	go c.readLoop()
	return c, nil
}

func socketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Events delivers every frame received, after thread reconciliation. It is
// closed when the connection ends.
func (c *Client) Events() <-chan Frame {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, once Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Thread returns the local conversation view for ticketID.
func (c *Client) Thread(ticketID string) *Thread {
	c.threadsMu.Lock()
	defer c.threadsMu.Unlock()
	t, ok := c.threads[ticketID]
	if !ok {
		t = NewThread()
		c.threads[ticketID] = t
	}
	return t
}

// JoinTicket joins the ticket room on the side matching the client's role.
func (c *Client) JoinTicket(ticketID string) error {
	event := "userJoinTicketRoom"
	if c.role == "admin" {
		event = "joinTicketRoom"
	}
	return c.write(outbound{Event: event, TicketID: ticketID})
}

// LeaveTicket leaves the ticket room.
func (c *Client) LeaveTicket(ticketID string) error {
	return c.write(outbound{Event: "leaveTicketRoom", TicketID: ticketID})
}

// JoinUserNotifications subscribes to userID's private channel.
func (c *Client) JoinUserNotifications(userID string) error {
	return c.write(outbound{Event: "userJoinNotificationRoom", UserID: userID})
}

// JoinAdminNotifications subscribes to the staff channel.
func (c *Client) JoinAdminNotifications() error {
	return c.write(outbound{Event: "adminJoinNotificationRoom"})
}

// SendMessage renders text optimistically in the ticket thread and sends it.
// It returns the correlation token the server will echo back.
func (c *Client) SendMessage(ticketID, text string) (string, error) {
	thread := c.Thread(ticketID)
	token := thread.Send(text, c.role)
	if err := c.Resend(ticketID, text, token); err != nil {
		thread.Fail(token)
		return "", err
	}
	return token, nil
}

// Resend retransmits a message under an existing correlation token. The
// server collapses it onto the original send.
func (c *Client) Resend(ticketID, text, token string) error {
	return c.write(outbound{
		Event:    "ticketMessage",
		TicketID: ticketID,
		Message:  text,
		Sender:   c.role,
		TempID:   token,
	})
}

// SetStatus requests a status change.
func (c *Client) SetStatus(ticketID, status string) error {
	return c.write(outbound{Event: "updateTicketStatus", TicketID: ticketID, Status: status})
}

// SetPriority requests a priority change.
func (c *Client) SetPriority(ticketID, priority string) error {
	return c.write(outbound{Event: "updateTicketPriority", TicketID: ticketID, Priority: priority})
}

// Close ends the session.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) write(msg outbound) error {
	select {
	case <-c.done:
		return errors.New("chatclient: connection closed")
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop() {
	defer c.closeOnce.Do(func() {
		close(c.events)
		close(c.done)
	})

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("chat socket closed", zap.Error(err))
			}
			c.err = err
			return
		}
		c.reconcile(frame)

		select {
		case c.events <- frame:
		default:
			c.logger.Warn("event buffer full, dropping frame", zap.String("event", frame.Event))
		}
	}
}

func (c *Client) reconcile(frame Frame) {
	switch frame.Event {
	case "ticketMessage":
		var msg Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			c.logger.Warn("malformed ticketMessage", zap.Error(err))
			return
		}
		c.Thread(msg.TicketID).Apply(msg)
	case "error":
		var serverErr ServerError
		if err := json.Unmarshal(frame.Data, &serverErr); err != nil {
			return
		}
		if serverErr.Event == "ticketMessage" && serverErr.TempID != "" && frame.TicketID != "" {
			c.Thread(frame.TicketID).Fail(serverErr.TempID)
		}
	}
}

// DecodeMessage extracts the message carried by a ticketMessage frame.
func DecodeMessage(frame Frame) (Message, error) {
	var msg Message
	err := json.Unmarshal(frame.Data, &msg)
	return msg, err
}

// DecodeError extracts the payload of an error frame.
func DecodeError(frame Frame) (ServerError, error) {
	var serverErr ServerError
	err := json.Unmarshal(frame.Data, &serverErr)
	return serverErr, err
}
