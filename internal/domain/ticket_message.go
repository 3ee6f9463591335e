package domain

import (
	"fmt"
	"strings"
	"time"
)

// SenderRole indicates who authored a message.
type SenderRole string

const (
	SenderUser   SenderRole = "user"
	SenderAdmin  SenderRole = "admin"
	SenderSystem SenderRole = "system"
)

// ParseSenderRole validates a wire value.
func ParseSenderRole(raw string) (SenderRole, error) {
	role := SenderRole(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case SenderUser, SenderAdmin, SenderSystem:
		return role, nil
	}
	return "", fmt.Errorf("unknown sender role %q", raw)
}

// Message captures one entry of a ticket conversation. Immutable once stored.
type Message struct {
	ID               string
	TicketID         string
	Text             string
	Sender           SenderRole
	SenderID         string
	CorrelationToken *string
	CreatedAt        time.Time
}

// HasCorrelation reports whether the message carries a non-empty client token.
func (m Message) HasCorrelation() bool {
	return m.CorrelationToken != nil && *m.CorrelationToken != ""
}
