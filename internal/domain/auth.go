package domain

import "time"

// Role differentiates customers from staff.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// SenderRole maps the caller role to the message author role.
func (r Role) SenderRole() SenderRole {
	if r == RoleAdmin {
		return SenderAdmin
	}
	return SenderUser
}

// Identity is the verified caller as yielded by the identity provider.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the identity acts on the staff side.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Token represents issued authentication token metadata.
type Token struct {
	SubjectID string
	Role      Role
	ExpiresAt time.Time
	IssuedAt  time.Time
}
