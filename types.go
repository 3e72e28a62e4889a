package session

import "time"

// Role is the dashboard role carried by a PGDesk account.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
	RoleSupport    Role = "support"
)

// Credentials is the access/refresh token pair issued by the auth server.
// Both are opaque bearer strings owned by the TokenStore; nothing else in
// the SDK holds on to them beyond the scope of one call.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// User is the denormalized snapshot of the authenticated identity,
// stored alongside the credentials and sharing their lifecycle.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Role        Role   `json:"role"`
	PGID        string `json:"pgId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Claims are the locally decoded access-token claims. They are derived on
// demand and never stored: the server stays authoritative for
// authorization, the client uses them only for expiry timing.
type Claims struct {
	Subject   string
	Email     string
	Role      Role
	ExpiresAt time.Time
	IssuedAt  time.Time
	Extra     map[string]any
}

// EventType identifies a cross-component session signal.
type EventType string

const (
	// EventSessionInvalidated is published when the session is terminated
	// locally: invalid-token 401, refresh failure, or missing refresh token.
	EventSessionInvalidated EventType = "session_invalidated"

	// EventSessionRefreshed is published after a successful token refresh.
	EventSessionRefreshed EventType = "session_refreshed"

	// EventGateOpened is published when the session gate becomes visible.
	EventGateOpened EventType = "gate_opened"
)

// Event is a process-wide session notification. Components subscribe to
// these instead of calling each other directly.
type Event struct {
	ID          string    `json:"id,omitempty"`
	Type        EventType `json:"type"`
	Message     string    `json:"message,omitempty"`
	ServerError string    `json:"server_error,omitempty"`
	Time        time.Time `json:"time"`
}
