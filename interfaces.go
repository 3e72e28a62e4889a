package session

import "context"

// TokenStore is the single source of truth for session state.
// Implementations: store/ (in-memory, file-backed), redistore/ (Redis),
// all safe for concurrent use.
//
// Reads never fail on absence: a missing entry is the zero value. The
// store holds exactly three items (access token, refresh token, user); a
// successful Save never leaves only some of them visible to readers.
type TokenStore interface {
	// Save persists the credential pair and user snapshot together.
	Save(creds Credentials, user *User) error

	// SetAccessToken replaces only the access token, keeping the refresh
	// token and user untouched. Used on the refresh-success path, where
	// the server does not rotate the refresh token.
	SetAccessToken(token string) error

	// AccessToken returns the stored access token, or "" if absent.
	AccessToken() string

	// RefreshToken returns the stored refresh token, or "" if absent.
	RefreshToken() string

	// User returns the stored user snapshot, or nil if absent.
	User() *User

	// Clear removes all session state. Idempotent.
	Clear() error

	// Valid reports whether the stored access token is present, parsable,
	// and not within ExpiryBuffer of its expiry. As a side effect, an
	// invalid token clears the whole store: every validity check doubles
	// as cleanup.
	Valid() bool
}

// Refresher obtains a fresh access token for the current session.
// Implemented by refresh.Coordinator, which guarantees at most one
// refresh call in flight system-wide.
type Refresher interface {
	// Refresh returns a new access token, already written to the
	// TokenStore. Failure is terminal for the session: the store is
	// cleared before the error is returned.
	Refresh(ctx context.Context) (string, error)
}

// Publisher broadcasts session events to interested components.
// Implemented by events.Bus.
type Publisher interface {
	Publish(Event)
}

// AuthBackend is the server-facing auth API consumed by the Client.
// Implemented by api.Client against the PGDesk REST endpoints.
type AuthBackend interface {
	// Login authenticates with email/password and returns the issued
	// credential pair and the user snapshot.
	Login(ctx context.Context, email, password string) (Credentials, *User, error)

	// RefreshToken exchanges a refresh token for a new access token.
	RefreshToken(ctx context.Context, refreshToken string) (string, error)

	// Logout notifies the server that the session is over. Best effort:
	// callers clear local state regardless of the outcome.
	Logout(ctx context.Context, accessToken string) error

	// Me returns the authenticated user as the server sees it.
	Me(ctx context.Context, accessToken string) (*User, error)
}
