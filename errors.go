package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoRefreshToken is returned when a refresh is attempted with no
	// refresh token in the store. Treated exactly like a refresh failure:
	// the session cannot be recovered locally.
	ErrNoRefreshToken = errors.New("session: no refresh token available")

	// ErrInvalidToken is returned when the server rejects the access token
	// itself (as opposed to it merely being expired). An invalid token
	// cannot be refreshed, so no refresh is ever attempted.
	ErrInvalidToken = errors.New("session: token rejected by server")

	// ErrSessionClosed is returned when a refresh completes after the
	// session it belonged to was already terminated locally, e.g. a logout
	// while the refresh call was in flight. The refreshed token is
	// discarded rather than resurrecting a dead session.
	ErrSessionClosed = errors.New("session: session closed during refresh")
)

// APIError is a non-2xx response from the auth server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("session: server returned status %d", e.Status)
	}
	return fmt.Sprintf("session: server returned status %d: %s", e.Status, e.Message)
}

// invalidTokenMarkers are server message fragments that mean the token
// itself was rejected. "jwt expired" deliberately does not match: an
// expired token is recoverable via refresh.
var invalidTokenMarkers = []string{
	"invalid token",
	"invalid signature",
	"signature is invalid",
	"malformed",
	"token contains an invalid number of segments",
}

// IsInvalidTokenMessage classifies a 401 body message. True means the
// token is structurally rejected and refresh would be pointless.
func IsInvalidTokenMessage(msg string) bool {
	m := strings.ToLower(msg)
	for _, marker := range invalidTokenMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}
