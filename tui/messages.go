package tui

// MsgGateOpened signals that the session gate became visible.
type MsgGateOpened struct{ Reason string }

// MsgGateClosed signals that the session gate was hidden externally,
// e.g. a transparent refresh performed by the HTTP transport.
type MsgGateClosed struct{}

// MsgRefreshing signals that a user-initiated refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the session was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that the refresh failed and the session was
// logged out, with the role-appropriate login route.
type MsgRefreshFailed struct {
	Err      error
	Redirect string
}

// MsgLoggedOut signals a completed logout with the login route to land on.
type MsgLoggedOut struct{ Redirect string }

// MsgSessionInfo updates the status line with the current session identity.
type MsgSessionInfo struct {
	Email string
	Role  string
}
