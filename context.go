package session

import "context"

type ctxKey string

const (
	ctxKeyUser      ctxKey = "session_user"
	ctxKeyRequestID ctxKey = "session_request_id"
)

// WithUser stores the authenticated user snapshot in the context.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, ctxKeyUser, user)
}

// UserFromContext extracts the authenticated user from the context.
func UserFromContext(ctx context.Context) *User {
	v, _ := ctx.Value(ctxKeyUser).(*User)
	return v
}

// WithRequestID stores a request correlation ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request correlation ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}
