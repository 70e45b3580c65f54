package auth

import "context"

type contextKey string

const userContextKey contextKey = "user"

// UserContext is the identity resolved for a request.
type UserContext struct {
	UserID    string
	Username  string
	Email     string
	SessionID string
	// ClientID is set when the request carried an OAuth bearer token.
	ClientID string
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the user stored by WithUser.
func UserFromContext(ctx context.Context) (*UserContext, bool) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	return user, ok && user != nil
}
