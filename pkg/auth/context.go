package auth

import "context"

type contextKey struct{}

// WithUser returns a copy of ctx carrying the authenticated user
func WithUser(ctx context.Context, user *UserInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext extracts the authenticated user from ctx
func UserFromContext(ctx context.Context) (*UserInfo, bool) {
	user, ok := ctx.Value(contextKey{}).(*UserInfo)
	return user, ok && user != nil
}
