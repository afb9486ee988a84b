package tokengate

import "context"

type clientIPContextKey struct{}

// WithClientIP attaches the caller's address to ctx. The Service copies it
// into audit events; it plays no part in token validity.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
