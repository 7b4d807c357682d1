package authcore

import "context"

type contextKey uint8

const (
	contextKeyClientIP contextKey = iota
)

// WithClientIP attaches the caller's IP address to the context. The transport
// layer sets it once per request; the engine reads it for rate-limit subjects
// and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKeyClientIP, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(contextKeyClientIP).(string)
	return ip
}
