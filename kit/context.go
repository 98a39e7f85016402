// Package kit carries request-scoped values and the endpoint plumbing shared
// by the chat, HTTP and MCP surfaces.
package kit

import "context"

type contextKey string

const (
	UserIDKey    contextKey = "kit_user_id"
	HandleKey    contextKey = "kit_handle"
	TransportKey contextKey = "kit_transport" // "telegram", "webhook", "http", "mcp"
	RequestIDKey contextKey = "kit_request_id"
	RoleKey      contextKey = "kit_role"
)

// RoleAdmin marks the privileged operator.
const RoleAdmin = "admin"

func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func WithHandle(ctx context.Context, h string) context.Context {
	return context.WithValue(ctx, HandleKey, h)
}
func GetHandle(ctx context.Context) string {
	v, _ := ctx.Value(HandleKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport defaults to "http" when unset.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok && v != "" {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}

// IsAdmin reports whether the request was made by the privileged operator.
func IsAdmin(ctx context.Context) bool {
	return GetRole(ctx) == RoleAdmin
}
