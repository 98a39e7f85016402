package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is a transport-agnostic operation. The HTTP and MCP surfaces
// decode their own request shape and call the same Endpoint.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call with its transport, request id and duration.
// Failures are logged at Warn.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"request_id", GetRequestID(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.Warn("endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("endpoint served", attrs...)
			}
			return resp, err
		}
	}
}

// WithTransportTag stamps the transport name on the context unless one is
// already set.
func WithTransportTag(transport string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if _, ok := ctx.Value(TransportKey).(string); !ok {
				ctx = WithTransport(ctx, transport)
			}
			return next(ctx, req)
		}
	}
}
