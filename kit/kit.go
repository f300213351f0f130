// Package kit holds the transport-neutral endpoint shape shared by the
// HTTP API, the MCP tools and the CLI, plus the context values every
// transport stamps on a request.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is one operation: typed request in, JSON-serialisable response out.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// WithLogging logs each call with its transport, duration and error.
func WithLogging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{"endpoint", name, "transport", GetTransport(ctx), "duration", time.Since(start)}
			if err != nil {
				logger.Warn("kit: endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("kit: endpoint", attrs...)
			}
			return resp, err
		}
	}
}
