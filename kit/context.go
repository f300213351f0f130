package kit

import "context"

type contextKey string

const (
	transportKey contextKey = "kit_transport"
	requestIDKey contextKey = "kit_request_id"
)

// Transport names.
const (
	TransportHTTP = "http"
	TransportMCP  = "mcp"
	TransportCLI  = "cli"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport returns the transport stamped on ctx, "local" when none is.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey).(string); ok {
		return v
	}
	return "local"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}
