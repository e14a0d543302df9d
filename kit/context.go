package kit

import "context"

// ctxKey is a typed context key; the name only shows up when debugging.
type ctxKey[T any] struct{ name string }

func (k ctxKey[T]) with(ctx context.Context, v T) context.Context {
	return context.WithValue(ctx, k, v)
}

func (k ctxKey[T]) get(ctx context.Context) (T, bool) {
	v, ok := ctx.Value(k).(T)
	return v, ok
}

var (
	transportKey = ctxKey[string]{"kit_transport"} // "http", "mcp"
	requestIDKey = ctxKey[string]{"kit_request_id"}
	sessionIDKey = ctxKey[string]{"kit_session_id"}
)

func WithTransport(ctx context.Context, t string) context.Context { return transportKey.with(ctx, t) }

// GetTransport defaults to "http" when unset.
func GetTransport(ctx context.Context) string {
	if v, ok := transportKey.get(ctx); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context { return requestIDKey.with(ctx, id) }

func GetRequestID(ctx context.Context) string {
	v, _ := requestIDKey.get(ctx)
	return v
}

// WithSessionID names the browse session an endpoint call targets.
func WithSessionID(ctx context.Context, id string) context.Context { return sessionIDKey.with(ctx, id) }

func GetSessionID(ctx context.Context) string {
	v, _ := sessionIDKey.get(ctx)
	return v
}
