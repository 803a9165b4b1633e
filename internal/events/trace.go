package events

import "context"

type traceKey struct{}

// WithTrace carries the request id into envelopes built further down.
func WithTrace(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func TraceFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceKey{}).(string)
	return v
}
