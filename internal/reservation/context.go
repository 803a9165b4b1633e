package reservation

import "context"

type ctxKey string

const ctxAccountKey ctxKey = "accountID"

// WithAccount attaches the caller's account. Authentication happens upstream.
func WithAccount(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxAccountKey, id)
}

func AccountFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxAccountKey).(string)
	return v
}
