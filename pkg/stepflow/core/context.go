package core

import "context"

type ctxKey string

const (
	CtxKeyUsername ctxKey = ctxKey("username")
	CtxKeyAdmin    ctxKey = ctxKey("admin")
	CtxKeyWorkerId ctxKey = ctxKey("workerId")
)

// UsernameFrom returns the authenticated user stored on ctx, or "".
func UsernameFrom(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyUsername).(string); ok {
		return v
	}
	return ""
}

func IsAdmin(ctx context.Context) bool {
	v, _ := ctx.Value(CtxKeyAdmin).(bool)
	return v
}
