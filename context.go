package identity

import "context"

type actorContextKey struct{}

// WithActor attaches the identity of the caller performing an
// administrative mutation to ctx. The value ends up in audit events.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func actorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}
