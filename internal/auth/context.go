package auth

import "context"

// actorKey 是上下文中存储调用方地址的键类型。
type actorKey struct{}

// WithActor 将解析出的调用方地址存储到上下文中。
func WithActor(ctx context.Context, actor string) context.Context {
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext 从上下文中提取调用方地址。
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if actor, ok := ctx.Value(actorKey{}).(string); ok {
		return actor
	}
	return ""
}
