package ctxkeys

import "context"

// TraceIDKey 上下文中的追踪 ID
type TraceIDKey struct{}

// WithTraceID 将追踪 ID 写入上下文
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey{}, id)
}

// TraceID 读取上下文中的追踪 ID
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey{}).(string); ok {
		return v
	}
	return ""
}
