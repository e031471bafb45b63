// Package appctx carries request-scoped values: the acting user and trace ids.
package appctx

import (
	"context"
)

// SystemActor is recorded on changes made by scheduled jobs.
const SystemActor = "system"

type actorKey struct{}

// WithActor records who performs the operation. Every quantity change event
// stores this value.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// GetActor returns the actor from context or SystemActor.
func GetActor(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return SystemActor
}

// HasActor reports whether an actor was set explicitly.
func HasActor(ctx context.Context) bool {
	v, ok := ctx.Value(actorKey{}).(string)
	return ok && v != ""
}

// TraceContext contains tracing identifiers.
type TraceContext struct {
	TraceID   string
	SpanID    string
	RequestID string
}

type traceKey struct{}

// WithTrace adds TraceContext to context.
func WithTrace(ctx context.Context, trace *TraceContext) context.Context {
	return context.WithValue(ctx, traceKey{}, trace)
}

// GetTrace returns TraceContext from context.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// GetRequestID returns request ID from context or empty string.
func GetRequestID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.RequestID
	}
	return ""
}
