package context

import "context"

type (
	requestIDKey struct{}
	runIDKey     struct{}
	scopeIDKey   struct{}
	workerKey    struct{}
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey{})
}

// WithRunID tags a processing pass.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, runIDKey{})
}

func WithScopeID(ctx context.Context, scopeID string) context.Context {
	return context.WithValue(ctx, scopeIDKey{}, scopeID)
}

func ScopeIDFromContext(ctx context.Context) string {
	return stringValue(ctx, scopeIDKey{})
}

// WithWorker records which orchestrator loop is running, e.g. "processor-3".
func WithWorker(ctx context.Context, worker string) context.Context {
	return context.WithValue(ctx, workerKey{}, worker)
}

func WorkerFromContext(ctx context.Context) string {
	return stringValue(ctx, workerKey{})
}

func stringValue(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
