// Package requestctx carries the request-scoped logger, trace metadata and access log
// annotations.
package requestctx

import (
	"context"
	"maps"
	"sync"

	"go.uber.org/zap"
)

type (
	loggerContextKey struct{}
	traceContextKey  struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey{}, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey{}).(TraceInfo)
	if !ok {
		return TraceInfo{}, false
	}
	return info, true
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, ok := Trace(ctx)
	if !ok {
		return ""
	}
	return info.TraceID
}

type annotationsContextKey struct{}

// Annotations collects fields that handlers attach to the access log entry of the current
// request, such as the authenticated member or the order being acted on.
type Annotations struct {
	mu     sync.Mutex
	keys   []string
	values map[string]string
}

// WithAnnotations installs an empty annotation set unless one is already present.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing, ok := ctx.Value(annotationsContextKey{}).(*Annotations); ok {
		return ctx, existing
	}
	a := &Annotations{values: make(map[string]string)}
	return context.WithValue(ctx, annotationsContextKey{}, a), a
}

// Annotate records key=value on the request annotations. Later values replace earlier ones;
// calls without an installed set are ignored.
func Annotate(ctx context.Context, key, value string) {
	if ctx == nil || key == "" || value == "" {
		return
	}
	a, ok := ctx.Value(annotationsContextKey{}).(*Annotations)
	if !ok {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.values[key]; !seen {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

// Each calls fn for every annotation in insertion order.
func (a *Annotations) Each(fn func(key, value string)) {
	if a == nil {
		return
	}
	a.mu.Lock()
	keys := append([]string(nil), a.keys...)
	values := maps.Clone(a.values)
	a.mu.Unlock()
	for _, key := range keys {
		fn(key, values[key])
	}
}

// Get returns the annotation stored under key.
func (a *Annotations) Get(key string) (string, bool) {
	if a == nil {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.values[key]
	return v, ok
}
