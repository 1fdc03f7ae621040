package ports

import "context"

// Tracer emits spans/events for observability.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error))
	Event(ctx context.Context, name string, attrs map[string]any)
}

// NopTracer discards all spans and events.
type NopTracer struct{}

func (NopTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(error) {}
}

func (NopTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

var _ Tracer = NopTracer{}
