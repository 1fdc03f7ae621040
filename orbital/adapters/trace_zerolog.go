// Package adapters provides concrete implementations of the collaborator
// ports: zerolog tracing, the static dataset catalog, and the libsql
// archive.
package adapters

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

type spanLoggerKey struct{}

// ZerologTracer implements ports.Tracer on top of zerolog.
type ZerologTracer struct {
	logger zerolog.Logger
}

// NewZerologTracer creates a tracer writing through the given logger.
func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{logger: logger}
}

// StartSpan opens a span and returns a finish function that logs its
// duration and outcome.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	spanLogger := t.logger.With().Str("span", name).Fields(attrs).Logger()
	ctx = context.WithValue(ctx, spanLoggerKey{}, spanLogger)

	start := time.Now()
	spanLogger.Debug().Msg("span start")

	finish := func(err error) {
		ev := spanLogger.Debug()
		if err != nil {
			ev = spanLogger.Error().Err(err)
		}
		ev.Dur("duration", time.Since(start)).Msg("span end")
	}
	return ctx, finish
}

// Event logs a point event against the current span, or the root logger
// when no span is open.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	logger := t.logger
	if spanLogger, ok := ctx.Value(spanLoggerKey{}).(zerolog.Logger); ok {
		logger = spanLogger
	}
	logger.Debug().Fields(attrs).Str("event", name).Msg("trace event")
}

var _ ports.Tracer = (*ZerologTracer)(nil)
