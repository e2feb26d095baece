// Copyright © 2024 The ELPS authors

package telemetry

import (
	"context"

	"github.com/luthersystems/testview/events"
	"github.com/luthersystems/testview/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// ContextTracerKey looks up a tracer name from a context key.
const ContextTracerKey = "testviewTracer"

var _ session.Observer = &OpenTelemetry{}

// OpenTelemetry reports sessions through the global OpenTelemetry tracer
// provider.
type OpenTelemetry struct{}

// NewOpenTelemetry returns an observer using the global tracer provider.
func NewOpenTelemetry() *OpenTelemetry {
	return &OpenTelemetry{}
}

func contextTracer(ctx context.Context) trace.Tracer {
	name, ok := ctx.Value(ContextTracerKey).(string)
	if !ok {
		name = DefaultTracerName
	}
	return otel.GetTracerProvider().Tracer(name)
}

// SessionStarted implements session.Observer.
func (o *OpenTelemetry) SessionStarted(ctx context.Context, id uint64, req session.Request) session.Span {
	_, span := contextTracer(ctx).Start(ctx, SpanName, trace.WithAttributes(
		attribute.Int64("testview.session", int64(id)),
		attribute.StringSlice("testview.files", req.Files),
		attribute.Bool("testview.fresh", req.Fresh),
		attribute.Bool("testview.filtered", req.Filtered()),
	))
	return &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) Event(ev *events.Event) {
	name := eventName(ev)
	if name == "" {
		return
	}
	attrs := []attribute.KeyValue{attribute.Int64("testview.time", ev.Time)}
	switch ev.Type {
	case events.TypeSuite:
		if ev.Suite != nil {
			attrs = append(attrs, semconv.CodeFilepath(ev.Suite.Path))
		}
	case events.TypeTestStart:
		if ev.Test != nil {
			attrs = append(attrs,
				semconv.CodeFunction(ev.Test.Name),
				semconv.CodeLineNumber(ev.Test.DeclLine()),
			)
		}
	case events.TypeTestDone:
		attrs = append(attrs,
			attribute.Int("testview.test", ev.TestID),
			attribute.String("testview.result", ev.Result),
			attribute.Bool("testview.skipped", ev.Skipped),
		)
	case events.TypeError:
		attrs = append(attrs,
			attribute.Int("testview.test", ev.TestID),
			attribute.String("exception.message", ev.Error),
		)
	}
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (s *otelSpan) End(stats session.Stats, err error) {
	s.span.SetAttributes(
		attribute.Int("testview.started", stats.Started),
		attribute.Int("testview.finished", stats.Finished),
		attribute.Int("testview.failed", stats.Failed),
		attribute.Int("testview.skipped", stats.Skipped),
		attribute.Int("testview.stale", stats.Stale),
	)
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}
