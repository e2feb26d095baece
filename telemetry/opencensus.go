// Copyright © 2024 The ELPS authors

package telemetry

import (
	"context"

	"github.com/luthersystems/testview/events"
	"github.com/luthersystems/testview/session"
	"go.opencensus.io/trace"
)

var _ session.Observer = &OpenCensus{}

// OpenCensus reports sessions as OpenCensus spans with one annotation per
// recorded event.
type OpenCensus struct{}

// NewOpenCensus returns an OpenCensus observer.
func NewOpenCensus() *OpenCensus {
	return &OpenCensus{}
}

// SessionStarted implements session.Observer.
func (o *OpenCensus) SessionStarted(ctx context.Context, id uint64, req session.Request) session.Span {
	_, span := trace.StartSpan(ctx, SpanName)
	span.AddAttributes(
		trace.Int64Attribute("session", int64(id)),
		trace.BoolAttribute("fresh", req.Fresh),
		trace.Int64Attribute("files", int64(len(req.Files))),
	)
	return &ocSpan{span: span}
}

type ocSpan struct {
	span *trace.Span
}

func (s *ocSpan) Event(ev *events.Event) {
	name := eventName(ev)
	if name == "" {
		return
	}
	attrs := []trace.Attribute{trace.Int64Attribute("time", ev.Time)}
	switch ev.Type {
	case events.TypeSuite:
		if ev.Suite != nil {
			attrs = append(attrs, trace.StringAttribute("file", ev.Suite.Path))
		}
	case events.TypeTestStart:
		if ev.Test != nil {
			attrs = append(attrs,
				trace.StringAttribute("test", ev.Test.Name),
				trace.Int64Attribute("line", int64(ev.Test.DeclLine())),
			)
		}
	case events.TypeTestDone:
		attrs = append(attrs,
			trace.Int64Attribute("id", int64(ev.TestID)),
			trace.StringAttribute("result", ev.Result),
		)
	case events.TypeError:
		attrs = append(attrs,
			trace.Int64Attribute("id", int64(ev.TestID)),
			trace.StringAttribute("message", ev.Error),
		)
	}
	s.span.Annotate(attrs, name)
}

func (s *ocSpan) End(stats session.Stats, err error) {
	s.span.AddAttributes(
		trace.Int64Attribute("finished", int64(stats.Finished)),
		trace.Int64Attribute("failed", int64(stats.Failed)),
		trace.Int64Attribute("stale", int64(stats.Stale)),
	)
	if err != nil {
		s.span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
	}
	s.span.End()
}
