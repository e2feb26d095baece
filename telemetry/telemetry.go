// Copyright © 2024 The ELPS authors

// Package telemetry reports run sessions to tracing backends.  Each
// session becomes one span; the events applied by the session are
// recorded on it.
package telemetry

import (
	"context"

	"github.com/luthersystems/testview/events"
	"github.com/luthersystems/testview/session"
)

// DefaultTracerName names the tracer sessions are reported with.
const DefaultTracerName = "testview"

// SpanName is the name of the span covering a session.
const SpanName = "testview.session"

// Multi fans a session out to several observers.
func Multi(observers ...session.Observer) session.Observer {
	return multi(observers)
}

type multi []session.Observer

func (m multi) SessionStarted(ctx context.Context, id uint64, req session.Request) session.Span {
	spans := make(multiSpan, len(m))
	for i, o := range m {
		spans[i] = o.SessionStarted(ctx, id, req)
	}
	return spans
}

type multiSpan []session.Span

func (m multiSpan) Event(ev *events.Event) {
	for _, s := range m {
		s.Event(ev)
	}
}

func (m multiSpan) End(stats session.Stats, err error) {
	for _, s := range m {
		s.End(stats, err)
	}
}

// eventName is the name events are recorded under, or "" for events
// that are not recorded.
func eventName(ev *events.Event) string {
	switch ev.Type {
	case events.TypeSuite, events.TypeTestStart, events.TypeTestDone, events.TypeError, events.TypeDone:
		return string(ev.Type)
	}
	return ""
}
