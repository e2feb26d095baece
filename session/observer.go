// Copyright © 2024 The ELPS authors

package session

import (
	"context"

	"github.com/luthersystems/testview/events"
)

// Observer is notified about the life of every session a Tracker begins.
type Observer interface {
	SessionStarted(ctx context.Context, id uint64, req Request) Span
}

// Span follows one session.  Event is called for every event the session
// applies, in order.  End is called once, with the abort error if the
// session was aborted.
type Span interface {
	Event(ev *events.Event)
	End(stats Stats, err error)
}

// NopObserver ignores sessions.
type NopObserver struct{}

var _ Observer = NopObserver{}

// SessionStarted implements Observer.
func (NopObserver) SessionStarted(context.Context, uint64, Request) Span {
	return nopSpan{}
}

type nopSpan struct{}

func (nopSpan) Event(*events.Event) {}
func (nopSpan) End(Stats, error)    {}
