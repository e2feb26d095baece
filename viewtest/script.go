// Copyright © 2024 The ELPS authors

// Package viewtest provides helpers for testing code built on the result
// tree: a builder for runner event streams and loggers that write to the
// test log.
package viewtest

import (
	"bytes"
	"io"
	"testing"

	"github.com/luthersystems/testview/events"
	"github.com/luthersystems/testview/results"
	"github.com/stretchr/testify/assert"
)

// Script builds the event stream of one run the way the test runner
// reports it.  Ids are allocated in emission order and every event
// advances the clock by one millisecond unless a test states its own
// duration.
type Script struct {
	events []*events.Event
	time   int64
	nextID int
	roots  map[int]int
	starts map[int]int64
}

// NewScript returns a Script whose stream begins with a start event.
func NewScript() *Script {
	s := &Script{roots: make(map[int]int), starts: make(map[int]int64)}
	s.emit(&events.Event{Type: events.TypeStart, ProtocolVersion: "0.1.1"})
	return s
}

func (s *Script) emit(ev *events.Event) {
	ev.Time = s.time
	s.time++
	s.events = append(s.events, ev)
}

func (s *Script) id() int {
	id := s.nextID
	s.nextID++
	return id
}

// Suite emits a suite, the loading test the runner reports for it and the
// suite's root group.  It returns the suite id.
func (s *Script) Suite(path string) int {
	suite := s.id()
	s.emit(&events.Event{Type: events.TypeSuite, Suite: &events.Suite{ID: suite, Platform: "vm", Path: path}})
	loading := s.id()
	s.emit(&events.Event{Type: events.TypeTestStart, Test: &events.Test{
		ID: loading, Name: "loading " + path, SuiteID: suite, GroupIDs: []int{},
	}})
	s.emit(&events.Event{Type: events.TypeTestDone, TestID: loading, Result: events.ResultSuccess, Hidden: true})
	root := s.id()
	s.emit(&events.Event{Type: events.TypeGroup, Group: &events.Group{ID: root, SuiteID: suite}})
	s.roots[suite] = root
	return suite
}

// LoadError emits a suite whose loading test fails with message, the way
// the runner reports a file that does not compile.
func (s *Script) LoadError(path, message string) int {
	suite := s.id()
	s.emit(&events.Event{Type: events.TypeSuite, Suite: &events.Suite{ID: suite, Platform: "vm", Path: path}})
	loading := s.id()
	s.emit(&events.Event{Type: events.TypeTestStart, Test: &events.Test{
		ID: loading, Name: "loading " + path, SuiteID: suite, GroupIDs: []int{},
	}})
	s.emit(&events.Event{Type: events.TypeError, TestID: loading, Error: message, IsFailure: false})
	s.emit(&events.Event{Type: events.TypeTestDone, TestID: loading, Result: events.ResultError, Hidden: true})
	return suite
}

// Group emits a group below the group parent (the root group when parent
// is 0) and returns its id.  name is the full name.
func (s *Script) Group(suite, parent int, name string, line int) int {
	if parent == 0 {
		parent = s.roots[suite]
	}
	id := s.id()
	s.emit(&events.Event{Type: events.TypeGroup, Group: &events.Group{
		ID: id, SuiteID: suite, ParentID: &parent, Name: name, Line: line,
	}})
	return id
}

// Test is a test declaration used by Script.
type Test struct {
	Suite int
	// Groups are the ids of the enclosing groups, outermost first, without
	// the root group.
	Groups   []int
	Name     string
	Line     int
	Duration int64
	Hidden   bool
}

// Start emits the testStart event for t and returns the test id.
func (s *Script) Start(t Test) int {
	id := s.id()
	groups := append([]int{s.roots[t.Suite]}, t.Groups...)
	s.starts[id] = s.time
	s.emit(&events.Event{Type: events.TypeTestStart, Test: &events.Test{
		ID: id, Name: t.Name, SuiteID: t.Suite, GroupIDs: groups, Line: t.Line,
	}})
	return id
}

// Finish emits the testDone event of a started test d milliseconds after
// it started.
func (s *Script) Finish(id int, status results.Status, d int64, hidden bool) {
	ev := &events.Event{Type: events.TypeTestDone, TestID: id, Hidden: hidden, Result: events.ResultSuccess}
	switch status {
	case results.StatusSkipped:
		ev.Skipped = true
	case results.StatusFailed:
		ev.Result = events.ResultFailure
	}
	if end := s.starts[id] + d; end > s.time {
		s.time = end
	}
	s.emit(ev)
}

// Error emits an error event for a test.
func (s *Script) Error(id int, message, stack string) {
	s.emit(&events.Event{Type: events.TypeError, TestID: id, Error: message, StackTrace: stack, IsFailure: true})
}

// Print emits a print event for a test.
func (s *Script) Print(id int, message string) {
	s.emit(&events.Event{Type: events.TypePrint, TestID: id, MessageType: "print", Message: message})
}

// Run emits a test that starts and finishes with status.  Failed tests
// get an error event.
func (s *Script) Run(t Test, status results.Status) int {
	id := s.Start(t)
	if status == results.StatusFailed {
		s.Error(id, "Expected: true\n  Actual: <false>\n", "test.dart 1:1  main")
	}
	d := t.Duration
	if d == 0 {
		d = 10
	}
	s.Finish(id, status, d, t.Hidden)
	return id
}

// Done emits the done event ending the stream.
func (s *Script) Done(success bool) {
	s.emit(&events.Event{Type: events.TypeDone, Success: &success})
}

// Events returns the events emitted so far.
func (s *Script) Events() []*events.Event {
	return s.events
}

// Bytes returns the stream encoded one event per line.
func (s *Script) Bytes() []byte {
	var buf bytes.Buffer
	enc := events.NewEncoder(&buf)
	for _, ev := range s.events {
		if err := enc.Encode(ev); err != nil {
			panic(err)
		}
	}
	return buf.Bytes()
}

// Reader returns the encoded stream.
func (s *Script) Reader() io.Reader {
	return bytes.NewReader(s.Bytes())
}

// Handler is implemented by sessions.
type Handler interface {
	Handle(ev *events.Event) error
}

// Replay hands every event of the script to h and fails t on the first
// error.
func (s *Script) Replay(t testing.TB, h Handler) {
	t.Helper()
	for _, ev := range s.events {
		if err := h.Handle(ev); !assert.NoError(t, err, "event %s at %d", ev.Type, ev.Time) {
			return
		}
	}
}

// AssertAggregates checks that every container below info holds the counts,
// duration and status its children add up to.
func AssertAggregates(t testing.TB, info *results.Info) bool {
	t.Helper()
	ok := true
	info.Walk(func(n *results.Info) bool {
		if !n.IsContainer() {
			return true
		}
		passed, total := 0, 0
		status := results.StatusUnknown
		var d int64
		for _, leaf := range n.Tests() {
			if leaf.Hidden {
				continue
			}
			total++
			if leaf.Status == results.StatusPassed {
				passed++
			}
			status = results.Highest(status, leaf.Status)
			d += leaf.Duration.Milliseconds()
		}
		if len(n.Failures) > 0 {
			status = results.StatusFailed
		}
		ok = assert.Equal(t, passed, n.Passed, "passed of %q", n.Name) && ok
		ok = assert.Equal(t, total, n.Total, "total of %q", n.Name) && ok
		ok = assert.Equal(t, d, n.Duration.Milliseconds(), "duration of %q", n.Name) && ok
		if len(n.Tests()) > 0 || len(n.Failures) > 0 {
			ok = assert.Equal(t, status, n.Status, "status of %q", n.Name) && ok
		}
		return true
	})
	return ok
}
