// Copyright © 2024 The ELPS authors

// Package session applies the event stream of a test run to a result tree.
// Every run gets its own Session.  Runner ids carried by events are only
// meaningful within the session that received them; the identity of a
// test across runs is decided by the node matcher in package results.
package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/luthersystems/testview/events"
	"github.com/luthersystems/testview/results"
	"github.com/sirupsen/logrus"
)

var (
	// ErrSessionClosed is returned for events received after a session
	// completed or was aborted.
	ErrSessionClosed = errors.New("session closed")
	// ErrUnknownTest is returned for events naming a test id the session
	// never saw start.
	ErrUnknownTest = errors.New("unknown test")
	// ErrStreamEnded is the abort cause when an event stream ends without
	// a done event.
	ErrStreamEnded = errors.New("event stream ended before done")
)

// Tracker starts sessions against a result tree.
type Tracker struct {
	tree *results.Tree
	log  logrus.FieldLogger
	obs  Observer
	seq  atomic.Uint64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger used by the tracker and its sessions.
func WithLogger(log logrus.FieldLogger) Option {
	return func(t *Tracker) { t.log = log }
}

// WithObserver sets the observer notified about sessions.
func WithObserver(obs Observer) Option {
	return func(t *Tracker) { t.obs = obs }
}

// NewTracker returns a Tracker applying sessions to tree.
func NewTracker(tree *results.Tree, opts ...Option) *Tracker {
	t := &Tracker{
		tree: tree,
		log:  logrus.StandardLogger(),
		obs:  NopObserver{},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Tree returns the result tree of the tracker.
func (t *Tracker) Tree() *results.Tree {
	return t.tree
}

// Begin starts a session for req.  The suites of req.Files are opened so
// their skeletons are visible before the first event arrives.
func (t *Tracker) Begin(ctx context.Context, req Request) *Session {
	id := t.seq.Add(1)
	s := &Session{
		id:      id,
		req:     req,
		tracker: t,
		log:     t.log.WithField("session", id),
		suites:  make(map[int]*suiteRun),
		groups:  make(map[int]*groupRef),
		tests:   make(map[int]*testRef),
		byPath:  make(map[string]*suiteRun),
		done:    make(chan struct{}),
	}
	for _, path := range req.Files {
		s.open(path)
	}
	s.span = t.obs.SessionStarted(ctx, id, req)
	s.log.WithField("files", len(req.Files)).Debug("session: begin")
	return s
}

// Stats counts what a session did.
type Stats struct {
	Suites int
	// Started counts testStart events applied, Finished counts testDone
	// events applied.
	Started  int
	Finished int
	Failed   int
	Skipped  int
	// Stale is the number of tests marked stale when the session
	// completed.
	Stale int
}

// Session is one run.  Handle must be called with the events of the run in
// arrival order.  Handle, Abort and the accessors are safe to call
// concurrently.
type Session struct {
	mu      sync.Mutex
	id      uint64
	req     Request
	tracker *Tracker
	log     logrus.FieldLogger
	span    Span

	suites map[int]*suiteRun
	byPath map[string]*suiteRun
	order  []*suiteRun
	groups map[int]*groupRef
	tests  map[int]*testRef

	stats  Stats
	closed bool
	err    error
	done   chan struct{}
}

type suiteRun struct {
	path   string
	suite  *results.Suite
	claims *results.Claims
	// gen counts the times the suite was reopened after the tree was
	// cleared.  Nodes resolved in an earlier generation are resolved
	// again before use.
	gen int
}

type groupRef struct {
	run *suiteRun
	// ev is nil for the implicit root group of a suite, whose node is
	// the suite root.
	ev   *events.Group
	node *results.Node
	gen  int
}

type testRef struct {
	run     *suiteRun
	test    *events.Test
	node    *results.Node
	gen     int
	start   int64
	loading bool
}

// ID returns the session id.  Ids increase with every session a tracker
// begins and double as run numbers in the result tree.
func (s *Session) ID() uint64 { return s.id }

// Request returns the request the session was started with.
func (s *Session) Request() Request { return s.req }

// Done is closed when the session completes or is aborted.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the abort cause of the session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns the counts of the session so far.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Claimed returns the number of distinct tests the session resolved
// events to.
func (s *Session) Claimed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.order {
		n += len(r.claims.Tests())
	}
	return n
}

// Handle applies ev to the result tree.
func (s *Session) Handle(ev *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Wrapf(ErrSessionClosed, "session %d", s.id)
	}
	s.span.Event(ev)
	switch ev.Type {
	case events.TypeSuite:
		if ev.Suite != nil {
			s.suites[ev.Suite.ID] = s.open(ev.Suite.Path)
		}
	case events.TypeGroup:
		if ev.Group != nil {
			s.group(ev.Group)
		}
	case events.TypeTestStart:
		if ev.Test != nil {
			s.testStart(ev)
		}
	case events.TypeTestDone:
		return s.testDone(ev)
	case events.TypeError:
		return s.error(ev)
	case events.TypePrint:
		ref, ok := s.tests[ev.TestID]
		if !ok {
			return errors.Wrapf(ErrUnknownTest, "print for test %d", ev.TestID)
		}
		node := s.testNode(ref)
		ref.run.suite.AddOutput(node, ev.Message)
	case events.TypeDone:
		s.complete()
	}
	return nil
}

// Abort ends the session without completing it, after the transport
// delivering its events was lost.  Results already applied are kept and
// tests still running stay running; no test is marked stale.
func (s *Session) Abort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err == nil {
		err = ErrStreamEnded
	}
	s.err = err
	s.log.WithError(err).Warn("session: aborted")
	s.close()
}

func (s *Session) close() {
	s.closed = true
	s.span.End(s.stats, s.err)
	close(s.done)
}

func (s *Session) open(path string) *suiteRun {
	if r, ok := s.byPath[path]; ok {
		return r
	}
	suite := s.tracker.tree.Open(path)
	suite.BeginRun(s.id, s.req.Fresh)
	r := &suiteRun{path: path, suite: suite, claims: results.NewClaims()}
	s.byPath[path] = r
	s.order = append(s.order, r)
	s.stats.Suites++
	return r
}

// current reopens the suite of r when the tree was cleared since the
// session last used it, so the rest of the run is recorded in the tree
// instead of in the detached suite.
func (s *Session) current(r *suiteRun) {
	if s.tracker.tree.Live(r.suite) {
		return
	}
	r.suite = s.tracker.tree.Open(r.path)
	r.suite.BeginRun(s.id, s.req.Fresh)
	r.claims = results.NewClaims()
	r.gen++
	s.log.WithField("suite", r.path).Debug("session: suite reopened after clear")
}

func (s *Session) group(g *events.Group) {
	r, ok := s.suites[g.SuiteID]
	if !ok {
		s.log.WithField("group", g.ID).Warn("session: group for unknown suite")
		return
	}
	if g.ParentID == nil && g.Name == "" {
		s.groups[g.ID] = &groupRef{run: r}
		return
	}
	ref := &groupRef{run: r, ev: g, gen: -1}
	s.groups[g.ID] = ref
	s.groupNode(ref)
}

// groupNode returns the node of g, resolving it when the suite was
// reopened since.  The node of a root group, or of a group the session
// never saw, is nil.
func (s *Session) groupNode(g *groupRef) *results.Node {
	if g == nil || g.ev == nil {
		return nil
	}
	s.current(g.run)
	if g.gen == g.run.gen {
		return g.node
	}
	var parent *results.Node
	if g.ev.ParentID != nil {
		parent = s.groupNode(s.groups[*g.ev.ParentID])
	}
	r := g.run
	g.node = r.suite.ResolveGroup(r.claims, parent, g.ev.Name, g.ev.Line, g.ev.ID, s.req.MergeGroups, s.id)
	g.gen = r.gen
	return g.node
}

// testNode returns the node of t like groupNode.  Loading tests have no
// node.
func (s *Session) testNode(t *testRef) *results.Node {
	s.current(t.run)
	if t.loading || t.gen == t.run.gen {
		return t.node
	}
	var parent *results.Node
	if n := len(t.test.GroupIDs); n > 0 {
		parent = s.groupNode(s.groups[t.test.GroupIDs[n-1]])
	}
	r := t.run
	t.node = r.suite.StartTest(r.claims, parent, t.test.Name, t.test.DeclLine(), t.test.ID, s.id)
	t.gen = r.gen
	return t.node
}

func (s *Session) testStart(ev *events.Event) {
	test := ev.Test
	r, ok := s.suites[test.SuiteID]
	if !ok {
		s.log.WithField("test", test.Name).Warn("session: test for unknown suite")
		return
	}
	s.current(r)
	if test.IsLoading() {
		r.suite.StartLoading(s.id)
		s.tests[test.ID] = &testRef{run: r, test: test, loading: true, start: ev.Time}
		return
	}
	ref := &testRef{run: r, test: test, gen: -1, start: ev.Time}
	s.tests[test.ID] = ref
	s.testNode(ref)
	s.stats.Started++
}

func (s *Session) testDone(ev *events.Event) error {
	ref, ok := s.tests[ev.TestID]
	if !ok {
		s.log.WithField("test", ev.TestID).Warn("session: done for unknown test")
		return errors.Wrapf(ErrUnknownTest, "testDone for test %d", ev.TestID)
	}
	if ref.loading {
		return nil
	}
	status := results.StatusPassed
	switch {
	case ev.Skipped:
		status = results.StatusSkipped
		s.stats.Skipped++
	case ev.Result != events.ResultSuccess:
		status = results.StatusFailed
		s.stats.Failed++
	}
	d := time.Duration(ev.Time-ref.start) * time.Millisecond
	if d < 0 {
		d = 0
	}
	node := s.testNode(ref)
	ref.run.suite.FinishTest(node, status, d, ev.Hidden, s.id)
	s.stats.Finished++
	return nil
}

func (s *Session) error(ev *events.Event) error {
	ref, ok := s.tests[ev.TestID]
	if !ok {
		s.log.WithField("test", ev.TestID).Warn("session: error for unknown test")
		return errors.Wrapf(ErrUnknownTest, "error for test %d", ev.TestID)
	}
	f := results.Failure{
		Message:   ev.Error,
		Stack:     ev.StackTrace,
		IsFailure: ev.IsFailure,
	}
	// The node of a loading test is nil, which attaches the failure to
	// the suite.
	node := s.testNode(ref)
	ref.run.suite.AddFailure(node, f)
	return nil
}

func (s *Session) complete() {
	sep := s.tracker.tree.Separator()
	for _, r := range s.order {
		if !s.tracker.tree.Live(r.suite) {
			continue
		}
		var covers func(string) bool
		if f := s.req.FilterFor(r.path); !f.IsZero() {
			covers = func(name string) bool { return f.Covers(name, sep) }
		}
		s.stats.Stale += r.suite.Complete(r.claims, s.id, covers)
	}
	s.log.WithFields(logrus.Fields{
		"started":  s.stats.Started,
		"finished": s.stats.Finished,
		"stale":    s.stats.Stale,
	}).Debug("session: done")
	s.close()
}

// Feed applies the events decoded from dec to s until the done event, the
// end of the stream or the cancellation of ctx.  A stream that ends early
// aborts the session.  Malformed events and events for unknown tests are
// logged and skipped.  Decoding happens on a separate goroutine which
// exits once the underlying reader returns; callers cancelling ctx should
// close the reader.
func (t *Tracker) Feed(ctx context.Context, s *Session, dec *events.Decoder) error {
	type item struct {
		ev  *events.Event
		err error
	}
	items := make(chan item)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			ev, err := dec.Next()
			select {
			case items <- item{ev, err}:
			case <-stop:
				return
			}
			if err == io.EOF || (err != nil && !errors.Is(err, events.ErrMalformedEvent)) {
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			s.Abort(ctx.Err())
			return ctx.Err()
		case <-s.Done():
			return s.Err()
		case it := <-items:
			switch {
			case it.err == io.EOF:
				s.Abort(ErrStreamEnded)
				return ErrStreamEnded
			case errors.Is(it.err, events.ErrMalformedEvent):
				s.log.WithError(it.err).Warn("session: skipping malformed event")
				continue
			case it.err != nil:
				err := errors.Wrap(it.err, "reading events")
				s.Abort(err)
				return err
			}
			err := s.Handle(it.ev)
			if err != nil && !errors.Is(err, ErrUnknownTest) {
				return err
			}
			if it.ev.Type == events.TypeDone {
				return nil
			}
		}
	}
}

// Replay starts a session for req and feeds it the event stream read from
// r, such as a recorded event log.
func (t *Tracker) Replay(ctx context.Context, r io.Reader, req Request) (*Session, error) {
	s := t.Begin(ctx, req)
	return s, t.Feed(ctx, s, events.NewDecoder(r))
}
