// Copyright © 2024 The ELPS authors

package results

import (
	"sync"
	"time"

	"github.com/luthersystems/testview/outline"
)

// Suite is the result subtree of one test file.  Every mutation takes the
// suite lock, so event handling from overlapping sessions is serialized
// per suite: matching, node creation and the aggregate roll-up happen in
// one critical section.
type Suite struct {
	mu      sync.Mutex
	tree    *Tree
	path    string
	created time.Time
	root    *Node
	outline outline.Forest
	// lastRun is the most recent run that began on the suite.
	lastRun uint64
}

// Path returns the file identity of the suite.
func (s *Suite) Path() string { return s.path }

// Created returns the creation time of the suite.
func (s *Suite) Created() time.Time { return s.created }

// Root returns the suite node.
func (s *Suite) Root() *Node { return s.root }

// Info returns a snapshot of the whole suite.
func (s *Suite) Info() *Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(s.root)
}

// BeginRun records that run started on the suite.  A fresh run clears the
// claim state of every node while keeping its results until the run
// overwrites them.
func (s *Suite) BeginRun(run uint64, fresh bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run > s.lastRun {
		s.lastRun = run
	}
	if fresh {
		s.root.walk(func(n *Node) { n.claimID = 0 })
	}
}

// StartLoading records that run started loading the suite file.  Load
// errors and output of earlier runs are cleared.
func (s *Suite) StartLoading(run uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run > s.lastRun {
		s.lastRun = run
	}
	s.root.failures = nil
	s.root.output = nil
	s.root.propagate()
}

// ResolveGroup resolves a group event to a node under parent (the suite
// root when parent is nil) and claims it for c.  With merge set an
// existing group of the same name is reused even when c already claimed
// it, so re-entering a group never fragments it.
func (s *Suite) ResolveGroup(c *Claims, parent *Node, name string, line, claimID int, merge bool, run uint64) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent = s.parentOrRoot(parent)
	n := s.resolve(c, parent, KindGroup, name, line, merge)
	if line > 0 {
		n.line = line
	}
	c.claim(n, claimID)
	n.claimID = claimID
	s.touch(n, run)
	n.propagate()
	return n
}

// StartTest resolves a testStart event to a node under parent, claims it
// for c and marks it running.  Failure detail and output from earlier
// runs are cleared.
func (s *Suite) StartTest(c *Claims, parent *Node, name string, line, claimID int, run uint64) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent = s.parentOrRoot(parent)
	n := s.resolve(c, parent, KindTest, name, line, false)
	if line > 0 {
		n.line = line
	}
	c.claim(n, claimID)
	n.claimID = claimID
	n.status = StatusRunning
	n.duration = 0
	n.stale = false
	n.hidden = false
	n.failures = nil
	n.output = nil
	s.touch(n, run)
	n.propagate()
	return n
}

// FinishTest records the outcome of a test resolved by StartTest.
func (s *Suite) FinishTest(n *Node, status Status, d time.Duration, hidden bool, run uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.status = status
	n.duration = d
	n.hidden = hidden
	n.stale = false
	s.touch(n, run)
	n.propagate()
}

// AddFailure attaches failure detail to n, or to the suite node when n is
// nil.  A test that already finished is turned into a failure.
func (s *Suite) AddFailure(n *Node, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == nil {
		n = s.root
	}
	n.failures = append(n.failures, f)
	if !n.isContainer() && n.status != StatusRunning {
		n.status = StatusFailed
	}
	n.propagate()
}

// AddOutput appends a line of test output to n.
func (s *Suite) AddOutput(n *Node, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == nil {
		n = s.root
	}
	n.output = append(n.output, line)
}

// Complete finishes run on the suite.  Tests holding a result from an
// earlier run that c did not claim are marked stale when covers reports
// that the run was expected to include them; their status is kept.  Tests
// updated by a later run are left alone.  Complete returns the number of
// tests marked stale.
func (s *Suite) Complete(c *Claims, run uint64, covers func(fullName string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := 0
	s.root.walk(func(n *Node) {
		if n.kind != KindTest || c.Has(n) || n.status == StatusUnknown || n.lastRun >= run {
			return
		}
		if covers != nil && !covers(n.name) {
			return
		}
		if !n.stale {
			n.stale = true
			marked++
		}
	})
	s.root.rollupAll()
	return marked
}

// ApplyOutline seeds the suite skeleton from a copy of f whose full names
// are joined with the tree separator.  Declarations are bound
// to existing nodes with the same matching rules as run events, so
// applying an edited outline re-binds nodes instead of duplicating them.
// Children are reordered to follow declaration order; nodes without a
// declaration keep their relative order after the declared ones.
func (s *Suite) ApplyOutline(f outline.Forest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f = outline.Qualify(f.Clone(), s.tree.sep)
	s.outline = f
	s.root.walk(func(n *Node) {
		if n != s.root {
			n.order = -1
			n.decl = nil
		}
	})
	s.seed(NewClaims(), s.root, f)
	s.root.walk(func(n *Node) { sortChildren(n) })
	s.root.rollupAll()
}

func (s *Suite) seed(c *Claims, parent *Node, decls []*outline.Decl) {
	for i, d := range decls {
		kind := KindTest
		if d.IsGroup {
			kind = KindGroup
		}
		n := s.resolve(c, parent, kind, d.FullName, d.Line, false)
		c.claim(n, 0)
		n.decl = d
		n.order = i
		if d.Line > 0 {
			n.line = d.Line
		}
		if d.IsGroup {
			s.seed(c, n, d.Children)
		}
	}
	// Duplicates and renamed leftovers take the position of the closest
	// declaration with their name.
	for _, n := range parent.children {
		if n.order >= 0 {
			continue
		}
		if d, i := outline.Lookup(decls, n.name, n.kind == KindGroup, n.line); d != nil {
			n.order = i
			n.decl = d
		}
	}
}

func (s *Suite) parentOrRoot(parent *Node) *Node {
	if parent == nil || parent.suite != s {
		return s.root
	}
	return parent
}

// touch marks n and its ancestors as updated by run.
func (s *Suite) touch(n *Node, run uint64) {
	for p := n; p != nil; p = p.parent {
		if run > p.lastRun {
			p.lastRun = run
		}
	}
}
