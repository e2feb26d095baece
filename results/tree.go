// Copyright © 2024 The ELPS authors

// Package results is the system of record for test results.  A Tree holds
// one Suite per test file; each suite is a tree of group and test nodes
// whose statuses, durations and pass counts are rolled up synchronously
// whenever a node changes.  Run sessions mutate suites through the methods
// on Suite, which resolve incoming events to existing nodes so that the
// same logical test keeps its node across runs.
package results

import (
	"sync"
	"time"

	"github.com/luthersystems/testview/outline"
	"github.com/sirupsen/logrus"
)

// Tree is the process-wide table of suites keyed by file identity.
type Tree struct {
	mu     sync.RWMutex
	suites map[string]*Suite
	order  []*Suite
	nodes  map[int]*Node
	nextID int

	outlines outline.Provider
	sep      string
	log      logrus.FieldLogger
	now      func() time.Time
}

// Option configures a Tree.
type Option func(*Tree)

// WithOutline sets the provider consulted when a suite is opened.
func WithOutline(p outline.Provider) Option {
	return func(t *Tree) { t.outlines = p }
}

// WithSeparator sets the string joining group and test names into full
// names.  The default is outline.DefaultSeparator.
func WithSeparator(sep string) Option {
	return func(t *Tree) { t.sep = sep }
}

// WithLogger sets the logger used by the tree.
func WithLogger(log logrus.FieldLogger) Option {
	return func(t *Tree) { t.log = log }
}

// WithClock overrides the clock used for suite creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tree) { t.now = now }
}

// New creates an empty result tree.
func New(opts ...Option) *Tree {
	t := &Tree{
		suites: make(map[string]*Suite),
		nodes:  make(map[int]*Node),
		sep:    outline.DefaultSeparator,
		log:    logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Separator returns the full name separator of the tree.
func (t *Tree) Separator() string {
	return t.sep
}

// UpsertSuite returns the suite for fileID, creating it when absent.
func (t *Tree) UpsertSuite(fileID string) *Suite {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.suites[fileID]; ok {
		return s
	}
	s := &Suite{
		tree:    t,
		path:    fileID,
		created: t.now(),
	}
	s.root = &Node{
		kind:  KindSuite,
		name:  fileID,
		suite: s,
		order: -1,
	}
	t.registerLocked(s.root)
	t.suites[fileID] = s
	t.order = append(t.order, s)
	t.log.WithField("suite", fileID).Debug("results: suite created")
	return s
}

// Open returns the suite for fileID and seeds it from the outline of the
// file when the outline provider has one.  Without an outline the suite
// is left as is and matching falls back to names and event order.
func (t *Tree) Open(fileID string) *Suite {
	s := t.UpsertSuite(fileID)
	if t.outlines == nil {
		return s
	}
	f, ok := t.outlines.OutlineFor(fileID)
	if !ok {
		t.log.WithField("suite", fileID).Debug("results: no outline for suite")
		return s
	}
	s.ApplyOutline(f)
	return s
}

// Lookup returns the live suite for fileID.
func (t *Tree) Lookup(fileID string) (*Suite, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.suites[fileID]
	return s, ok
}

// ClearAll discards every suite.  Nodes created later in a detached suite
// are not registered; sessions still running reopen their files through
// Live and Open.
func (t *Tree) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suites = make(map[string]*Suite)
	t.order = nil
	t.nodes = make(map[int]*Node)
	t.log.Debug("results: cleared all suites")
}

// Live reports whether s is still part of the tree.
func (t *Tree) Live(s *Suite) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.suites[s.path] == s
}

// Suites returns snapshots of every suite in creation order.
func (t *Tree) Suites() []*Info {
	t.mu.RLock()
	suites := append([]*Suite(nil), t.order...)
	t.mu.RUnlock()
	infos := make([]*Info, len(suites))
	for i, s := range suites {
		infos[i] = s.Info()
	}
	return infos
}

// SuiteInfo returns a snapshot of the suite for fileID.
func (t *Tree) SuiteInfo(fileID string) (*Info, bool) {
	s, ok := t.Lookup(fileID)
	if !ok {
		return nil, false
	}
	return s.Info(), true
}

// GetNode returns a snapshot of the node with the given id.
func (t *Tree) GetNode(id int) (*Info, bool) {
	t.mu.RLock()
	n, ok := t.nodes[id]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s := n.suite
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(n), true
}

// GetChildren returns snapshots of the children of the node with the given
// id in display order.  An id of 0 returns the suites.
func (t *Tree) GetChildren(id int) []*Info {
	if id == 0 {
		return t.Suites()
	}
	info, ok := t.GetNode(id)
	if !ok {
		return nil
	}
	return info.Children
}

// FindTests returns every visible test in fileID whose full name is
// fullName.
func (t *Tree) FindTests(fileID, fullName string) []*Info {
	info, ok := t.SuiteInfo(fileID)
	if !ok {
		return nil
	}
	var found []*Info
	for _, test := range info.Tests() {
		if test.Name == fullName && !test.Hidden {
			found = append(found, test)
		}
	}
	return found
}

func (t *Tree) register(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.suites[n.suite.path] != n.suite {
		t.nextID++
		n.id = t.nextID
		return
	}
	t.registerLocked(n)
}

func (t *Tree) registerLocked(n *Node) {
	t.nextID++
	n.id = t.nextID
	t.nodes[n.id] = n
}
