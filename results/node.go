// Copyright © 2024 The ELPS authors

package results

import (
	"strings"
	"time"

	"github.com/luthersystems/testview/outline"
)

// Kind distinguishes the three shapes of node in a result tree.
type Kind int

const (
	KindSuite Kind = iota + 1
	KindGroup
	KindTest
)

func (k Kind) String() string {
	switch k {
	case KindSuite:
		return "suite"
	case KindGroup:
		return "group"
	case KindTest:
		return "test"
	}
	return "invalid"
}

// Failure is the error detail a test runner reported for a test.  The
// message and stack are kept verbatim.
type Failure struct {
	Message   string
	Stack     string
	IsFailure bool
}

// Node is a suite, group or test in a result tree.  Nodes are only
// mutated while their suite's lock is held; callers outside this package
// hold nodes as opaque handles and read them through Info snapshots.
type Node struct {
	id     int
	kind   Kind
	name   string
	line   int
	suite  *Suite
	parent *Node
	// children are kept in declaration order when the outline is known.
	children []*Node
	// order is the index of the declaration among the parent's declared
	// children, -1 for nodes without outline backing.
	order int
	decl  *outline.Decl

	status   Status
	duration time.Duration
	stale    bool
	hidden   bool
	failures []Failure
	output   []string

	// claimID is the run-scoped id of the event that most recently claimed
	// the node.
	claimID int
	lastRun uint64

	// rolled up values, maintained for containers by the aggregator
	passed    int
	total     int
	hasResult bool
}

// ID returns the tree-unique id of n.  Ids increase in creation order.
func (n *Node) ID() int { return n.id }

// Kind returns the kind of n.
func (n *Node) Kind() Kind { return n.kind }

func (n *Node) isContainer() bool {
	return n.kind != KindTest
}

// label is the display name of n: the full name with the enclosing group
// prefix removed.
func (n *Node) label(sep string) string {
	p := n.parent
	if p == nil || p.kind == KindSuite {
		return n.name
	}
	if strings.HasPrefix(n.name, p.name+sep) {
		return n.name[len(p.name)+len(sep):]
	}
	return n.name
}

func (n *Node) walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		c.walk(fn)
	}
}

// Info is an immutable snapshot of a node and its subtree.
type Info struct {
	ID       int
	Kind     Kind
	Name     string // full name, or the file identity for suites
	Label    string // display name
	Line     int
	Status   Status
	Duration time.Duration
	Stale    bool
	Hidden   bool
	// Touched reports whether the most recent run of the suite updated
	// this node.
	Touched  bool
	Passed   int
	Total    int
	ClaimID  int
	Failures []Failure
	Output   []string
	// Created is the creation time of a suite, zero for other kinds.
	Created  time.Time
	Children []*Info
}

// IsContainer reports whether i is a suite or group.
func (i *Info) IsContainer() bool {
	return i.Kind != KindTest
}

// Walk calls fn for i and every node below it in display order.  Walk
// stops descending into a subtree when fn returns false.
func (i *Info) Walk(fn func(*Info) bool) {
	if !fn(i) {
		return
	}
	for _, c := range i.Children {
		c.Walk(fn)
	}
}

// Tests returns the test leaves below i in display order.
func (i *Info) Tests() []*Info {
	var tests []*Info
	i.Walk(func(n *Info) bool {
		if n.Kind == KindTest {
			tests = append(tests, n)
		}
		return true
	})
	return tests
}

func (s *Suite) snapshot(n *Node) *Info {
	info := &Info{
		ID:       n.id,
		Kind:     n.kind,
		Name:     n.name,
		Label:    n.label(s.tree.sep),
		Line:     n.line,
		Status:   n.status,
		Duration: n.duration,
		Stale:    n.stale,
		Hidden:   n.hidden,
		Touched:  n.lastRun != 0 && n.lastRun == s.lastRun,
		Passed:   n.passed,
		Total:    n.total,
		ClaimID:  n.claimID,
	}
	if n.kind == KindSuite {
		info.Created = s.created
	}
	if len(n.failures) > 0 {
		info.Failures = append([]Failure(nil), n.failures...)
	}
	if len(n.output) > 0 {
		info.Output = append([]string(nil), n.output...)
	}
	if len(n.children) > 0 {
		info.Children = make([]*Info, len(n.children))
		for i, c := range n.children {
			info.Children[i] = s.snapshot(c)
		}
	}
	return info
}
