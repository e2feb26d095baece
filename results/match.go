// Copyright © 2024 The ELPS authors

package results

import (
	"sort"
	"sync"

	"github.com/luthersystems/testview/outline"
)

// Claims is the set of nodes a single run session has resolved events to.
// A claimed node is never matched again by the same session, which is what
// lets several same-named tests each keep their own node.
type Claims struct {
	mu    sync.Mutex
	nodes map[*Node]int
	tests []*Node
}

// NewClaims returns an empty claim set.
func NewClaims() *Claims {
	return &Claims{nodes: make(map[*Node]int)}
}

func (c *Claims) claim(n *Node, claimID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.nodes[n]; !ok && n.kind == KindTest {
		c.tests = append(c.tests, n)
	}
	c.nodes[n] = claimID
}

// Has reports whether n was claimed.
func (c *Claims) Has(n *Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.nodes[n]
	return ok
}

// Len returns the number of claimed nodes.
func (c *Claims) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

// Tests returns the claimed tests in claim order.
func (c *Claims) Tests() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Node(nil), c.tests...)
}

// resolve finds the node for an event among the children of parent.
// Candidates share parent, kind and full name and have not been claimed
// by c, unless mergeAny is set for a group.  The candidate whose line is
// closest to line wins; candidates with no known line rank after those
// with one.  Remaining ties go to the node created first.  Without a
// candidate a new node is created at its declaration position.
func (s *Suite) resolve(c *Claims, parent *Node, kind Kind, name string, line int, mergeAny bool) *Node {
	var best *Node
	for _, n := range parent.children {
		if n.kind != kind || n.name != name {
			continue
		}
		if c.Has(n) && !(mergeAny && kind == KindGroup) {
			continue
		}
		if best == nil || closer(n, best, line) {
			best = n
		}
	}
	if best != nil {
		return best
	}
	return s.create(parent, kind, name, line)
}

// closer reports whether a is a better match than b for line.
func closer(a, b *Node, line int) bool {
	if line > 0 {
		da, db := lineDistance(a.line, line), lineDistance(b.line, line)
		if da != db {
			return da < db
		}
	}
	return a.id < b.id
}

func lineDistance(have, want int) int {
	if have <= 0 {
		return int(^uint(0) >> 1)
	}
	if have > want {
		return have - want
	}
	return want - have
}

// create adds a new node below parent.  When the parent's declarations
// contain a matching entry the node takes its declaration position;
// otherwise it is appended after every declared sibling.
func (s *Suite) create(parent *Node, kind Kind, name string, line int) *Node {
	n := &Node{
		kind:   kind,
		name:   name,
		line:   line,
		suite:  s,
		parent: parent,
		order:  -1,
	}
	if decls := s.declsOf(parent); len(decls) > 0 {
		if d, i := outline.Lookup(decls, name, kind == KindGroup, line); d != nil {
			n.decl = d
			n.order = i
			if n.line <= 0 {
				n.line = d.Line
			}
		}
	}
	s.tree.register(n)
	insert(parent, n)
	s.tree.log.WithField("suite", s.path).
		WithField("node", n.id).
		Debugf("results: created %s %q", kind, name)
	return n
}

func (s *Suite) declsOf(parent *Node) []*outline.Decl {
	if parent == s.root {
		return s.outline
	}
	if parent.decl != nil {
		return parent.decl.Children
	}
	return nil
}

// insert places n among the children of parent.  A declared node goes in
// front of the first sibling declared after it.  Undeclared nodes are
// appended.
func insert(parent *Node, n *Node) {
	if n.order >= 0 {
		for i, c := range parent.children {
			if c.order > n.order || c.order < 0 {
				parent.children = append(parent.children, nil)
				copy(parent.children[i+1:], parent.children[i:])
				parent.children[i] = n
				return
			}
		}
	}
	parent.children = append(parent.children, n)
}

// sortChildren orders the children of n by declaration, keeping the
// relative order of undeclared nodes after the declared ones.
func sortChildren(n *Node) {
	sort.SliceStable(n.children, func(i, j int) bool {
		a, b := n.children[i].order, n.children[j].order
		if a < 0 {
			return false
		}
		if b < 0 {
			return true
		}
		return a < b
	})
}
