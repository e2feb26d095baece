// Copyright © 2024 The ELPS authors

package results

import "time"

// summary is the roll-up of a subtree.  total counts every visible test,
// skipped and never-run tests included; passed counts only passed tests.
// Hidden tests count toward neither.
type summary struct {
	status    Status
	passed    int
	total     int
	duration  time.Duration
	stale     bool
	hasResult bool
}

func leafSummary(status Status, d time.Duration, stale, hidden bool) summary {
	if hidden {
		return summary{}
	}
	s := summary{
		status:    status,
		total:     1,
		duration:  d,
		hasResult: status != StatusUnknown,
	}
	if status == StatusPassed {
		s.passed = 1
	}
	s.stale = stale && s.hasResult
	return s
}

// combine rolls child summaries up into their container.  A container is
// stale when it holds results and every one of them is stale.
func combine(children []summary, ownFailures bool) summary {
	var out summary
	allStale := true
	for _, c := range children {
		out.status = Highest(out.status, c.status)
		out.passed += c.passed
		out.total += c.total
		out.duration += c.duration
		if c.hasResult {
			out.hasResult = true
			allStale = allStale && c.stale
		}
	}
	out.stale = out.hasResult && allStale
	if ownFailures {
		out.status = StatusFailed
		out.hasResult = true
	}
	return out
}

func (n *Node) summary() summary {
	if n.isContainer() {
		return summary{
			status:    n.status,
			passed:    n.passed,
			total:     n.total,
			duration:  n.duration,
			stale:     n.stale,
			hasResult: n.hasResult,
		}
	}
	return leafSummary(n.status, n.duration, n.stale, n.hidden)
}

// rollup recomputes the aggregate fields of a container from its children.
func (n *Node) rollup() {
	if !n.isContainer() {
		return
	}
	sums := make([]summary, 0, len(n.children))
	for _, c := range n.children {
		sums = append(sums, c.summary())
	}
	s := combine(sums, len(n.failures) > 0)
	n.status = s.status
	n.passed = s.passed
	n.total = s.total
	n.duration = s.duration
	n.stale = s.stale
	n.hasResult = s.hasResult
}

// propagate recomputes n (when it is a container) and every ancestor up
// to the suite root.  It must run before the suite lock is released so
// no reader observes a mutation without its roll-up.
func (n *Node) propagate() {
	for p := n; p != nil; p = p.parent {
		p.rollup()
	}
}

// rollupAll recomputes every container below and including n, bottom-up.
func (n *Node) rollupAll() {
	for _, c := range n.children {
		c.rollupAll()
	}
	n.rollup()
}

// Recount recomputes the aggregate fields of every container in the
// snapshot i from its (possibly filtered) children, using the same rules
// as the live tree.  Leaves are left untouched.
func (i *Info) Recount() {
	i.recount()
}

func (i *Info) recount() summary {
	if !i.IsContainer() {
		return leafSummary(i.Status, i.Duration, i.Stale, i.Hidden)
	}
	sums := make([]summary, 0, len(i.Children))
	for _, c := range i.Children {
		sums = append(sums, c.recount())
	}
	s := combine(sums, len(i.Failures) > 0)
	i.Status = s.status
	i.Passed = s.passed
	i.Total = s.total
	i.Duration = s.duration
	i.Stale = s.stale
	return s
}
