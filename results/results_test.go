// Copyright © 2024 The ELPS authors

package results

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/luthersystems/testview/outline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const file = "test/widget_test.dart"

// run drives one session worth of events through a suite.
type run struct {
	t      *testing.T
	s      *Suite
	c      *Claims
	id     uint64
	nextID int
}

func newRun(t *testing.T, s *Suite, id uint64, fresh bool) *run {
	s.BeginRun(id, fresh)
	return &run{t: t, s: s, c: NewClaims(), id: id}
}

func (r *run) group(parent *Node, name string, line int) *Node {
	r.nextID++
	return r.s.ResolveGroup(r.c, parent, name, line, r.nextID, false, r.id)
}

func (r *run) test(parent *Node, name string, line int, status Status) *Node {
	r.nextID++
	n := r.s.StartTest(r.c, parent, name, line, r.nextID, r.id)
	r.s.FinishTest(n, status, 10*time.Millisecond, false, r.id)
	return n
}

func (r *run) done() int {
	return r.s.Complete(r.c, r.id, nil)
}

func labels(infos []*Info) []string {
	var out []string
	for _, i := range infos {
		out = append(out, fmt.Sprintf("%s:%d:%s", i.Label, i.Line, i.Status))
	}
	return out
}

func TestUpsertSuiteIdempotent(t *testing.T) {
	tree := New()
	a := tree.UpsertSuite(file)
	b := tree.UpsertSuite(file)
	assert.Same(t, a, b)
	assert.Len(t, tree.Suites(), 1)

	tree.ClearAll()
	assert.Empty(t, tree.Suites())
	_, ok := tree.Lookup(file)
	assert.False(t, ok)
}

func TestDuplicateTestsNeverMerge(t *testing.T) {
	tree := New()
	s := tree.UpsertSuite(file)
	r := newRun(t, s, 1, true)
	g := r.group(nil, "dupes", 3)
	for i := 0; i < 3; i++ {
		r.test(g, "dupes same", 4+i, StatusPassed)
	}
	r.done()

	info := s.Info()
	require.Len(t, info.Children, 1)
	assert.Equal(t, []string{
		"same:4:passed",
		"same:5:passed",
		"same:6:passed",
	}, labels(info.Children[0].Children))
	assert.Equal(t, 3, info.Passed)
	assert.Equal(t, 3, info.Total)
}

func TestDuplicateRerunPicksClosestLine(t *testing.T) {
	tree := New()
	s := tree.UpsertSuite(file)
	r := newRun(t, s, 1, true)
	g := r.group(nil, "dupes", 3)
	ids := make([]int, 3)
	for i := range ids {
		ids[i] = r.test(g, "dupes same", 4+i, StatusPassed).ID()
	}
	r.done()

	// Re-run the middle one individually.
	r = newRun(t, s, 2, false)
	g = r.group(nil, "dupes", 3)
	n := r.test(g, "dupes same", 5, StatusFailed)
	assert.Equal(t, ids[1], n.ID())
	assert.Equal(t, 2, r.done(), "the other duplicates are covered by the run")

	info := s.Info()
	tests := info.Tests()
	require.Len(t, tests, 3)
	assert.Equal(t, StatusPassed, tests[0].Status)
	assert.Equal(t, StatusFailed, tests[1].Status)
	assert.Equal(t, StatusPassed, tests[2].Status)
}

func TestMatchTieGoesToFirstCreated(t *testing.T) {
	tree := New()
	s := tree.UpsertSuite(file)
	r := newRun(t, s, 1, true)
	first := r.test(nil, "t", 0, StatusPassed)
	r.test(nil, "t", 0, StatusPassed)
	r.done()

	r = newRun(t, s, 2, false)
	n := r.test(nil, "t", 0, StatusFailed)
	assert.Same(t, first, n)
}

func TestUnknownLineRanksLast(t *testing.T) {
	tree := New()
	s := tree.UpsertSuite(file)
	r := newRun(t, s, 1, true)
	r.test(nil, "t", 0, StatusPassed)
	lined := r.test(nil, "t", 40, StatusPassed)
	r.done()

	r = newRun(t, s, 2, false)
	assert.Same(t, lined, r.test(nil, "t", 12, StatusPassed))
}

func TestRerunSingleTestLeavesSiblings(t *testing.T) {
	tree := New()
	s := tree.UpsertSuite(file)
	r := newRun(t, s, 1, true)
	g := r.group(nil, "g", 1)
	r.test(g, "g a", 2, StatusPassed)
	r.test(g, "g b", 3, StatusFailed)
	r.test(g, "g c", 4, StatusSkipped)
	r.done()

	r = newRun(t, s, 2, false)
	g = r.group(nil, "g", 1)
	r.test(g, "g b", 3, StatusPassed)
	marked := s.Complete(r.c, r.id, func(name string) bool { return name == "g b" })
	assert.Zero(t, marked)

	tests := s.Info().Tests()
	assert.Equal(t, []string{"a:2:passed", "b:3:passed", "c:4:skipped"}, labels(tests))
	for _, test := range tests {
		assert.False(t, test.Stale, test.Name)
	}
	assert.Equal(t, 2, s.Info().Passed)
	assert.Equal(t, 3, s.Info().Total)
}

func TestIdempotentRuns(t *testing.T) {
	tree := New()
	s := tree.UpsertSuite(file)
	once := func(id uint64) *Info {
		r := newRun(t, s, id, true)
		g := r.group(nil, "g", 1)
		r.test(g, "g a", 2, StatusPassed)
		r.test(g, "g a", 3, StatusFailed)
		h := r.group(g, "g h", 4)
		r.test(h, "g h b", 5, StatusSkipped)
		r.test(nil, "top", 9, StatusPassed)
		r.done()
		return s.Info()
	}
	first := once(1)
	second := once(2)
	assert.Equal(t, first.Tests(), second.Tests())
	assert.Equal(t, first.Passed, second.Passed)
	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, first.Status, second.Status)
}

func TestStaleMarking(t *testing.T) {
	tree := New()
	s := tree.UpsertSuite(file)
	r := newRun(t, s, 1, true)
	r.test(nil, "a", 1, StatusPassed)
	r.test(nil, "b", 2, StatusFailed)
	r.done()

	r = newRun(t, s, 2, true)
	r.test(nil, "a", 1, StatusPassed)
	assert.Equal(t, 1, r.done())

	info := s.Info()
	tests := info.Tests()
	require.Len(t, tests, 2)
	assert.False(t, tests[0].Stale)
	assert.True(t, tests[1].Stale)
	assert.Equal(t, StatusFailed, tests[1].Status, "stale keeps the status")
	assert.Equal(t, StatusFailed, info.Status)
	assert.False(t, info.Stale, "suite has a fresh result")
	assert.True(t, tests[0].Touched)
	assert.False(t, tests[1].Touched)

	r = newRun(t, s, 3, true)
	r.test(nil, "b", 2, StatusPassed)
	r.done()
	tests = s.Info().Tests()
	assert.False(t, tests[1].Stale)
	assert.True(t, tests[0].Stale)
}

func TestStaleIgnoresNeverRun(t *testing.T) {
	tree := New()
	s := tree.UpsertSuite(file)
	s.ApplyOutline(outline.Qualify(outline.Forest{
		{Name: "a", Line: 1},
		{Name: "b", Line: 2},
	}, " "))
	r := newRun(t, s, 1, true)
	r.test(nil, "a", 1, StatusPassed)
	assert.Zero(t, r.done())
	tests := s.Info().Tests()
	require.Len(t, tests, 2)
	assert.Equal(t, StatusUnknown, tests[1].Status)
	assert.False(t, tests[1].Stale)
}

func TestGroupMerge(t *testing.T) {
	tree := New()
	s := tree.UpsertSuite(file)
	s.BeginRun(1, true)
	c := NewClaims()
	g1 := s.ResolveGroup(c, nil, "g", 1, 1, false, 1)
	g2 := s.ResolveGroup(c, nil, "g", 1, 2, false, 1)
	assert.NotSame(t, g1, g2, "a second group event in one session is a second group")

	c = NewClaims()
	s.BeginRun(2, false)
	m1 := s.ResolveGroup(c, nil, "g", 1, 1, true, 2)
	m2 := s.ResolveGroup(c, nil, "g", 1, 2, true, 2)
	assert.Same(t, g1, m1)
	assert.Same(t, m1, m2)
	assert.Len(t, s.Info().Children, 2)
}

func TestOutlineOrdering(t *testing.T) {
	f := outline.Qualify(outline.Forest{
		{Name: "first", Line: 1},
		{Name: "g", Line: 3, IsGroup: true, Children: []*outline.Decl{
			{Name: "x", Line: 4},
			{Name: "y", Line: 5},
		}},
		{Name: "last", Line: 9},
	}, " ")
	reg := outline.NewRegistry()
	reg.Set(file, f)
	tree := New(WithOutline(reg))
	s := tree.Open(file)

	info := s.Info()
	assert.Equal(t, []string{"first:1:unknown", "g:3:unknown", "last:9:unknown"}, labels(info.Children))
	assert.Equal(t, 4, info.Total)
	assert.Zero(t, info.Passed)

	// Events arrive in a different order and include a dynamic test.
	r := newRun(t, s, 1, true)
	r.test(nil, "last", 9, StatusPassed)
	r.test(nil, "dynamic", 0, StatusPassed)
	g := r.group(nil, "g", 3)
	r.test(g, "g y", 5, StatusPassed)
	r.test(g, "g x", 4, StatusFailed)
	r.test(g, "g x", 4, StatusPassed)
	r.test(nil, "first", 1, StatusPassed)
	r.done()

	info = s.Info()
	assert.Equal(t, []string{"first:1:passed", "g:3:failed", "last:9:passed", "dynamic:0:passed"}, labels(info.Children))
	assert.Equal(t, []string{"x:4:failed", "x:4:passed", "y:5:passed"}, labels(info.Children[1].Children))
	assert.Equal(t, 5, info.Passed)
	assert.Equal(t, 6, info.Total)

	// Reopening re-binds rather than duplicates.
	s = tree.Open(file)
	info = s.Info()
	assert.Len(t, info.Tests(), 6)
	assert.Equal(t, []string{"x:4:failed", "x:4:passed", "y:5:passed"}, labels(info.Children[1].Children))
}

func TestMissingOutline(t *testing.T) {
	tree := New(WithOutline(outline.NewRegistry()))
	s := tree.Open(file)
	r := newRun(t, s, 1, true)
	r.test(nil, "b", 0, StatusPassed)
	r.test(nil, "a", 0, StatusPassed)
	r.done()
	assert.Equal(t, []string{"b:0:passed", "a:0:passed"}, labels(s.Info().Children))
}

func TestAggregateCounts(t *testing.T) {
	tree := New()
	s := tree.UpsertSuite(file)
	r := newRun(t, s, 1, true)
	g1 := r.group(nil, "G1", 1)
	r.test(g1, "G1 a", 2, StatusPassed)
	r.test(g1, "G1 b", 3, StatusPassed)
	r.test(g1, "G1 c", 4, StatusPassed)
	r.test(g1, "G1 d", 5, StatusSkipped)
	g2 := r.group(nil, "G2", 7)
	for i := 0; i < 5; i++ {
		r.test(g2, fmt.Sprintf("G2 p%d", i), 8+i, StatusPassed)
	}
	r.test(g2, "G2 f", 13, StatusFailed)
	r.test(g2, "G2 s", 14, StatusSkipped)
	r.done()

	info := s.Info()
	assert.Equal(t, 8, info.Passed)
	assert.Equal(t, 11, info.Total)
	assert.Equal(t, StatusFailed, info.Status)
	assert.Equal(t, 110*time.Millisecond, info.Duration)
	assert.Equal(t, StatusSkipped, info.Children[0].Status)
	assert.Equal(t, 3, info.Children[0].Passed)
	assert.Equal(t, 4, info.Children[0].Total)
}

func TestAggregateRunningAndHidden(t *testing.T) {
	tree := New()
	s := tree.UpsertSuite(file)
	s.BeginRun(1, true)
	c := NewClaims()
	setup := s.StartTest(c, nil, "(setUpAll)", 0, 1, 1)
	s.FinishTest(setup, StatusPassed, time.Millisecond, true, 1)
	n := s.StartTest(c, nil, "a", 1, 2, 1)

	info := s.Info()
	assert.Equal(t, StatusRunning, info.Status)
	assert.Equal(t, 1, info.Total)
	assert.Zero(t, info.Passed)
	assert.Zero(t, info.Duration)

	s.FinishTest(n, StatusPassed, 5*time.Millisecond, false, 1)
	info = s.Info()
	assert.Equal(t, StatusPassed, info.Status)
	assert.Equal(t, 1, info.Passed)
	assert.Equal(t, 5*time.Millisecond, info.Duration)
}

func TestAddFailure(t *testing.T) {
	tree := New()
	s := tree.UpsertSuite(file)
	s.BeginRun(1, true)
	c := NewClaims()
	n := s.StartTest(c, nil, "a", 1, 1, 1)
	f := Failure{Message: "Expected: <1>\n  Actual: <2>", Stack: "test/widget_test.dart 12:5  main", IsFailure: true}
	s.AddFailure(n, f)
	s.AddOutput(n, "hello")
	s.FinishTest(n, StatusFailed, 0, false, 1)

	got, ok := tree.GetNode(n.ID())
	require.True(t, ok)
	assert.Equal(t, []Failure{f}, got.Failures)
	assert.Equal(t, []string{"hello"}, got.Output)

	// An error reported after the test finished turns it into a failure.
	m := s.StartTest(c, nil, "b", 2, 2, 1)
	s.FinishTest(m, StatusPassed, 0, false, 1)
	s.AddFailure(m, Failure{Message: "late"})
	got, _ = tree.GetNode(m.ID())
	assert.Equal(t, StatusFailed, got.Status)

	// Load errors attach to the suite.
	s.AddFailure(nil, Failure{Message: "compilation failed"})
	assert.Equal(t, StatusFailed, s.Info().Status)
	assert.Len(t, s.Info().Failures, 1)

	// A rerun clears earlier detail.
	s.BeginRun(2, false)
	n = s.StartTest(NewClaims(), nil, "a", 1, 1, 2)
	got, _ = tree.GetNode(n.ID())
	assert.Empty(t, got.Failures)
	assert.Empty(t, got.Output)
}

func TestGetChildren(t *testing.T) {
	tree := New()
	s := tree.UpsertSuite(file)
	tree.UpsertSuite("test/other_test.dart")
	r := newRun(t, s, 1, true)
	g := r.group(nil, "g", 1)
	r.test(g, "g a", 2, StatusPassed)

	roots := tree.GetChildren(0)
	require.Len(t, roots, 2)
	assert.Equal(t, file, roots[0].Name)
	kids := tree.GetChildren(roots[0].ID)
	require.Len(t, kids, 1)
	assert.Equal(t, "g", kids[0].Label)
	assert.Equal(t, "a", tree.GetChildren(kids[0].ID)[0].Label)
	assert.Nil(t, tree.GetChildren(9999))

	found := tree.FindTests(file, "g a")
	require.Len(t, found, 1)
	assert.Equal(t, 2, found[0].Line)
}

func TestConcurrentRunsConverge(t *testing.T) {
	tree := New()
	const sessions = 8
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			s := tree.UpsertSuite(file)
			r := newRun(t, s, id, false)
			g := r.group(nil, "g", 1)
			r.test(g, "g a", 2, StatusPassed)
			r.test(g, "g a", 3, StatusPassed)
			r.test(nil, "b", 5, StatusPassed)
			r.done()
		}(uint64(i + 1))
	}
	wg.Wait()

	suites := tree.Suites()
	require.Len(t, suites, 1)
	info := suites[0]
	for _, test := range info.Tests() {
		assert.Equal(t, StatusPassed, test.Status)
	}
	assert.Equal(t, 3, info.Passed)
	assert.Equal(t, 3, info.Total)
	assert.Len(t, info.Children, 2)
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "pass.svg", StatusPassed.Icon(false))
	assert.Equal(t, "fail_stale.svg", StatusFailed.Icon(true))
	assert.Equal(t, "skip.svg", StatusSkipped.Icon(false))
	assert.Equal(t, "unknown.svg", Status(42).Icon(false))
	assert.Equal(t, StatusFailed, Highest(StatusSkipped, StatusFailed))
	assert.Equal(t, "running", StatusRunning.String())
}

func TestOutlineUsesTreeSeparator(t *testing.T) {
	reg := outline.NewRegistry()
	f := outline.Qualify(outline.Forest{
		{Name: "G", Line: 1, IsGroup: true, Children: []*outline.Decl{
			{Name: "a", Line: 2},
		}},
	}, outline.DefaultSeparator)
	reg.Set(file, f)
	tree := New(WithSeparator("/"), WithOutline(reg))
	s := tree.Open(file)

	r := newRun(t, s, 1, true)
	g := r.group(nil, "G", 1)
	r.test(g, "G/a", 2, StatusPassed)
	r.done()

	tests := s.Info().Tests()
	require.Len(t, tests, 1, "the declaration and the result are one node")
	assert.Equal(t, "G/a", tests[0].Name)
	assert.Equal(t, StatusPassed, tests[0].Status)
	assert.Equal(t, "G a", f[0].Children[0].FullName, "the registered outline is not modified")
}
