package repl

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/luthersystems/testview/controller"
	"github.com/luthersystems/testview/diagnostic"
	"github.com/luthersystems/testview/outline"
	"github.com/luthersystems/testview/results"
	"github.com/luthersystems/testview/session"
	"github.com/luthersystems/testview/viewtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const file = "test/calc_test.dart"

type fixture struct {
	tracker *session.Tracker
	ctrl    *controller.Controller
	reg     *outline.Registry
	log     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := viewtest.Logrus(t)
	reg := outline.NewRegistry()
	tree := results.New(results.WithOutline(reg), results.WithLogger(log))
	sc := viewtest.NewScript()
	suite := sc.Suite(file)
	g := sc.Group(suite, 0, "calc", 1)
	sc.Run(viewtest.Test{Suite: suite, Groups: []int{g}, Name: "calc add", Line: 2}, results.StatusPassed)
	sc.Run(viewtest.Test{Suite: suite, Groups: []int{g}, Name: "calc div", Line: 3}, results.StatusFailed)
	sc.Done(false)
	path := filepath.Join(t.TempDir(), "run.jsonl")
	require.NoError(t, os.WriteFile(path, sc.Bytes(), 0600))
	return &fixture{
		tracker: session.NewTracker(tree, session.WithLogger(log)),
		ctrl:    controller.New(tree, controller.WithLogger(log)),
		reg:     reg,
		log:     path,
	}
}

func (f *fixture) explorer(out io.Writer) *Explorer {
	return NewExplorer(f.tracker, f.ctrl, out, WithOutlines(f.reg), WithHistoryFile(""))
}

func TestExplorerLoadAndShow(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	e := f.explorer(&buf)
	ctx := context.Background()

	require.NoError(t, e.Exec(ctx, "load "+f.log))
	assert.Contains(t, buf.String(), "2 finished, 1 failed, 0 skipped, 0 stale")

	buf.Reset()
	require.NoError(t, e.Exec(ctx, "show"))
	assert.Equal(t, `test/calc_test.dart [1/2 passed, 20ms] (fail.svg)
    calc [1/2 passed, 20ms] (fail.svg)
        add [10ms] (pass.svg)
        div [10ms] (fail.svg)
`, buf.String())

	buf.Reset()
	require.NoError(t, e.Exec(ctx, "children"))
	assert.Contains(t, buf.String(), "test/calc_test.dart [1/2 passed, 20ms]")
}

func TestExplorerNode(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	e := f.explorer(&buf)
	ctx := context.Background()
	require.NoError(t, e.Exec(ctx, "load "+f.log))

	found := f.tracker.Tree().FindTests(file, "calc div")
	require.Len(t, found, 1)
	buf.Reset()
	require.NoError(t, e.Exec(ctx, "node "+strconv.Itoa(found[0].ID)))
	out := buf.String()
	assert.Contains(t, out, `test "calc div" line 3`)
	assert.Contains(t, out, "div [10ms] (fail.svg)")
	assert.Contains(t, out, "Expected: true")

	assert.True(t, errors.Is(e.Exec(ctx, "node"), controller.ErrUsage))
	assert.True(t, errors.Is(e.Exec(ctx, "node x"), controller.ErrUsage))
	assert.True(t, errors.Is(e.Exec(ctx, "node 9999"), controller.ErrNotFound))
}

func TestExplorerCommands(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	e := f.explorer(&buf)
	ctx := context.Background()
	require.NoError(t, e.Exec(ctx, "load "+f.log))

	buf.Reset()
	require.NoError(t, e.Exec(ctx, `rerun-test test/calc_test.dart "calc div"`))
	assert.Contains(t, buf.String(), "run requested: test/calc_test.dart tests")
	assert.Contains(t, buf.String(), "calc div")

	buf.Reset()
	require.NoError(t, e.Exec(ctx, "toggle-hide-skipped"))
	assert.Equal(t, "toggle-hide-skipped: on\n", buf.String())

	buf.Reset()
	require.NoError(t, e.Exec(ctx, "rerun-only-skipped"))
	assert.Equal(t, "warning: no skipped tests to run\n", buf.String())

	assert.True(t, errors.Is(e.Exec(ctx, "bogus"), controller.ErrUnknownCommand))
	assert.Error(t, e.Exec(ctx, `rerun-test "unterminated`))
	assert.True(t, errors.Is(e.Exec(ctx, "quit"), ErrQuit))
	assert.True(t, errors.Is(e.Exec(ctx, "exit"), ErrQuit))
	assert.NoError(t, e.Exec(ctx, "   "))
}

func TestExplorerLoadErrors(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	e := f.explorer(&buf)
	ctx := context.Background()
	assert.True(t, errors.Is(e.Exec(ctx, "load"), controller.ErrUsage))
	assert.Error(t, e.Exec(ctx, "load "+filepath.Join(t.TempDir(), "missing.jsonl")))

	// A log cut short aborts its session.
	b, err := os.ReadFile(f.log)
	require.NoError(t, err)
	lines := strings.SplitAfter(string(b), "\n")
	short := filepath.Join(t.TempDir(), "short.jsonl")
	require.NoError(t, os.WriteFile(short, []byte(strings.Join(lines[:5], "")), 0600))
	err = e.Exec(ctx, "load "+short)
	assert.True(t, errors.Is(err, session.ErrStreamEnded))
}

func TestExplorerOutline(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	e := f.explorer(&buf)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "other.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- test: second\n  line: 2\n- test: first\n  line: 5\n"), 0600))
	require.NoError(t, e.Exec(ctx, "outline test/other_test.dart "+path))
	assert.Equal(t, "test/other_test.dart: 2 declarations\n", buf.String())

	info, ok := f.tracker.Tree().SuiteInfo("test/other_test.dart")
	require.True(t, ok)
	buf.Reset()
	require.NoError(t, e.Exec(ctx, "children "+strconv.Itoa(info.ID)))
	out := buf.String()
	require.Contains(t, out, "second")
	require.Contains(t, out, "first")
	assert.Less(t, strings.Index(out, "second"), strings.Index(out, "first"))

	assert.True(t, errors.Is(e.Exec(ctx, "outline test/other_test.dart"), controller.ErrUsage))
	noReg := NewExplorer(f.tracker, f.ctrl, &buf, WithHistoryFile(""))
	assert.Error(t, noReg.Exec(ctx, "outline test/other_test.dart "+path))
}

func TestExplorerHelp(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	require.NoError(t, f.explorer(&buf).Exec(context.Background(), "help"))
	for _, name := range Commands() {
		assert.Contains(t, buf.String(), name)
	}
	assert.Contains(t, buf.String(), "rerun-test FILE NAME [LINE]")
}

func TestExplorerFailures(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	e := NewExplorer(f.tracker, f.ctrl, &buf, WithColor(diagnostic.ColorNever), WithHistoryFile(""))
	ctx := context.Background()
	require.NoError(t, e.Exec(ctx, "load "+f.log))

	buf.Reset()
	require.NoError(t, e.Exec(ctx, "failures "+file))
	assert.Equal(t, `error: test "calc div" failed: Expected: true
  --> test/calc_test.dart:3
   |
   = note: Actual: <false>
   = note: at test.dart 1:1  main
`, buf.String())

	assert.True(t, errors.Is(e.Exec(ctx, "failures test/nope_test.dart"), controller.ErrNotFound))
	assert.True(t, errors.Is(e.Exec(ctx, "failures a b"), controller.ErrUsage))
}

func TestRenderError(t *testing.T) {
	var buf bytes.Buffer
	renderError(&buf, errors.Wrap(controller.ErrUsage, "node ID"))
	assert.Equal(t, "error: node ID: "+controller.ErrUsage.Error()+"\n"+
		"   = note: use help to list commands and their arguments\n", buf.String())
}

func runReplWithString(t *testing.T, f *fixture, input string) string {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	go func() {
		defer inW.Close() //nolint:errcheck // test cleanup
		_, _ = io.WriteString(inW, input)
	}()

	go func() {
		_ = RunRepl(context.Background(), f.tracker, f.ctrl, "testview> ",
			WithStdin(inR), WithStderr(outW), WithHistoryFile(""))
		inR.Close()  //nolint:errcheck,gosec // test cleanup
		outW.Close() //nolint:errcheck,gosec // test cleanup
	}()

	var output bytes.Buffer
	_, _ = io.Copy(&output, outR)
	outR.Close() //nolint:errcheck,gosec // test cleanup
	return output.String()
}

func TestRunRepl(t *testing.T) {
	f := newFixture(t)
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Load",
			input:    "load " + f.log + "\nshow\n",
			expected: "div [10ms] (fail.svg)",
		},
		{
			name:     "Error",
			input:    "fnord\n",
			expected: "unknown command",
		},
		{
			name:     "Quit",
			input:    "quit\nshow\n",
			expected: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := runReplWithString(t, f, tc.input)
			require.Contains(t, got, tc.expected)
		})
	}
}

func TestEnsureHistoryFilePermissions_CreatesWithRestrictedMode(t *testing.T) {
	dir := t.TempDir()
	histFile := filepath.Join(dir, ".testview_history")

	// File does not exist yet.
	ensureHistoryFilePermissions(histFile)

	info, err := os.Stat(histFile)
	require.NoError(t, err, "history file should be created")
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "new history file should have mode 0600")
}

func TestEnsureHistoryFilePermissions_RestrictsExistingFile(t *testing.T) {
	dir := t.TempDir()
	histFile := filepath.Join(dir, ".testview_history")

	// Create the file with overly permissive mode.
	err := os.WriteFile(histFile, []byte("some history"), 0644)
	require.NoError(t, err)

	ensureHistoryFilePermissions(histFile)

	info, err := os.Stat(histFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "existing history file should be restricted to 0600")

	// Verify contents are preserved.
	data, err := os.ReadFile(histFile)
	require.NoError(t, err)
	assert.Equal(t, "some history", string(data))
}

func TestEnsureHistoryFilePermissions_EmptyPathNoOp(t *testing.T) {
	// Should not panic or error with empty path.
	ensureHistoryFilePermissions("")
}
