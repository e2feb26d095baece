// Copyright © 2024 The ELPS authors

// Package controller implements the user facing commands of the result
// view.  Commands that re-run tests do not run anything themselves: they
// produce a session.Request for the external run driver, which starts a
// session with it and feeds the runner's events back.
package controller

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luthersystems/testview/results"
	"github.com/luthersystems/testview/session"
	"github.com/luthersystems/testview/view"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownCommand is returned by Execute for an unknown verb.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNotFound is returned when a command names a file, test or group
	// the result tree does not hold.
	ErrNotFound = errors.New("not found")
	// ErrUsage is returned when a command is given the wrong arguments.
	ErrUsage = errors.New("usage")
)

// Command verbs.
const (
	ClearAllResults   = "clear-all-results"
	RerunOnlyFailed   = "rerun-only-failed"
	RerunOnlySkipped  = "rerun-only-skipped"
	ToggleHideSkipped = "toggle-hide-skipped"
	ToggleOnlyActive  = "toggle-only-active"
	RerunTest         = "rerun-test"
	RerunGroup        = "rerun-group"
)

// AdvisoryKind classifies an advisory.
type AdvisoryKind string

const (
	// DuplicateName is raised when a command expecting one test found
	// several with the same full name.
	DuplicateName AdvisoryKind = "duplicate-name"
	// NothingToRun is raised when a re-run command selects no tests.
	NothingToRun AdvisoryKind = "nothing-to-run"
)

// Advisory is a user visible message that is not an error.
type Advisory struct {
	Kind    AdvisoryKind
	Message string
	// Nodes are the ids of the nodes the advisory is about.
	Nodes []int
}

// Notifier receives advisories.
type Notifier interface {
	Notify(a Advisory)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Advisory)

// Notify implements Notifier.
func (fn NotifierFunc) Notify(a Advisory) { fn(a) }

// Runner starts the runs the controller requests.
type Runner interface {
	Run(ctx context.Context, req session.Request) error
}

// Result is the outcome of a command.
type Result struct {
	// Request is the run a re-run command asks for, nil when there is
	// nothing to run.
	Request *session.Request
	// Toggled is the new value of the setting a toggle command changed.
	Toggled *bool
	// Advisories raised by the command, also delivered to the notifier.
	Advisories []Advisory
}

// Controller executes commands against a result tree.
type Controller struct {
	tree   *results.Tree
	log    logrus.FieldLogger
	notify Notifier
	runner Runner

	mu   sync.Mutex
	opts view.Options
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger of the controller.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Controller) { c.log = log }
}

// WithNotifier sets the receiver of advisories.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notify = n }
}

// WithRunner makes the controller start the runs its commands request.
func WithRunner(r Runner) Option {
	return func(c *Controller) { c.runner = r }
}

// WithViewOptions sets the initial view settings.
func WithViewOptions(opts view.Options) Option {
	return func(c *Controller) { c.opts = opts }
}

// New returns a Controller for tree.
func New(tree *results.Tree, opts ...Option) *Controller {
	c := &Controller{
		tree: tree,
		log:  logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Tree returns the result tree of the controller.
func (c *Controller) Tree() *results.Tree {
	return c.tree
}

// ViewOptions returns the current view settings.
func (c *Controller) ViewOptions() view.Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts
}

// Verbs returns the command verbs Execute accepts, sorted.
func Verbs() []string {
	verbs := lo.Keys(commands)
	sort.Strings(verbs)
	return verbs
}

// Usage returns the argument synopsis of verb.
func Usage(verb string) string {
	cmd, ok := commands[verb]
	if !ok {
		return ""
	}
	return cmd.usage
}

type command struct {
	usage string
	run   func(c *Controller, args []string) (*Result, error)
}

var commands = map[string]command{
	ClearAllResults: {"", func(c *Controller, _ []string) (*Result, error) {
		c.ClearAll()
		return &Result{}, nil
	}},
	RerunOnlyFailed: {"", func(c *Controller, _ []string) (*Result, error) {
		return c.RerunStatus(results.StatusFailed), nil
	}},
	RerunOnlySkipped: {"", func(c *Controller, _ []string) (*Result, error) {
		return c.RerunStatus(results.StatusSkipped), nil
	}},
	ToggleHideSkipped: {"", func(c *Controller, _ []string) (*Result, error) {
		v := c.ToggleHideSkipped()
		return &Result{Toggled: &v}, nil
	}},
	ToggleOnlyActive: {"", func(c *Controller, _ []string) (*Result, error) {
		v := c.ToggleOnlyActive()
		return &Result{Toggled: &v}, nil
	}},
	RerunTest: {"FILE NAME [LINE]", func(c *Controller, args []string) (*Result, error) {
		if len(args) < 2 || len(args) > 3 {
			return nil, errors.Wrapf(ErrUsage, "%s FILE NAME [LINE]", RerunTest)
		}
		line := 0
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return nil, errors.Wrapf(ErrUsage, "line %q", args[2])
			}
			line = n
		}
		return c.RerunTest(args[0], args[1], line)
	}},
	RerunGroup: {"FILE GROUP", func(c *Controller, args []string) (*Result, error) {
		if len(args) != 2 {
			return nil, errors.Wrapf(ErrUsage, "%s FILE GROUP", RerunGroup)
		}
		return c.RerunGroup(args[0], args[1])
	}},
}

// Execute runs the command verb.  When the controller has a runner the
// run a re-run command requests is started before Execute returns.
func (c *Controller) Execute(ctx context.Context, verb string, args ...string) (*Result, error) {
	cmd, ok := commands[verb]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCommand, "%q", verb)
	}
	res, err := cmd.run(c, args)
	if err != nil {
		return nil, err
	}
	c.log.WithField("command", verb).Debug("controller: executed")
	for _, a := range res.Advisories {
		c.advise(a)
	}
	if res.Request != nil && c.runner != nil {
		if err := c.runner.Run(ctx, *res.Request); err != nil {
			return res, errors.Wrapf(err, "%s", verb)
		}
	}
	return res, nil
}

func (c *Controller) advise(a Advisory) {
	c.log.WithField("advisory", a.Kind).Info(a.Message)
	if c.notify != nil {
		c.notify.Notify(a)
	}
}

// ClearAll discards every result.
func (c *Controller) ClearAll() {
	c.tree.ClearAll()
}

// ToggleHideSkipped flips the hide-skipped view setting and returns the
// new value.
func (c *Controller) ToggleHideSkipped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.HideSkipped = !c.opts.HideSkipped
	return c.opts.HideSkipped
}

// ToggleOnlyActive flips the only-active view setting and returns the new
// value.
func (c *Controller) ToggleOnlyActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.OnlyActive = !c.opts.OnlyActive
	return c.opts.OnlyActive
}

// RerunStatus requests a run of every visible test whose latest result is
// status.  Each file gets its own name filter, so a test sharing its name
// with a selected test of another file is not run.  Tests outside the
// selection keep their results.
func (c *Controller) RerunStatus(status results.Status) *Result {
	req := &session.Request{
		FileFilters: make(map[string]session.Filter),
		MergeGroups: true,
	}
	for _, s := range c.tree.Suites() {
		tests := lo.Filter(s.Tests(), func(t *results.Info, _ int) bool {
			return !t.Hidden && t.Status == status
		})
		if len(tests) == 0 {
			continue
		}
		req.Files = append(req.Files, s.Name)
		req.FileFilters[s.Name] = session.Filter{
			Names: lo.Uniq(lo.Map(tests, func(t *results.Info, _ int) string { return t.Name })),
		}
	}
	if len(req.Files) == 0 {
		return &Result{Advisories: []Advisory{{
			Kind:    NothingToRun,
			Message: fmt.Sprintf("no %s tests to run", status),
		}}}
	}
	return &Result{Request: req}
}

// RerunTest requests a run of the test fullName in file.  When several
// tests share the name the runner runs all of them; the result carries a
// DuplicateName advisory.  line, when known, is only used to name the
// test the user meant in the advisory.
func (c *Controller) RerunTest(file, fullName string, line int) (*Result, error) {
	if _, ok := c.tree.Lookup(file); !ok {
		return nil, errors.Wrapf(ErrNotFound, "file %q", file)
	}
	found := c.tree.FindTests(file, fullName)
	if len(found) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "test %q in %q", fullName, file)
	}
	res := &Result{Request: &session.Request{
		Files:       []string{file},
		Filter:      session.Filter{Names: []string{fullName}},
		MergeGroups: true,
	}}
	if len(found) > 1 {
		msg := fmt.Sprintf("%d tests in %s are named %q; all of them will run", len(found), file, fullName)
		if line > 0 {
			msg += fmt.Sprintf(" (selected line %d)", line)
		}
		res.Advisories = append(res.Advisories, Advisory{
			Kind:    DuplicateName,
			Message: msg,
			Nodes:   lo.Map(found, func(t *results.Info, _ int) int { return t.ID }),
		})
	}
	return res, nil
}

// RerunGroup requests a run of every test in the group fullName of file.
// Existing group nodes are merged into rather than duplicated.
func (c *Controller) RerunGroup(file, fullName string) (*Result, error) {
	info, ok := c.tree.SuiteInfo(file)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "file %q", file)
	}
	found := false
	info.Walk(func(n *results.Info) bool {
		if n.Kind == results.KindGroup && n.Name == fullName {
			found = true
		}
		return !found
	})
	if !found {
		return nil, errors.Wrapf(ErrNotFound, "group %q in %q", fullName, file)
	}
	return &Result{Request: &session.Request{
		Files:       []string{file},
		Filter:      session.Filter{Groups: []string{fullName}},
		MergeGroups: true,
	}}, nil
}

// Render writes the result tree with the current view settings.
func (c *Controller) Render(w io.Writer) error {
	return view.Render(w, c.tree.Suites(), c.ViewOptions())
}
