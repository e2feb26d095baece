// Copyright © 2018 The ELPS authors

package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ergochat/readline"
	"github.com/kballard/go-shellquote"
	"github.com/luthersystems/testview/controller"
	"github.com/luthersystems/testview/diagnostic"
	"github.com/luthersystems/testview/outline"
	"github.com/luthersystems/testview/session"
	"github.com/luthersystems/testview/view"
)

type config struct {
	stdin    io.ReadCloser
	stderr   io.WriteCloser
	history  string
	outlines *outline.Registry
	root     string
	color    diagnostic.ColorMode
}

func newConfig(opts ...Option) *config {
	config := &config{history: historyPath()}
	for _, opt := range opts {
		opt(config)
	}
	return config
}

type Option func(*config)

// WithStdin allows overriding the input to the REPL.
func WithStdin(stdin io.ReadCloser) Option {
	return func(c *config) {
		c.stdin = stdin
	}
}

// WithStderr allows overriding the output to the REPL.
func WithStderr(stderr io.WriteCloser) Option {
	return func(c *config) {
		c.stderr = stderr
	}
}

// WithHistoryFile sets the readline history file.  An empty path disables
// history.
func WithHistoryFile(path string) Option {
	return func(c *config) {
		c.history = path
	}
}

// WithOutlines lets the outline command install outlines.  reg must be the
// provider the result tree was created with.
func WithOutlines(reg *outline.Registry) Option {
	return func(c *config) {
		c.outlines = reg
	}
}

// WithSourceRoot sets the directory test file paths are relative to,
// used to show source lines in failure reports.
func WithSourceRoot(dir string) Option {
	return func(c *config) {
		c.root = dir
	}
}

// WithColor sets when failure reports use colors.
func WithColor(mode diagnostic.ColorMode) Option {
	return func(c *config) {
		c.color = mode
	}
}

// Explorer executes REPL command lines against a result tree.
type Explorer struct {
	tracker  *session.Tracker
	ctrl     *controller.Controller
	outlines *outline.Registry
	out      io.Writer
	root     string
	color    diagnostic.ColorMode
}

// NewExplorer returns an Explorer writing to out.
func NewExplorer(tr *session.Tracker, c *controller.Controller, out io.Writer, opts ...Option) *Explorer {
	cfg := newConfig(opts...)
	return &Explorer{
		tracker:  tr,
		ctrl:     c,
		outlines: cfg.outlines,
		out:      out,
		root:     cfg.root,
		color:    cfg.color,
	}
}

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

type builtin struct {
	usage string
	help  string
	run   func(e *Explorer, ctx context.Context, args []string) error
}

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"help":     {"", "list commands", (*Explorer).help},
		"show":     {"", "print the result tree with the current view settings", (*Explorer).show},
		"node":     {"ID", "print a node with its failures and output", (*Explorer).node},
		"children": {"[ID]", "list the children of a node, or the suites", (*Explorer).children},
		"failures": {"[FILE]", "report failures with their source location", (*Explorer).failures},
		"load":     {"LOG...", "replay recorded test event logs", (*Explorer).load},
		"outline":  {"FILE OUTLINE", "install the declaration outline of FILE", (*Explorer).outline},
		"quit":     {"", "leave the REPL", func(*Explorer, context.Context, []string) error { return ErrQuit }},
	}
}

// Commands returns every command name Exec accepts.
func Commands() []string {
	names := controller.Verbs()
	for name := range builtins {
		names = append(names, name)
	}
	return names
}

// Exec runs one command line.  It returns ErrQuit for the quit command.
func (e *Explorer) Exec(ctx context.Context, line string) error {
	words, err := shellquote.Split(line)
	if err != nil {
		return errors.Wrap(err, "parse")
	}
	if len(words) == 0 {
		return nil
	}
	name, args := words[0], words[1:]
	if name == "exit" {
		name = "quit"
	}
	if b, ok := builtins[name]; ok {
		return b.run(e, ctx, args)
	}
	res, err := e.ctrl.Execute(ctx, name, args...)
	if err != nil {
		return err
	}
	e.report(name, res)
	return nil
}

func (e *Explorer) report(verb string, res *controller.Result) {
	for _, a := range res.Advisories {
		e.printf("warning: %s\n", a.Message)
	}
	if res.Toggled != nil {
		state := "off"
		if *res.Toggled {
			state = "on"
		}
		e.printf("%s: %s\n", verb, state)
	}
	if req := res.Request; req != nil {
		for _, file := range req.Files {
			f := req.FilterFor(file)
			e.printf("run requested: %s", file)
			if len(f.Names) > 0 {
				e.printf(" tests %s", shellquote.Join(f.Names...))
			}
			if len(f.Groups) > 0 {
				e.printf(" groups %s", shellquote.Join(f.Groups...))
			}
			e.printf("\n")
		}
	}
}

func (e *Explorer) printf(format string, v ...interface{}) {
	fmt.Fprintf(e.out, format, v...) //nolint:errcheck // best-effort REPL output
}

func (e *Explorer) help(context.Context, []string) error {
	for _, name := range []string{"show", "node", "children", "failures", "load", "outline", "help", "quit"} {
		b := builtins[name]
		e.printf("  %-22s %s\n", strings.TrimSpace(name+" "+b.usage), b.help)
	}
	for _, verb := range controller.Verbs() {
		e.printf("  %s\n", strings.TrimSpace(verb+" "+controller.Usage(verb)))
	}
	return nil
}

func (e *Explorer) show(context.Context, []string) error {
	return e.ctrl.Render(e.out)
}

func (e *Explorer) node(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.Wrap(controller.ErrUsage, "node ID")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.Wrapf(controller.ErrUsage, "node id %q", args[0])
	}
	info, ok := e.tracker.Tree().GetNode(id)
	if !ok {
		return errors.Wrapf(controller.ErrNotFound, "node %d", id)
	}
	opts := e.ctrl.ViewOptions()
	opts.ShowErrors = true
	e.printf("%d %s %q line %d\n", info.ID, info.Kind, info.Name, info.Line)
	for _, line := range view.Lines(info, opts) {
		e.printf("%s\n", line)
	}
	for _, out := range info.Output {
		e.printf("| %s\n", out)
	}
	return nil
}

func (e *Explorer) children(_ context.Context, args []string) error {
	id := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.Wrapf(controller.ErrUsage, "node id %q", args[0])
		}
		id = n
	}
	opts := e.ctrl.ViewOptions()
	for _, c := range e.tracker.Tree().GetChildren(id) {
		e.printf("%4d %s\n", c.ID, view.Line(c, opts))
	}
	return nil
}

func (e *Explorer) load(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.Wrap(controller.ErrUsage, "load LOG...")
	}
	for _, path := range args {
		if err := e.replay(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func (e *Explorer) replay(ctx context.Context, path string) error {
	f, err := os.Open(path) //#nosec G304
	if err != nil {
		return errors.Wrapf(err, "load")
	}
	defer f.Close() //nolint:errcheck // read only
	s, err := e.tracker.Replay(ctx, f, session.Request{Fresh: true})
	st := s.Stats()
	e.printf("%s: session %d, %d finished, %d failed, %d skipped, %d stale\n",
		path, s.ID(), st.Finished, st.Failed, st.Skipped, st.Stale)
	if err != nil {
		return errors.Wrapf(err, "load %s", path)
	}
	return nil
}

func (e *Explorer) outline(_ context.Context, args []string) error {
	if len(args) != 2 {
		return errors.Wrap(controller.ErrUsage, "outline FILE OUTLINE")
	}
	if e.outlines == nil {
		return errors.New("outline: no outline registry")
	}
	f, err := outline.Load(args[1])
	if err != nil {
		return err
	}
	e.outlines.Set(args[0], f)
	e.tracker.Tree().Open(args[0])
	e.printf("%s: %d declarations\n", args[0], f.Count())
	return nil
}

// RunRepl runs an interactive explorer over the result tree of tr.
func RunRepl(ctx context.Context, tr *session.Tracker, c *controller.Controller, prompt string, opts ...Option) error {
	cfg := newConfig(opts...)
	var out io.Writer = os.Stderr
	if cfg.stderr != nil {
		out = cfg.stderr
	}
	ensureHistoryFilePermissions(cfg.history)
	rlCfg := &readline.Config{
		Stdout:            out,
		Stderr:            out,
		Prompt:            prompt,
		HistoryFile:       cfg.history,
		HistorySearchFold: true,
		AutoComplete:      &commandCompleter{tree: tr.Tree()},
	}
	if cfg.stdin != nil {
		rlCfg.Stdin = cfg.stdin
	}
	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return errors.Wrap(err, "readline")
	}
	defer rl.Close() //nolint:errcheck // best-effort cleanup

	e := NewExplorer(tr, c, out, opts...)
	for {
		line, err := rl.ReadLine()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return nil
		}
		err = e.Exec(ctx, line)
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil {
			renderError(out, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".testview_history")
}

// ensureHistoryFilePermissions creates the history file readable only by
// its owner, or restricts an existing one.
func ensureHistoryFilePermissions(path string) {
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0600) //#nosec G304
	if err != nil {
		return
	}
	_ = f.Close()
	_ = os.Chmod(path, 0600)
}
