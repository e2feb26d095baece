// Copyright © 2024 The ELPS authors

package repl

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/luthersystems/testview/controller"
	"github.com/luthersystems/testview/diagnostic"
	"github.com/luthersystems/testview/results"
)

// renderError renders a command error using the diagnostic renderer.
// Usage errors get a hint pointing at the help command.
func renderError(w io.Writer, err error) {
	d := diagnostic.Diagnostic{
		Severity: diagnostic.SeverityError,
		Message:  err.Error(),
	}
	if errors.Is(err, controller.ErrUsage) || errors.Is(err, controller.ErrUnknownCommand) {
		d.Notes = append(d.Notes, "use help to list commands and their arguments")
	}
	r := &diagnostic.Renderer{Color: diagnostic.ColorAuto}
	_ = r.Render(w, d)
}

// failures renders the failures of one file, or of every file.
func (e *Explorer) failures(_ context.Context, args []string) error {
	var suites []*results.Info
	switch len(args) {
	case 0:
		suites = e.tracker.Tree().Suites()
	case 1:
		info, ok := e.tracker.Tree().SuiteInfo(args[0])
		if !ok {
			return errors.Wrapf(controller.ErrNotFound, "file %q", args[0])
		}
		suites = []*results.Info{info}
	default:
		return errors.Wrap(controller.ErrUsage, "failures [FILE]")
	}
	r := &diagnostic.Renderer{Color: e.color, Root: e.root}
	return r.RenderSuites(e.out, suites)
}
