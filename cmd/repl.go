// Copyright © 2018 The ELPS authors

package cmd

import (
	"os"
	"path/filepath"

	"github.com/luthersystems/testview/repl"
	"github.com/spf13/cobra"
)

// REPLCommand creates the "repl" cobra command.
func REPLCommand(opts ...Option) *cobra.Command {
	cfg := newCmdConfig(opts)
	return &cobra.Command{
		Use:   "repl [LOG...]",
		Short: "Explore test results interactively",
		Long: `Start an interactive explorer over a result tree, optionally seeded
with recorded event logs.

Line editing, tab completion of commands and file names, and command
history are supported via readline. Use Ctrl-D or quit to exit.

Example session:
  testview> load run.jsonl
  run.jsonl: session 1, 12 finished, 1 failed, 2 skipped, 0 stale
  testview> toggle-hide-skipped
  toggle-hide-skipped: on
  testview> show
  ...
  testview> rerun-only-failed
  run requested: test/widget_test.dart tests 'widget resizes'
  testview> node 14
  ...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cfg.newStack(os.Stderr)
			if err != nil {
				return err
			}
			paths, err := expandArgs(args)
			if err != nil {
				return err
			}
			if err := st.replay(cmd.Context(), paths); err != nil {
				return err
			}
			return repl.RunRepl(cmd.Context(), st.tracker, st.ctrl,
				filepath.Base(os.Args[0])+"> ", repl.WithOutlines(st.outlines),
				repl.WithSourceRoot(st.settings.SourceRoot),
				repl.WithColor(st.settings.DiagnosticColor()))
		},
	}
}
