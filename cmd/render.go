// Copyright © 2018 The ELPS authors

package cmd

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/luthersystems/testview/view"
	"github.com/spf13/cobra"
)

// RenderCommand creates the "render" cobra command.
func RenderCommand(opts ...Option) *cobra.Command {
	cfg := newCmdConfig(opts)
	var (
		outlines []string
		excludes []string
		failures bool
	)
	cmd := &cobra.Command{
		Use:   "render [flags] LOG...",
		Short: "Reconcile recorded test runs and print the result tree",
		Long: `Replay recorded test event logs, one JSON event per line, into a result
tree and print it.  Logs are replayed in order, so later runs update the
results of earlier ones the way consecutive runs in an editor would.

A directory argument ending in "/..." expands to every .jsonl, .ndjson
and .log file below it.

Examples:
  testview render run.jsonl
  testview render --hide-skipped first.jsonl rerun.jsonl
  testview render --outline test/a_test.dart=a.yaml logs/...
  testview render --only-active --show-errors run.jsonl
  testview render --failures --source-root ~/src/app run.jsonl`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := expandArgs(args)
			if err != nil {
				return err
			}
			paths = filterExcludes(paths, excludes)
			if len(paths) == 0 {
				return errors.New("no event logs to render")
			}
			st, err := cfg.newStack(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := st.loadOutlines(outlines); err != nil {
				return err
			}
			if err := st.replay(cmd.Context(), paths); err != nil {
				return err
			}
			if err := view.Render(cmd.OutOrStdout(), st.tree.Suites(), st.settings.ViewOptions()); err != nil {
				return err
			}
			if !failures {
				return nil
			}
			if _, err := io.WriteString(cmd.OutOrStdout(), "\n"); err != nil {
				return err
			}
			return st.settings.failureRenderer().RenderSuites(cmd.OutOrStdout(), st.tree.Suites())
		},
	}
	cmd.Flags().StringArrayVar(&outlines, "outline", nil,
		"Declaration outline of a test file, as FILE=PATH (repeatable)")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil,
		"Skip logs matching these patterns")
	cmd.Flags().BoolVar(&failures, "failures", false,
		"Report each failure with its source location after the tree")
	return cmd
}
