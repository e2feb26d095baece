// Copyright © 2018 The ELPS authors

package cmd

import (
	"io"
	"os"
	"regexp"

	"github.com/cockroachdb/errors"
	"github.com/luthersystems/testview/dapstream"
	"github.com/luthersystems/testview/session"
	"github.com/luthersystems/testview/view"
	"github.com/spf13/cobra"
)

// DAPCommand creates the "dap" cobra command.
func DAPCommand(opts ...Option) *cobra.Command {
	cfg := newCmdConfig(opts)
	var (
		addr      string
		stdio     bool
		handshake bool
		adapterID string
		names     []string
		groups    []string
		pattern   string
		fresh     bool
	)
	cmd := &cobra.Command{
		Use:   "dap [flags] [FILE...]",
		Short: "Follow a test run through a debug adapter",
		Long: `Connect to a debug adapter running tests and apply the test events it
forwards to the result tree, then print the tree.

Test runners started through a debug adapter report results as custom
DAP events (by default "dart.testNotification", see the event-name
setting) whose body is one test event.

Transport modes:
  --addr HOST:PORT   Connect to an adapter listening on TCP (default
                     localhost:4711)
  --stdio            Use stdin/stdout (for adapters that launch testview
                     as a child process); the tree is printed to stderr

The FILE arguments and the --name, --group and --pattern flags describe
the run that was requested.  Tests of those files that the filter covers
and the run did not report are marked stale.

Examples:
  testview dap --handshake
  testview dap --addr localhost:9229 test/widget_test.dart
  testview dap --name "widget resizes" test/widget_test.dart`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := cfg.newStack(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			req := session.Request{
				Files:       args,
				Fresh:       fresh,
				MergeGroups: len(names) > 0 || len(groups) > 0,
				Filter:      session.Filter{Names: names, Groups: groups},
			}
			if pattern != "" {
				re, err := regexp.Compile(pattern)
				if err != nil {
					return errors.Wrap(err, "pattern")
				}
				req.Filter.Pattern = re
			}
			lopts := []dapstream.Option{
				dapstream.WithLogger(st.log),
				dapstream.WithEventName(st.settings.EventName),
			}
			if handshake {
				lopts = append(lopts, dapstream.WithHandshake("testview", adapterID))
			}
			l := dapstream.NewListener(st.tracker, lopts...)

			var out io.Writer = cmd.OutOrStdout()
			var serveErr error
			if stdio {
				st.log.Info("dap: using stdio transport")
				out = cmd.ErrOrStderr()
				_, serveErr = l.Serve(cmd.Context(), os.Stdin, os.Stdout, req)
			} else {
				st.log.Infof("dap: connecting to %s", addr)
				_, serveErr = l.DialAndServe(cmd.Context(), addr, req)
			}
			if err := view.Render(out, st.tree.Suites(), st.settings.ViewOptions()); err != nil {
				return err
			}
			return serveErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:4711", "Address of the debug adapter")
	cmd.Flags().BoolVar(&stdio, "stdio", false, "Use stdin/stdout for DAP communication")
	cmd.Flags().BoolVar(&handshake, "handshake", false,
		"Initialize the adapter and disconnect once the run completes")
	cmd.Flags().StringVar(&adapterID, "adapter-id", "dart", "Adapter id sent during the handshake")
	cmd.Flags().StringSliceVar(&names, "name", nil, "Full names of the tests the run was asked to run")
	cmd.Flags().StringSliceVar(&groups, "group", nil, "Full names of the groups the run was asked to run")
	cmd.Flags().StringVar(&pattern, "pattern", "", "Name pattern the run was asked to run")
	cmd.Flags().BoolVar(&fresh, "fresh", true, "Do not reuse runner ids remembered from earlier runs")
	return cmd
}
