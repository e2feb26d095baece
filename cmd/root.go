// Copyright © 2018 The ELPS authors

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "testview",
	Short: "testview: test result tree explorer",
	Long: `testview keeps a tree of test results up to date from the JSON event
streams test runners emit, and renders it.

Results of consecutive runs are reconciled into one tree: re-running a
single test updates that test in place, duplicate test names stay
separate nodes, and tests a run should have reported but did not are
marked stale instead of being removed.

Getting started:
  testview render run.jsonl                  Print the tree of a recorded run
  testview render a.jsonl b.jsonl            Reconcile two runs, print the result
  testview render --outline test/a_test.dart=a.yaml run.jsonl
                                             Order nodes by their declarations
  testview dap --addr localhost:4711         Follow a run through a debug adapter
  testview repl run.jsonl                    Explore results interactively

Configuration is read from $HOME/.testview.yaml (or --config) and from
TESTVIEW_* environment variables, for example TESTVIEW_HIDE_SKIPPED=true.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.testview.yaml)")
	flags.String("color", "auto", `Control colored output: "auto", "always", or "never".`)
	flags.Bool("hide-skipped", false, "Leave skipped tests out of rendered trees")
	flags.Bool("only-active", false, "Render only the tests the latest run of each file touched")
	flags.Bool("only-failed", false, "Render only failed tests")
	flags.Bool("show-errors", false, "Render failure messages below failed tests")
	flags.Int("width", 0, "Wrap width of failure messages (default 100)")
	flags.String("log-level", "warn", "Log level: debug, info, warn, or error")
	flags.String("telemetry", "none", `Session tracing: "none", "opentelemetry", or "opencensus"`)
	flags.String("source-root", "", "Directory test file paths are relative to, for failure reports")
	for _, name := range []string{"color", "hide-skipped", "only-active", "only-failed", "show-errors", "width", "log-level", "telemetry", "source-root"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(RenderCommand(), DAPCommand(), REPLCommand())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory with name ".testview" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".testview")
	}

	viper.SetEnvPrefix("testview")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
