// Copyright © 2024 The ELPS authors

package cmd

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-dap"
	"github.com/luthersystems/testview/dapstream"
	"github.com/luthersystems/testview/results"
	"github.com/luthersystems/testview/viewtest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFile = "test/a_test.dart"

func plainSettings(t *testing.T) {
	viper.Set("color", "never")
	t.Cleanup(viper.Reset)
}

func firstRun() *viewtest.Script {
	sc := viewtest.NewScript()
	suite := sc.Suite(testFile)
	sc.Run(viewtest.Test{Suite: suite, Name: "b", Line: 5}, results.StatusFailed)
	sc.Run(viewtest.Test{Suite: suite, Name: "a", Line: 2}, results.StatusPassed)
	sc.Run(viewtest.Test{Suite: suite, Name: "c", Line: 8}, results.StatusSkipped)
	sc.Done(false)
	return sc
}

func writeFile(t *testing.T, name string, b []byte) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, b, 0600))
	return path
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRenderCommand(t *testing.T) {
	plainSettings(t)
	path := writeFile(t, "run.jsonl", firstRun().Bytes())
	out, _, err := execute(t, RenderCommand(), path)
	require.NoError(t, err)
	assert.Equal(t, `test/a_test.dart [1/3 passed, 30ms] (fail.svg)
    b [10ms] (fail.svg)
    a [10ms] (pass.svg)
    c [10ms] (skip.svg)
`, out)
}

func TestRenderCommandOutlineAndSettings(t *testing.T) {
	plainSettings(t)
	viper.Set("hide-skipped", true)
	path := writeFile(t, "run.jsonl", firstRun().Bytes())
	outline := writeFile(t, "a.yaml", []byte("- test: a\n  line: 2\n- test: b\n  line: 5\n- test: c\n  line: 8\n"))
	out, _, err := execute(t, RenderCommand(), "--outline", testFile+"="+outline, path)
	require.NoError(t, err)
	assert.Equal(t, `test/a_test.dart [1/2 passed, 20ms] (fail.svg)
    a [10ms] (pass.svg)
    b [10ms] (fail.svg)
`, out)
}

func TestRenderCommandPartialLog(t *testing.T) {
	plainSettings(t)
	b := firstRun().Bytes()
	lines := strings.SplitAfter(string(b), "\n")
	path := writeFile(t, "cut.jsonl", []byte(strings.Join(lines[:len(lines)-2], "")))
	out, errOut, err := execute(t, RenderCommand(), path)
	require.NoError(t, err)
	assert.Contains(t, out, "test/a_test.dart")
	assert.Contains(t, errOut, "event log ends before the run completed")
}

func TestRenderCommandErrors(t *testing.T) {
	plainSettings(t)
	path := writeFile(t, "run.jsonl", firstRun().Bytes())

	_, _, err := execute(t, RenderCommand(), "--outline", "nofile", path)
	assert.ErrorContains(t, err, "want FILE=PATH")

	_, _, err = execute(t, RenderCommand(), "--exclude", "run.jsonl", path)
	assert.ErrorContains(t, err, "no event logs")

	_, _, err = execute(t, RenderCommand(), filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.ErrorContains(t, err, "opening event log")

	viper.Set("telemetry", "carrier-pigeon")
	_, _, err = execute(t, RenderCommand(), path)
	assert.ErrorContains(t, err, "unknown telemetry")
}

func TestDAPCommand(t *testing.T) {
	plainSettings(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close() //nolint:errcheck

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close() //nolint:errcheck
		for i, ev := range firstRun().Events() {
			b, err := dapstream.EncodeNotification(i+1, dapstream.DefaultEventName, ev)
			if err != nil {
				return
			}
			if err := dap.WriteBaseMessage(conn, b); err != nil {
				return
			}
		}
	}()

	out, _, err := execute(t, DAPCommand(), "--addr", ln.Addr().String(), testFile)
	require.NoError(t, err)
	assert.Contains(t, out, "test/a_test.dart [1/3 passed, 30ms] (fail.svg)")
}

func TestDAPCommandConnectionRefused(t *testing.T) {
	plainSettings(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, _, err = execute(t, DAPCommand(), "--addr", addr)
	assert.ErrorContains(t, err, "dial")
}

func TestRenderCommandFailures(t *testing.T) {
	plainSettings(t)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "test"), 0700))
	src := "void main() {\n  test('a', () {});\n\n\n  test('b', () {\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, testFile), []byte(src), 0600))
	viper.Set("source-root", root)

	path := writeFile(t, "run.jsonl", firstRun().Bytes())
	out, _, err := execute(t, RenderCommand(), "--failures", path)
	require.NoError(t, err)
	assert.Contains(t, out, "test/a_test.dart [1/3 passed, 30ms] (fail.svg)\n")
	assert.Contains(t, out, `error: test "b" failed: Expected: true`)
	assert.Contains(t, out, "  --> test/a_test.dart:5\n")
	assert.Contains(t, out, " 5 |    test('b', () {\n")
	assert.Contains(t, out, "   |    ^^^^ test failed\n")
}
