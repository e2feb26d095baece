// Copyright © 2024 The ELPS authors

// Package view projects result tree snapshots for display.  Projection is
// a pure function of a snapshot: filtered nodes are removed from a copy
// and the counts of the remaining containers are recomputed, so a filtered
// view never reports tests it does not show.
package view

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/luthersystems/testview/results"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/samber/lo"
)

// Indent is the indentation added for every level of depth.
const Indent = 4

// DefaultWidth is the wrap width of failure detail.
const DefaultWidth = 100

// Options control a projection.
type Options struct {
	// OnlyActive keeps only tests the most recent run of their suite
	// touched, and the containers leading to them.
	OnlyActive bool
	// HideSkipped removes skipped tests.
	HideSkipped bool
	// OnlyFailed keeps only failed tests and the containers leading to
	// them.
	OnlyFailed bool
	// ShowErrors renders the failure detail of failed tests below them.
	ShowErrors bool
	// Color styles status icons for a terminal.
	Color bool
	// Width is the wrap width of failure detail.  Zero means
	// DefaultWidth.
	Width int
}

// Project returns a filtered copy of info with the counts of every
// container recomputed from the nodes that remain.  The second result is
// false when nothing of info remains.
func Project(info *results.Info, opts Options) (*results.Info, bool) {
	p, ok := project(info, opts)
	if !ok {
		return nil, false
	}
	p.Recount()
	return p, true
}

// ProjectAll projects every suite in suites, dropping those that are
// filtered out entirely.
func ProjectAll(suites []*results.Info, opts Options) []*results.Info {
	return lo.FilterMap(suites, func(s *results.Info, _ int) (*results.Info, bool) {
		return Project(s, opts)
	})
}

func project(info *results.Info, opts Options) (*results.Info, bool) {
	if !info.IsContainer() {
		return info, keepLeaf(info, opts)
	}
	cp := *info
	cp.Children = lo.FilterMap(info.Children, func(c *results.Info, _ int) (*results.Info, bool) {
		return project(c, opts)
	})
	if len(cp.Children) == 0 && len(info.Failures) == 0 {
		if opts.OnlyActive || opts.OnlyFailed || hasLeaves(info) {
			return nil, false
		}
	}
	return &cp, true
}

func keepLeaf(info *results.Info, opts Options) bool {
	switch {
	case info.Hidden:
		return false
	case opts.HideSkipped && info.Status == results.StatusSkipped:
		return false
	case opts.OnlyActive && !info.Touched:
		return false
	case opts.OnlyFailed && info.Status != results.StatusFailed:
		return false
	}
	return true
}

func hasLeaves(info *results.Info) bool {
	return lo.ContainsBy(info.Tests(), func(t *results.Info) bool { return !t.Hidden })
}

// Lines renders info, which should already be projected, one line per
// node.
func Lines(info *results.Info, opts Options) []string {
	var lines []string
	appendLines(&lines, info, 0, opts)
	return lines
}

func appendLines(lines *[]string, info *results.Info, depth int, opts Options) {
	pad := strings.Repeat(" ", depth*Indent)
	*lines = append(*lines, pad+Line(info, opts))
	if opts.ShowErrors {
		for _, f := range info.Failures {
			*lines = append(*lines, detail(f, depth+1, opts)...)
		}
	}
	for _, c := range info.Children {
		appendLines(lines, c, depth+1, opts)
	}
}

// Line formats a single node without indentation.
func Line(info *results.Info, opts Options) string {
	icon := icon(info.Status, info.Stale, opts.Color)
	ms := info.Duration.Milliseconds()
	if info.IsContainer() {
		return fmt.Sprintf("%s [%d/%d passed, %dms] (%s)", info.Label, info.Passed, info.Total, ms, icon)
	}
	return fmt.Sprintf("%s [%dms] (%s)", info.Label, ms, icon)
}

func detail(f results.Failure, depth int, opts Options) []string {
	width := opts.Width
	if width <= 0 {
		width = DefaultWidth
	}
	width -= depth * Indent
	if width < 20 {
		width = 20
	}
	text := strings.TrimRight(f.Message, "\n")
	if f.Stack != "" {
		text += "\n" + strings.TrimRight(f.Stack, "\n")
	}
	text = indent.String(wordwrap.String(text, width), uint(depth*Indent))
	return strings.Split(text, "\n")
}

var iconStyles = map[results.Status]lipgloss.Style{
	results.StatusPassed:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	results.StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	results.StatusSkipped: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	results.StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
}

var staleStyle = lipgloss.NewStyle().Faint(true)

func icon(status results.Status, stale, color bool) string {
	name := status.Icon(stale)
	if !color {
		return name
	}
	style, ok := iconStyles[status]
	if !ok {
		return name
	}
	if stale {
		style = style.Inherit(staleStyle)
	}
	return style.Render(name)
}

// Render writes the projection of every suite in suites to w.
func Render(w io.Writer, suites []*results.Info, opts Options) error {
	for _, s := range ProjectAll(suites, opts) {
		for _, line := range Lines(s, opts) {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}
