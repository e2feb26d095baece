// Copyright © 2024 The ELPS authors

// Package diagnostic provides Rust-style annotated rendering of test
// failures.  Each failure recorded in a result tree becomes a diagnostic
// pointing at the declaration of the failing test.
package diagnostic

import (
	"fmt"
	"strings"

	"github.com/luthersystems/testview/results"
)

// Severity indicates the severity level of a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityNote:
		return "note"
	default:
		return "unknown"
	}
}

// Span identifies a region of source code to highlight in the diagnostic.
type Span struct {
	File   string // path for reading source; display name if unreadable
	Line   int    // 1-based line number
	Col    int    // 1-based start column (0 = first non-blank column)
	EndCol int    // 1-based end column (0 = auto-detect from source)
	Label  string // text shown under the underline
}

// Diagnostic represents a single error, warning, or note with optional
// source annotations and trailing notes.
type Diagnostic struct {
	Severity Severity
	Message  string
	Spans    []Span
	Notes    []string // "= note:" lines (message continuation, stack frames)
}

// ForSuite returns a diagnostic for every failure recorded in the suite
// snapshot, in display order.  Failures of stale tests are warnings since
// a later run may no longer fail.
func ForSuite(suite *results.Info) []Diagnostic {
	var diags []Diagnostic
	suite.Walk(func(n *results.Info) bool {
		for _, f := range n.Failures {
			diags = append(diags, forFailure(suite.Name, n, f))
		}
		return true
	})
	return diags
}

func forFailure(file string, n *results.Info, f results.Failure) Diagnostic {
	lines := strings.Split(strings.TrimRight(f.Message, "\n"), "\n")
	what := "failed"
	if !f.IsFailure {
		what = "errored"
	}
	subject := fmt.Sprintf("%s %q", n.Kind, n.Name)
	if n.Kind == results.KindSuite {
		subject = "loading " + n.Name
	}
	d := Diagnostic{
		Severity: SeverityError,
		Message:  fmt.Sprintf("%s %s: %s", subject, what, strings.TrimSpace(lines[0])),
	}
	if n.Stale {
		d.Severity = SeverityWarning
		d.Notes = append(d.Notes, "result predates the latest run of this file")
	}
	if n.Line > 0 {
		d.Spans = append(d.Spans, Span{File: file, Line: n.Line, Label: n.Kind.String() + " " + what})
	} else {
		d.Spans = append(d.Spans, Span{File: file})
	}
	for _, l := range lines[1:] {
		if l = strings.TrimSpace(l); l != "" {
			d.Notes = append(d.Notes, l)
		}
	}
	for _, l := range strings.Split(f.Stack, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			d.Notes = append(d.Notes, "at "+l)
		}
	}
	return d
}
