// Copyright © 2024 The ELPS authors

package diagnostic

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/luthersystems/testview/results"
)

// Renderer formats diagnostics as annotated source snippets in the style
// of the Rust compiler.
type Renderer struct {
	// Color controls ANSI color output. Default is ColorAuto.
	Color ColorMode

	// SourceReader reads test files. If nil, os.ReadFile is used.
	SourceReader func(string) ([]byte, error)

	// Root is the directory relative span files are read from.
	Root string
}

// Render writes a single diagnostic to w.
func (r *Renderer) Render(w io.Writer, d Diagnostic) error {
	p := choosePalette(r.Color, w)
	var b strings.Builder
	sev := p.boldRed
	switch d.Severity {
	case SeverityWarning:
		sev = p.yellow.Bold(true)
	case SeverityNote:
		sev = p.boldCyan
	}
	fmt.Fprintf(&b, "%s: %s\n", sev.Render(d.Severity.String()), p.bold.Render(d.Message))
	for _, s := range d.Spans {
		r.writeSpan(&b, s, p)
	}
	for _, note := range d.Notes {
		fmt.Fprintf(&b, "   %s note: %s\n", p.boldCyan.Render("="), note)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// RenderSuites writes the diagnostics of every failure in suites.
func (r *Renderer) RenderSuites(w io.Writer, suites []*results.Info) error {
	var diags []Diagnostic
	for _, s := range suites {
		diags = append(diags, ForSuite(s)...)
	}
	return r.RenderAll(w, diags)
}

// RenderAll writes diags to w separated by blank lines.
func (r *Renderer) RenderAll(w io.Writer, diags []Diagnostic) error {
	for i, d := range diags {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := r.Render(w, d); err != nil {
			return err
		}
	}
	return nil
}

// writeSpan writes the location of s and, when the source line can be
// read, the line with the span underlined.
func (r *Renderer) writeSpan(b *strings.Builder, s Span, p palette) {
	fmt.Fprintf(b, "  %s %s\n", p.boldBlue.Render("-->"), s.location())
	src, ok := r.sourceLine(s.File, s.Line)
	if !ok {
		fmt.Fprintf(b, "   %s\n", p.boldBlue.Render("|"))
		return
	}
	num := strconv.Itoa(s.Line)
	gutter := p.boldBlue.Render(strings.Repeat(" ", len(num)) + " |")
	start, end := s.columns(src)
	pad := ""
	if start-1 <= len(src) {
		pad = src[:start-1]
	}
	marker := p.boldRed.Render(strings.Repeat("^", end-start+1))
	if s.Label != "" {
		marker += " " + p.boldRed.Render(s.Label)
	}

	fmt.Fprintf(b, " %s\n", gutter)
	fmt.Fprintf(b, " %s  %s\n", p.boldBlue.Render(num+" |"), strings.ReplaceAll(src, "\t", "    "))
	fmt.Fprintf(b, " %s  %s%s\n", gutter, strings.Repeat(" ", displayWidth(pad)), marker)
	fmt.Fprintf(b, " %s\n", gutter)
}

func (s Span) location() string {
	switch {
	case s.Line <= 0:
		return s.File
	case s.Col > 0:
		return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Col)
	}
	return fmt.Sprintf("%s:%d", s.File, s.Line)
}

// columns returns the first and last 1-based columns of s in src.
func (s Span) columns(src string) (int, int) {
	start := s.Col
	if start <= 0 {
		start = firstNonBlank(src)
	}
	end := s.EndCol
	if end <= 0 {
		end = wordEnd(src, start)
	}
	if end < start {
		end = start
	}
	return start, end
}

// firstNonBlank returns the 1-based column of the first non-blank
// character of src.
func firstNonBlank(src string) int {
	for i, ch := range src {
		if !unicode.IsSpace(ch) {
			return i + 1
		}
	}
	return 1
}

// wordEnd returns the last column of the word starting at col.  Words end
// at blanks, brackets and commas.
func wordEnd(src string, col int) int {
	if col <= 0 || col > len(src) {
		return col
	}
	i := col - 1
	for i < len(src) {
		ch, size := utf8.DecodeRuneInString(src[i:])
		if unicode.IsSpace(ch) || strings.ContainsRune("()[]{},", ch) {
			break
		}
		i += size
	}
	if i == col-1 {
		return col
	}
	return i
}

// sourceLine returns line of file.  Blank and unreadable lines report
// false.
func (r *Renderer) sourceLine(file string, line int) (string, bool) {
	if line <= 0 || file == "" {
		return "", false
	}
	if r.Root != "" && !filepath.IsAbs(file) {
		file = filepath.Join(r.Root, file)
	}
	read := r.SourceReader
	if read == nil {
		read = os.ReadFile
	}
	data, err := read(file)
	if err != nil {
		return "", false
	}
	lines := strings.Split(string(data), "\n")
	if line > len(lines) {
		return "", false
	}
	src := strings.TrimRight(lines[line-1], "\r")
	return src, strings.TrimSpace(src) != ""
}

// displayWidth returns the display width of s with tabs expanded to 4
// spaces.
func displayWidth(s string) int {
	return utf8.RuneCountInString(s) + 3*strings.Count(s, "\t")
}
