// Copyright © 2024 The ELPS authors

package diagnostic

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// ColorMode controls when ANSI color codes are used.
type ColorMode int

const (
	ColorAuto   ColorMode = iota // detect based on terminal and NO_COLOR
	ColorAlways                  // always use colors
	ColorNever                   // never use colors
)

// palette holds the styles of diagnostic output.
type palette struct {
	bold     lipgloss.Style
	yellow   lipgloss.Style
	boldRed  lipgloss.Style
	boldBlue lipgloss.Style
	boldCyan lipgloss.Style
}

// choosePalette selects the styles for output written to w.  Automatic
// detection leaves colors off unless w is a terminal.
func choosePalette(mode ColorMode, w io.Writer) palette {
	r := lipgloss.NewRenderer(w)
	switch {
	case mode == ColorAlways:
		r.SetColorProfile(termenv.ANSI)
	case mode == ColorNever, os.Getenv("NO_COLOR") != "":
		r.SetColorProfile(termenv.Ascii)
	}
	return palette{
		bold:     r.NewStyle().Bold(true),
		yellow:   r.NewStyle().Foreground(lipgloss.Color("3")),
		boldRed:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		boldBlue: r.NewStyle().Bold(true).Foreground(lipgloss.Color("4")),
		boldCyan: r.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
	}
}
