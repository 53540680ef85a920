package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Colors switch themselves off when the output is not a terminal or
// NO_COLOR is set.
var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	faint  = color.New(color.Faint)
)

func okf(w io.Writer, format string, a ...any) {
	_, _ = green.Fprintf(w, format, a...)
}

func warnf(w io.Writer, format string, a ...any) {
	_, _ = yellow.Fprintf(w, format, a...)
}

func errorf(w io.Writer, format string, a ...any) {
	_, _ = red.Fprintf(w, format, a...)
}

func printf(w io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(w, format, a...)
}
