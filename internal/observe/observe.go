// Package observe builds the structured logger shared by every component.
package observe

import (
	"io"

	"github.com/felixgeelhaar/bolt/v3"
)

// Observer owns the process logger.
type Observer struct {
	log *bolt.Logger
}

// New creates an Observer with console output.
// If verbose is false, only warnings and errors are shown.
func New(out io.Writer, verbose bool) *Observer {
	l := bolt.New(bolt.NewConsoleHandler(out))
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l}
}

// NewJSON creates an Observer with JSON output.
func NewJSON(out io.Writer, verbose bool) *Observer {
	l := bolt.New(bolt.NewJSONHandler(out))
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l}
}

// Discard returns an Observer that drops everything. Used by tests and by
// library callers that do not care about logs.
func Discard() *Observer {
	return New(io.Discard, false)
}

// Log returns the underlying logger.
func (o *Observer) Log() *bolt.Logger {
	return o.log
}
