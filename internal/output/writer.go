// Package output renders command results as text, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
	"sigs.k8s.io/yaml"
)

// Format is an output format
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a -o flag value
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q\n  → Use one of: text, json, yaml", s)
}

// Writer handles output in different formats
type Writer struct {
	out    io.Writer
	format Format
	ciMode bool
	tty    bool
}

// NewWriter creates a new output writer
func NewWriter(out io.Writer, format Format, ciMode bool) *Writer {
	if format == "" {
		format = FormatText
	}
	return &Writer{
		out:    out,
		format: format,
		ciMode: ciMode,
		tty:    IsTerminal(out),
	}
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Out returns the underlying writer
func (w *Writer) Out() io.Writer {
	return w.out
}

// Format returns the output format
func (w *Writer) Format() Format {
	return w.format
}

// IsJSON returns true if output format is JSON
func (w *Writer) IsJSON() bool {
	return w.format == FormatJSON
}

// IsStructured returns true for JSON and YAML output
func (w *Writer) IsStructured() bool {
	return w.format == FormatJSON || w.format == FormatYAML
}

// IsCIMode returns true if CI mode is enabled
func (w *Writer) IsCIMode() bool {
	return w.ciMode
}

// Decorated reports whether boxes and colours should be printed
func (w *Writer) Decorated() bool {
	return w.tty && !w.ciMode && w.format == FormatText
}

// SetTerminal overrides terminal detection
func (w *Writer) SetTerminal(tty bool) {
	w.tty = tty
}

// Encode writes v in the structured format. Text falls back to JSON so
// callers always get something machine-readable.
func (w *Writer) Encode(v interface{}) error {
	if w.format == FormatYAML {
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.out.Write(data)
		return err
	}
	enc := json.NewEncoder(w.out)
	if w.format == FormatText {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// Printf writes text output, suppressed in structured formats
func (w *Writer) Printf(format string, args ...interface{}) {
	if w.IsStructured() {
		return
	}
	fmt.Fprintf(w.out, format, args...)
}

// Timer helps track operation duration
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ElapsedMs returns elapsed time in milliseconds
func (t *Timer) ElapsedMs() int64 {
	return time.Since(t.start).Milliseconds()
}
