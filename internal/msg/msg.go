// Package msg is gup's logging output: level-prefixed, colored lines to
// stderr, the same shape as a build tool's console output rather than a
// structured logger aimed at a log aggregator.
package msg

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
)

// Level controls how much gup prints. Normal is the default (info and
// above); -v is Verbose, -vv is Debug.
type Level int

const (
	Quiet Level = iota
	Normal
	Verbose
	Debug
)

var level = Normal

func init() {
	if os.Getenv("GUP_IN_TESTS") != "" {
		color.NoColor = true
	}
	if v := os.Getenv("GUP_COLOR"); v != "" {
		if disable, err := strconv.ParseBool(v); err == nil {
			color.NoColor = !disable
		}
	}
}

// SetLevel adjusts the global verbosity; the CLI calls this once from -v/-vv.
func SetLevel(l Level) { level = l }

func Error(format string, a ...any) {
	fmt.Fprint(os.Stderr, color.HiRedString("error"))
	fmt.Fprint(os.Stderr, ": ")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
}

func Warn(format string, a ...any) {
	fmt.Fprint(os.Stderr, color.YellowString("warn"))
	fmt.Fprint(os.Stderr, ": ")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
}

func Fatal(format string, a ...any) {
	fmt.Fprint(os.Stderr, color.RedString("fatal"))
	fmt.Fprint(os.Stderr, ": ")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
	os.Exit(1)
}

func Info(format string, a ...any) {
	if level < Normal {
		return
	}
	fmt.Fprint(os.Stderr, color.HiGreenString("info"))
	fmt.Fprint(os.Stderr, ": ")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
}

// Verbose prints target-level progress (e.g. "building", "up to date"),
// shown under -v and -vv.
func Verbose(format string, a ...any) {
	if level < Verbose {
		return
	}
	fmt.Fprint(os.Stderr, color.CyanString("gup"))
	fmt.Fprint(os.Stderr, ": ")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
}

// Debug prints internal decisions (staleness reasons, lock acquisition,
// RPC traffic), shown only under -vv.
func Debug(format string, a ...any) {
	if level < Debug {
		return
	}
	fmt.Fprint(os.Stderr, color.HiBlackString("debug"))
	fmt.Fprint(os.Stderr, ": ")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprint(os.Stderr, "\n")
}

// IndentWriter prefixes every line written to it with Indent; used to nest
// a sub-build's output under its parent's verbose trace.
type IndentWriter struct {
	Indent    string
	W         io.Writer
	didIndent bool
}

func (w *IndentWriter) Write(p []byte) (n int, err error) {
	for _, c := range p {
		if !w.didIndent {
			w.W.Write([]byte(w.Indent))
			w.didIndent = true
		}
		w.W.Write([]byte{c})
		if c == '\n' || c == '\r' {
			w.didIndent = false
		}
	}
	return len(p), nil
}
