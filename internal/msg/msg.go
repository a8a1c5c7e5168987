// Package msg prints leveled, colored messages to the terminal.
package msg

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

func Error(format string, a ...any) {
	fmt.Print(color.HiRedString("error"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

func Warn(format string, a ...any) {
	fmt.Print(color.YellowString("warn"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

func Fatal(format string, a ...any) {
	fmt.Print(color.RedString("fatal"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
	os.Exit(1)
}

func Info(format string, a ...any) {
	fmt.Print(color.HiGreenString("info"))
	fmt.Print(": ")
	fmt.Printf(format, a...)
	fmt.Print("\n")
}

// IndentWriter prefixes every line written through it with Indent.
// Used to offset subprocess output (clone progress, linker chatter)
// from our own messages.
type IndentWriter struct {
	Indent    string
	W         io.Writer
	didIndent bool
}

func (w *IndentWriter) Write(p []byte) (n int, err error) {
	start := 0
	for i, c := range p {
		if !w.didIndent {
			if _, err := io.WriteString(w.W, w.Indent); err != nil {
				return i, err
			}
			w.didIndent = true
		}
		if c == '\n' || c == '\r' {
			if _, err := w.W.Write(p[start : i+1]); err != nil {
				return i, err
			}
			start = i + 1
			w.didIndent = false
		}
	}
	if start < len(p) {
		if _, err := w.W.Write(p[start:]); err != nil {
			return start, err
		}
	}
	return len(p), nil
}
