package output

import (
	"fmt"
	"io"
)

// Info writes an informational line to w.
func Info(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, "ℹ️  "+format+"\n", args...)
}

// Warn writes a warning line to w.
func Warn(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, "⚠️  "+format+"\n", args...)
}

// Success writes a success line to w.
func Success(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, "✅ "+format+"\n", args...)
}
