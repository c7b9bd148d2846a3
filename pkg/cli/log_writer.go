package cli

import (
	"strings"

	"github.com/isopen-io/meeshy-sub000/pkg/buffer"
)

// LogWriter is an io.Writer that captures log output for dashboard
// display, keeping the newest maxLines lines in a ring.
type LogWriter struct {
	buf *buffer.RingBuffer[string]
}

// NewLogWriter creates a log writer retaining up to maxLines lines.
func NewLogWriter(maxLines int) *LogWriter {
	return &LogWriter{buf: buffer.RingN[string](maxLines)}
}

// Write splits p on newlines and records each line.
func (w *LogWriter) Write(p []byte) (n int, err error) {
	text := strings.TrimRight(string(p), "\n")
	for _, line := range strings.Split(text, "\n") {
		w.buf.Add(line)
	}
	return len(p), nil
}

// Lines returns the captured lines, oldest first.
func (w *LogWriter) Lines() []string {
	return w.buf.Bytes()
}
