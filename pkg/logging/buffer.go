package logging

import (
	"strings"
	"sync"
)

// DefaultCaptureSize is the number of lines GlobalLogCapture retains.
const DefaultCaptureSize = 50

// LogCaptureWriter is a thread-safe writer that keeps the most recent lines in a ring.
type LogCaptureWriter struct {
	mu    sync.RWMutex
	lines []string
	next  int
	full  bool
}

// GlobalLogCapture captures the server log for the API.
var GlobalLogCapture = NewLogCaptureWriter(DefaultCaptureSize)

// NewLogCaptureWriter creates a writer retaining up to size lines (minimum 1).
func NewLogCaptureWriter(size int) *LogCaptureWriter {
	if size < 1 {
		size = 1
	}
	return &LogCaptureWriter{lines: make([]string, size)}
}

// Write implements io.Writer. Each call is stored as one line.
func (w *LogCaptureWriter) Write(p []byte) (n int, err error) {
	line := strings.TrimRight(string(p), "\n")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines[w.next] = line
	w.next = (w.next + 1) % len(w.lines)
	if w.next == 0 {
		w.full = true
	}
	return len(p), nil
}

// GetLastLine returns the most recent log line.
func (w *LogCaptureWriter) GetLastLine() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.full && w.next == 0 {
		return ""
	}
	return w.lines[(w.next-1+len(w.lines))%len(w.lines)]
}

// Lines returns up to n of the most recent lines, oldest first.
func (w *LogCaptureWriter) Lines(n int) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	count := w.next
	if w.full {
		count = len(w.lines)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]string, 0, n)
	start := (w.next - n + len(w.lines)) % len(w.lines)
	for i := 0; i < n; i++ {
		out = append(out, w.lines[(start+i)%len(w.lines)])
	}
	return out
}
