package logging

import (
	"strings"
	"sync"
)

// LineCapture is a thread-safe writer that keeps the last written line.
type LineCapture struct {
	mu       sync.RWMutex
	lastLine string
}

// LastLine holds the most recent INFO+ server log line, shown by the status endpoint.
var LastLine = &LineCapture{}

// Write implements io.Writer.
func (w *LineCapture) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastLine = strings.TrimRight(string(p), "\n")
	return len(p), nil
}

// Get returns the most recent line.
func (w *LineCapture) Get() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastLine
}
