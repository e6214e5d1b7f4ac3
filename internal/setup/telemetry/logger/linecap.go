// Package logger provides the log sinks behind the telemetry manager: a
// line-capped file writer and an in-memory ring of recent lines.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LineCapWriter wraps a log file and keeps it from growing without
// bound: once twice the cap has been written, the file is rewritten in
// place with only the most recent maxLines lines.
type LineCapWriter struct {
	mu     sync.Mutex
	writer io.Writer
	recent *Ring
	path   string
	seen   int
	cap    int
}

// NewLineCapWriter creates a LineCapWriter over an already-open file.
func NewLineCapWriter(writer io.Writer, maxLines int, path string) *LineCapWriter {
	return &LineCapWriter{
		writer: writer,
		recent: NewRing(maxLines),
		path:   path,
		cap:    maxLines,
	}
}

// Write implements io.Writer.
func (w *LineCapWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.writer.Write(p)
	if err != nil {
		return n, err
	}

	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}

		w.recent.Add(line)
		w.seen++

		if w.seen >= w.cap*2 {
			if err := w.rewrite(); err != nil {
				return n, fmt.Errorf("failed to cap log file: %w", err)
			}

			w.seen = len(w.recent.Lines())
		}
	}

	return n, nil
}

// rewrite replaces the file with the retained lines via a temp file and
// rename, then reopens it for appending.
func (w *LineCapWriter) rewrite() error {
	lines := w.recent.Lines()
	if len(lines) == 0 {
		return nil
	}

	temp, err := os.CreateTemp(filepath.Dir(w.path), "temp-log-")
	if err != nil {
		return err
	}

	tempPath := temp.Name()

	if _, err := temp.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		temp.Close()
		os.Remove(tempPath)

		return err
	}

	if err := temp.Sync(); err != nil {
		temp.Close()
		os.Remove(tempPath)

		return err
	}

	temp.Close()

	if closer, ok := w.writer.(io.Closer); ok {
		closer.Close()
	}

	if err := os.Rename(tempPath, w.path); err != nil {
		return err
	}

	newFile, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	w.writer = newFile

	return nil
}
