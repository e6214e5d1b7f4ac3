package logger

import (
	"strings"
	"sync"
)

// Ring is a thread-safe circular buffer of log lines. It backs both the
// file line cap and the in-memory tail served by /debug.
type Ring struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	head     int
	size     int
}

// NewRing creates a ring holding at most capacity lines.
func NewRing(capacity int) *Ring {
	return &Ring{
		lines:    make([]string, capacity),
		capacity: capacity,
	}
}

// Add appends a line, evicting the oldest when full.
func (r *Ring) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.addLocked(line)
}

func (r *Ring) addLocked(line string) {
	r.lines[r.head] = line

	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Lines returns all buffered lines in chronological order.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.linesLocked()
}

func (r *Ring) linesLocked() []string {
	if r.size == 0 {
		return nil
	}

	result := make([]string, r.size)
	start := (r.head - r.size + r.capacity) % r.capacity

	for i := 0; i < r.size; i++ {
		result[i] = r.lines[(start+i)%r.capacity]
	}

	return result
}

// Last returns up to n of the most recent lines in chronological order.
func (r *Ring) Last(n int) []string {
	lines := r.Lines()
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return lines
}

// Write implements io.Writer so the ring can sit behind a zap core.
// Each non-empty line of p becomes one buffered entry.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			r.addLocked(line)
		}
	}

	return len(p), nil
}
