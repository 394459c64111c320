// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package native

import (
	"strings"
	"sync"
)

// LineRing keeps the last N lines written to it. The supervisor feeds the
// native stderr into one so failures can be logged with context.
type LineRing struct {
	mu      sync.RWMutex
	lines   []string
	head    int
	size    int
	partial string
}

// NewLineRing creates a LineRing with the specified capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 64
	}
	return &LineRing{
		lines: make([]string, capacity),
		size:  capacity,
	}
}

// Write implements io.Writer. A trailing fragment without newline is held
// back until the rest of the line arrives.
func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	parts := strings.Split(r.partial+string(p), "\n")
	r.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % r.size
	}
	return len(p), nil
}

// LastN returns up to n of the most recent lines, oldest first.
func (r *LineRing) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := make([]string, 0, r.size+1)
	for i := 0; i < r.size; i++ {
		if line := r.lines[(r.head+i)%r.size]; line != "" {
			ordered = append(ordered, line)
		}
	}
	if r.partial != "" {
		ordered = append(ordered, r.partial)
	}
	if n < 0 || len(ordered) <= n {
		return ordered
	}
	return ordered[len(ordered)-n:]
}
