// Package timeseries provides the bounded, time-windowed sample buffers
// that back chart visualizations.
package timeseries

import (
	"sync"
	"time"
)

// Sample is one (timestamp, value) pair.
type Sample struct {
	Timestamp int64   `json:"t"` // Unix ms
	Value     float64 `json:"v"`
}

// Window holds the process-wide retention in seconds, shared by every
// buffer. Changing it re-derives retention lazily: each buffer prunes
// against the new value on its next append or snapshot.
type Window struct {
	mu      sync.RWMutex
	seconds int
}

// NewWindow creates a shared window with the given retention.
func NewWindow(seconds int) *Window {
	if seconds <= 0 {
		seconds = 60
	}
	return &Window{seconds: seconds}
}

// Seconds returns the current retention.
func (w *Window) Seconds() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.seconds
}

// SetSeconds updates the retention for all buffers sharing this window.
func (w *Window) SetSeconds(seconds int) {
	if seconds <= 0 {
		return
	}
	w.mu.Lock()
	w.seconds = seconds
	w.mu.Unlock()
}

// Buffer is an ordered sequence of samples for one metric inside one
// session, retained only within the shared window.
type Buffer struct {
	mu      sync.RWMutex
	window  *Window
	samples []Sample
	now     func() time.Time
}

// NewBuffer creates a buffer bound to the shared window.
func NewBuffer(window *Window) *Buffer {
	return &Buffer{window: window, now: time.Now}
}

// Append adds a sample and prunes everything older than the window.
// Timestamps are expected non-decreasing; an out-of-order sample is still
// appended (pruning keeps the buffer bounded either way).
func (b *Buffer) Append(timestamp int64, value float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, Sample{Timestamp: timestamp, Value: value})
	b.pruneLocked()
}

// Snapshot returns the retained samples in order. The returned slice is a
// copy, safe to hand to the chart layer while appends continue.
func (b *Buffer) Snapshot() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked()

	out := make([]Sample, len(b.samples))
	copy(out, b.samples)
	return out
}

// Len returns the number of retained samples after pruning.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pruneLocked()
	return len(b.samples)
}

// pruneLocked drops every sample older than the window, not just a sorted
// prefix, so late out-of-order samples cannot pin the buffer.
func (b *Buffer) pruneLocked() {
	cutoff := b.now().UnixMilli() - int64(b.window.Seconds())*1000

	kept := b.samples[:0]
	for _, s := range b.samples {
		if s.Timestamp >= cutoff {
			kept = append(kept, s)
		}
	}
	b.samples = kept
}
