package logging

import (
	"sync"
	"time"
)

// LogEntry represents a single log line stored in the ring buffer.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent log entries in a fixed-size circular
// store. Safe for concurrent use.
type RingBuffer struct {
	mu    sync.RWMutex
	slots []LogEntry
	next  int
	count int
}

// NewRingBuffer creates a ring buffer holding up to capacity entries.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{slots: make([]LogEntry, capacity)}
}

// Write appends an entry, evicting the oldest one once the buffer is full.
func (b *RingBuffer) Write(entry LogEntry) {
	b.mu.Lock()
	b.slots[b.next] = entry
	b.next = (b.next + 1) % len(b.slots)
	if b.count < len(b.slots) {
		b.count++
	}
	b.mu.Unlock()
}

// ReadAll returns the buffered entries, oldest first.
func (b *RingBuffer) ReadAll() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return nil
	}

	size := len(b.slots)
	start := b.next - b.count
	out := make([]LogEntry, 0, b.count)
	for i := 0; i < b.count; i++ {
		out = append(out, b.slots[(start+i+size)%size])
	}
	return out
}

// Count returns the number of entries currently buffered.
func (b *RingBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
