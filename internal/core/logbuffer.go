package core

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// LogEntry is a single log line captured by the engine.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
	Raw       string    `json:"raw"`
}

// LogRingBuffer keeps the most recent engine log lines in memory so the
// logs endpoint can serve them without touching disk.
type LogRingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    int
	count   int
}

func NewLogRingBuffer(size int) *LogRingBuffer {
	return &LogRingBuffer{entries: make([]LogEntry, size)}
}

// Write implements io.Writer so the buffer can sit behind zerolog.
// JSON-formatted lines get their level, component, and message lifted into
// the structured entry fields; anything else is stored as-is.
func (b *LogRingBuffer) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Raw:       line,
		Message:   line,
	}

	var fields map[string]interface{}
	if json.Unmarshal(p, &fields) == nil {
		if v, ok := fields["level"].(string); ok {
			entry.Level = v
		}
		if v, ok := fields["component"].(string); ok {
			entry.Component = v
		}
		if v, ok := fields["message"].(string); ok {
			entry.Message = v
		}
	}

	b.mu.Lock()
	b.entries[b.next] = entry
	b.next = (b.next + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
	b.mu.Unlock()

	return len(p), nil
}

// GetEntries returns up to n of the most recent entries, oldest first.
func (b *LogRingBuffer) GetEntries(n int) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return []LogEntry{}
	}

	size := len(b.entries)
	out := make([]LogEntry, n)
	first := (b.next - n + size) % size
	for i := range out {
		out[i] = b.entries[(first+i)%size]
	}
	return out
}

// MultiWriter tees log output to both w and the buffer.
func (b *LogRingBuffer) MultiWriter(w io.Writer) io.Writer {
	return io.MultiWriter(w, b)
}
