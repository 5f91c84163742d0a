package installer

import (
	"fmt"
	"sync"
	"time"
)

// LogBuffer keeps the most recent install log lines, dropping the oldest
// once the limit is reached.
type LogBuffer struct {
	mu      sync.Mutex
	limit   int
	lines   []string
	start   int
	dropped int
}

func NewLogBuffer(limit int) *LogBuffer {
	if limit <= 0 {
		limit = 1000
	}
	return &LogBuffer{limit: limit}
}

func (b *LogBuffer) Addf(format string, args ...any) {
	line := fmt.Sprintf("%s %s", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) < b.limit {
		b.lines = append(b.lines, line)
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % b.limit
	b.dropped++
}

// Lines returns a copy in insertion order
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.start:]...)
	return append(out, b.lines[:b.start]...)
}

func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

func (b *LogBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
