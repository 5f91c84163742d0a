package supervisor

import (
	"bytes"
	"sync"
)

// RingBuffer keeps the most recent output chunks of a process
type RingBuffer struct {
	mu      sync.Mutex
	chunks  [][]byte
	start   int
	count   int
	dropped int64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{chunks: make([][]byte, capacity)}
}

// Append stores a copy of p, evicting the oldest chunk when full
func (r *RingBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	chunk := append([]byte(nil), p...)

	r.mu.Lock()
	defer r.mu.Unlock()
	capacity := len(r.chunks)
	if r.count < capacity {
		r.chunks[(r.start+r.count)%capacity] = chunk
		r.count++
		return
	}
	r.chunks[r.start] = chunk
	r.start = (r.start + 1) % capacity
	r.dropped++
}

// Chunks returns the retained chunks in arrival order
func (r *RingBuffer) Chunks() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.chunks[(r.start+i)%len(r.chunks)]
	}
	return out
}

// String concatenates the retained chunks
func (r *RingBuffer) String() string {
	return string(bytes.Join(r.Chunks(), nil))
}

// Len returns the number of retained chunks
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Dropped returns how many chunks were evicted
func (r *RingBuffer) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
