package audio

import (
	"sync"
)

// Window is a fixed-size circular buffer holding the most recent captured
// bytes. Writes never block: once full, the oldest bytes are overwritten.
// It starts filled with silence so a snapshot is never empty.
type Window struct {
	mu       sync.RWMutex
	buffer   []byte
	size     int
	writePos int
}

// NewWindow creates a window of size bytes, pre-filled with silence
func NewWindow(size int) *Window {
	buffer := make([]byte, size)
	for i := range buffer {
		buffer[i] = silenceU8
	}
	return &Window{
		buffer: buffer,
		size:   size,
	}
}

// Write appends data, overwriting the oldest bytes when the window is full.
// It is called from the capture callback.
func (w *Window) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Only the tail of an oversized write can survive
	if len(data) > w.size {
		data = data[len(data)-w.size:]
	}

	n := copy(w.buffer[w.writePos:], data)
	if n < len(data) {
		copy(w.buffer, data[n:])
	}
	w.writePos = (w.writePos + len(data)) % w.size

	return len(data), nil
}

// Snapshot copies the latest len(dst) bytes into dst in capture order.
// dst longer than the window is clamped to the window size.
func (w *Window) Snapshot(dst []byte) int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := len(dst)
	if n > w.size {
		n = w.size
	}

	start := (w.writePos - n + w.size) % w.size
	first := copy(dst[:n], w.buffer[start:])
	if first < n {
		copy(dst[first:n], w.buffer[:n-first])
	}

	return n
}
