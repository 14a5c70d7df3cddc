package background

import "sync"

// TruncationMarker prefixes output once the oldest bytes have been dropped.
const TruncationMarker = "[... earlier output truncated ...]\n"

// ringBuffer keeps the most recent size bytes written to it.
type ringBuffer struct {
	mu        sync.Mutex
	size      int
	data      []byte
	truncated bool
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{size: size, data: make([]byte, 0, min(size, 64<<10))}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(p) >= r.size {
		r.data = append(r.data[:0], p[len(p)-r.size:]...)
		r.truncated = true
		return len(p), nil
	}
	if overflow := len(r.data) + len(p) - r.size; overflow > 0 {
		n := copy(r.data, r.data[overflow:])
		r.data = r.data[:n]
		r.truncated = true
	}
	r.data = append(r.data, p...)
	return len(p), nil
}

// String returns the retained output, marked when bytes were dropped.
func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.truncated {
		return TruncationMarker + string(r.data)
	}
	return string(r.data)
}

func (r *ringBuffer) Truncated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.truncated
}
