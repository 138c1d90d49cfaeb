// Package ring provides a fixed-size byte buffer that keeps the most recent
// writes. Decoder stderr is captured through it so a failed tune can report
// what the decoder said without unbounded memory growth.
package ring

import "sync"

// Buffer is a circular byte buffer. When full, the oldest quarter is dropped.
// It implements io.Writer and is safe for concurrent use.
type Buffer struct {
	mu   sync.Mutex
	buf  []byte
	head int // read position of the oldest byte
	n    int // bytes stored
}

// New returns a buffer holding at most size bytes.
func New(size int) *Buffer {
	if size < 4 {
		size = 4
	}
	return &Buffer{buf: make([]byte, size)}
}

// Write appends p, discarding old data as needed. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := len(p)
	for len(p) > 0 {
		space := len(b.buf) - b.n
		if space == 0 {
			drop := len(b.buf) / 4
			b.head = (b.head + drop) % len(b.buf)
			b.n -= drop
			space = drop
		}

		chunk := min(len(p), space)
		tail := (b.head + b.n) % len(b.buf)
		right := min(len(b.buf)-tail, chunk)
		copy(b.buf[tail:tail+right], p[:right])
		copy(b.buf[0:chunk-right], p[right:chunk])

		b.n += chunk
		p = p[chunk:]
	}
	return written, nil
}

// Bytes returns a copy of the buffered data, oldest first.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.n)
	if b.n == 0 {
		return out
	}
	first := min(len(b.buf)-b.head, b.n)
	copy(out, b.buf[b.head:b.head+first])
	copy(out[first:], b.buf[:b.n-first])
	return out
}

// String returns the buffered data as text.
func (b *Buffer) String() string { return string(b.Bytes()) }

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Reset discards all data.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.head, b.n = 0, 0
	b.mu.Unlock()
}
