// Package pool recycles the byte buffers that carry signaling frames
// between libp2p streams and the swarm actor.
package pool

import (
	"sync"
)

// Size classes. ICE candidates fit the small class, typical SDP bodies the
// medium one, and the large class matches the default maximum frame size.
const (
	SmallBufferSize  = 512
	MediumBufferSize = 4096
	LargeBufferSize  = 64 * 1024
)

var classSizes = [...]int{SmallBufferSize, MediumBufferSize, LargeBufferSize}

// BufferPool hands out byte slices from per-size-class pools.
// It is safe for concurrent use.
type BufferPool struct {
	classes [len(classSizes)]sync.Pool
}

// NewBufferPool creates a new buffer pool.
func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	for i, size := range classSizes {
		size := size
		p.classes[i].New = func() any {
			buf := make([]byte, 0, size)
			return &buf
		}
	}
	return p
}

// classFor returns the smallest class holding size bytes, or -1.
func classFor(size int) int {
	for i, c := range classSizes {
		if size <= c {
			return i
		}
	}
	return -1
}

// Get returns an empty buffer with capacity for at least size bytes.
// Call Put when done.
func (p *BufferPool) Get(size int) *[]byte {
	i := classFor(size)
	if i < 0 {
		buf := make([]byte, 0, size)
		return &buf
	}
	buf := p.classes[i].Get().(*[]byte)
	*buf = (*buf)[:0]
	return buf
}

// Put returns a buffer to the pool. Buffers larger than the largest class
// are left to the garbage collector.
// The buffer must not be used after calling Put.
func (p *BufferPool) Put(buf *[]byte) {
	if buf == nil {
		return
	}
	c := cap(*buf)
	*buf = (*buf)[:0]
	// A buffer goes back to the largest class it can fully serve.
	for i := len(classSizes) - 1; i >= 0; i-- {
		if c >= classSizes[i] {
			if c <= LargeBufferSize {
				p.classes[i].Put(buf)
			}
			return
		}
	}
}

// Copy returns a pooled buffer holding a copy of b.
func (p *BufferPool) Copy(b []byte) *[]byte {
	buf := p.Get(len(b))
	*buf = append(*buf, b...)
	return buf
}

var global = NewBufferPool()

// GetBuffer returns a buffer from the global pool.
func GetBuffer(size int) *[]byte {
	return global.Get(size)
}

// PutBuffer returns a buffer to the global pool.
func PutBuffer(buf *[]byte) {
	global.Put(buf)
}

// CopyBuffer returns a buffer from the global pool holding a copy of b.
func CopyBuffer(b []byte) *[]byte {
	return global.Copy(b)
}
