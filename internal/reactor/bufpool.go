package reactor

import "sync"

// bufPool recycles the fixed-size staging buffers each connection reads
// into, so a busy reactor doing thousands of reads per second isn't
// allocating a fresh 4KiB slice on every single one of them.
type bufPool struct {
	pool sync.Pool
}

func newBufPool() *bufPool {
	return &bufPool{
		pool: sync.Pool{
			New: func() any {
				return make([]byte, readChunk)
			},
		},
	}
}

// Get returns a buffer of at least size bytes, reusing a pooled one when
// it's large enough and allocating fresh otherwise.
func (p *bufPool) Get(size int) []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size)
	}
	return buf[:size]
}

// Put returns buf to the pool for reuse. Oversized buffers (grown past
// readChunk by a caller that needed more) are dropped instead of pooled,
// so one unusually large read doesn't permanently inflate pool memory.
func (p *bufPool) Put(buf []byte) {
	if cap(buf) <= readChunk {
		p.pool.Put(buf[:0])
	}
}
