package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufPoolReusesCapacity(t *testing.T) {
	p := newBufPool()
	buf := p.Get(readChunk)
	assert.Len(t, buf, readChunk)
	p.Put(buf)

	again := p.Get(readChunk)
	assert.Equal(t, readChunk, cap(again))
}

func TestBufPoolGrowsForOversizeRequests(t *testing.T) {
	p := newBufPool()
	buf := p.Get(readChunk * 2)
	assert.Len(t, buf, readChunk*2)
}

func TestBufPoolDropsOversizedBuffersInsteadOfPooling(t *testing.T) {
	p := newBufPool()
	oversized := make([]byte, readChunk*4)
	p.Put(oversized) // must not panic, and must not be handed back out
	got := p.Get(readChunk)
	assert.LessOrEqual(t, cap(got), readChunk)
}
