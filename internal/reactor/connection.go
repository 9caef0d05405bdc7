package reactor

import (
	"io"

	"golang.org/x/sys/unix"

	"gofastd/internal/protocol"
)

// connState is the lifecycle of one accepted socket, mirroring the
// Reading / ReadingAndWriting / Closing states of the original
// st_nonblocking::Connection.
type connState int

const (
	stateReading connState = iota
	stateReadingAndWriting
	stateClosing
	stateClosed
)

// readChunk is the staging buffer size for a single non-blocking read,
// matching the original's fixed command_buf[4096].
const readChunk = 4096

// connection holds all per-socket state the reactor goroutine touches.
// Nothing here is ever accessed from another goroutine: replies computed
// on a worker pool arrive back through the completion channel, not by
// reaching into this struct directly.
type connection struct {
	fd    int
	state connState

	inBuf []byte // bytes read off the socket, not yet consumed by a command

	pending        *protocol.Command // header parsed, waiting on its body
	pendingBodyLen int

	out    [][]byte // queued reply buffers awaiting a vectored write
	outOff int       // bytes of out[0] already written

	// nextSeq/nextCommit/pendingReplies enforce the per-connection FIFO
	// reply ordering the wire protocol requires: commands are read in
	// order, but when offloaded to the worker pool they may finish in any
	// order. Every dispatched command reserves a sequence number up
	// front; its reply, wherever it is computed, only ever reaches c.out
	// once every lower-numbered reply has already been committed.
	nextSeq        int
	nextCommit     int
	pendingReplies map[int]string

	parser *protocol.Parser
	bufs   *bufPool
}

func newConnection(fd int, bufs *bufPool) *connection {
	return &connection{
		fd:     fd,
		state:  stateReading,
		parser: protocol.NewParser(),
		bufs:   bufs,
	}
}

// fill drains every byte currently available on the socket into inBuf. It
// returns io.EOF once the peer has closed its write side, and any other
// error is a hard socket failure; EAGAIN simply means there is nothing
// left to read right now, which is the common, non-error return.
func (c *connection) fill() error {
	buf := c.bufs.Get(readChunk)
	defer c.bufs.Put(buf)
	for {
		n, err := unix.Read(c.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			return err
		}
		if n == 0 {
			return io.EOF
		}
		c.inBuf = append(c.inBuf, buf[:n]...)
	}
}

// next extracts the next fully-buffered command from inBuf, if any. ok is
// false when the buffer doesn't yet hold a complete command (header or
// body), in which case the caller should wait for more readable data;
// the partial state — a parsed header awaiting its body — is retained in
// c.pending across calls, exactly the "arg_remains" bookkeeping the
// original Connection::DoRead keeps across read() calls.
func (c *connection) next() (cmd *protocol.Command, body []byte, ok bool) {
	if c.pending == nil {
		consumed, parsed, bodyLen, parseOK := c.parser.Parse(c.inBuf)
		if !parseOK {
			return nil, nil, false
		}
		c.inBuf = c.inBuf[consumed:]
		if bodyLen == 0 {
			return parsed, nil, true
		}
		c.pending = parsed
		c.pendingBodyLen = bodyLen
	}

	if len(c.inBuf) < c.pendingBodyLen {
		return nil, nil, false
	}

	body = c.inBuf[:c.pendingBodyLen-2] // trailing CRLF is not part of the value
	c.inBuf = c.inBuf[c.pendingBodyLen:]
	cmd, c.pending = c.pending, nil
	return cmd, body, true
}

// queueReply appends a computed reply straight to the outbound queue,
// bypassing sequencing. Only commitReply should call this.
func (c *connection) queueReply(reply string) {
	if reply == "" {
		return
	}
	c.out = append(c.out, []byte(reply))
}

// reserveSeq hands out the next sequence number for a command this
// connection is about to dispatch, whether inline or to the worker pool.
// Sequence numbers are reserved in read order, which is what lets
// commitReply restore that order at commit time regardless of execution
// order.
func (c *connection) reserveSeq() int {
	seq := c.nextSeq
	c.nextSeq++
	return seq
}

// commitReply records seq's reply, then appends every now-contiguous
// reply starting at nextCommit to the outbound queue. A reply that
// arrives ahead of its turn (an offloaded command finishing before one
// dispatched earlier on the same connection) is buffered in
// pendingReplies until the gap in front of it closes.
func (c *connection) commitReply(seq int, reply string) {
	if seq != c.nextCommit {
		if c.pendingReplies == nil {
			c.pendingReplies = make(map[int]string)
		}
		c.pendingReplies[seq] = reply
		return
	}
	c.queueReply(reply)
	c.nextCommit++
	for {
		next, ok := c.pendingReplies[c.nextCommit]
		if !ok {
			return
		}
		delete(c.pendingReplies, c.nextCommit)
		c.queueReply(next)
		c.nextCommit++
	}
}

// pendingCommands reports how many dispatched commands have not yet had
// their reply committed — commands still running inline or in flight on
// the worker pool, plus any whose reply already arrived but is still
// waiting behind an earlier one in pendingReplies.
func (c *connection) pendingCommands() int {
	return c.nextSeq - c.nextCommit
}

// hasPendingWrite reports whether any bytes are still queued to go out.
func (c *connection) hasPendingWrite() bool {
	return len(c.out) > 0
}

// doWrite attempts a vectored write of everything queued in c.out,
// advancing past whatever the kernel accepted. done is true once the
// queue has fully drained.
func (c *connection) doWrite() (done bool, err error) {
	for len(c.out) > 0 {
		iovs := buildIovecs(c.out, c.outOff)
		if len(iovs) == 0 {
			break
		}
		n, werr := unix.Writev(c.fd, iovs)
		if werr != nil {
			if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
				return false, nil
			}
			return false, werr
		}
		c.advance(n)
	}
	return len(c.out) == 0, nil
}

// advance drops n written bytes from the front of the out queue,
// discarding fully-flushed buffers and tracking a partial offset into
// the first remaining one.
func (c *connection) advance(n int) {
	for n > 0 && len(c.out) > 0 {
		remaining := len(c.out[0]) - c.outOff
		if n < remaining {
			c.outOff += n
			return
		}
		n -= remaining
		c.out = c.out[1:]
		c.outOff = 0
	}
}

// buildIovecs assembles the iovec list for a vectored write starting at
// offset bytes into bufs[0].
func buildIovecs(bufs [][]byte, offset int) []unix.Iovec {
	iovs := make([]unix.Iovec, 0, len(bufs))
	for i, b := range bufs {
		if i == 0 {
			b = b[offset:]
		}
		if len(b) == 0 {
			continue
		}
		var iov unix.Iovec
		iov.Base = &b[0]
		iov.SetLen(len(b))
		iovs = append(iovs, iov)
	}
	return iovs
}
