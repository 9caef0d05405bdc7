// Package reactor implements the single-threaded, epoll-driven connection
// engine: one goroutine owns every socket's read/write state machine, and
// the only traffic crossing into or out of that goroutine from elsewhere
// is a completion posted by the worker pool, delivered through an
// eventfd wakeup. This mirrors the original Afina project's
// st_nonblocking::ServerImpl/Connection pair, translated from raw
// epoll_event C structs into golang.org/x/sys/unix calls.
package reactor

import (
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"gofastd/internal/pool"
	"gofastd/internal/protocol"
)

// pollTimeoutMillis bounds how long a single EpollWait blocks, so Run can
// notice Stop having been called even with no socket activity.
const pollTimeoutMillis = 500

// Hooks lets callers (chiefly internal/metrics) observe reactor activity
// without the reactor importing a metrics package itself. Every field is
// optional.
type Hooks struct {
	ConnOpened      func()
	ConnClosed      func()
	CommandExecuted func(kind protocol.Kind)
	QueueRejected   func()
	// ReadBatch reports how many complete commands a single socket read
	// yielded, so callers can observe command pipelining depth. It is
	// only called when that count is at least one.
	ReadBatch func(depth int)
}

type completion struct {
	fd    int
	seq   int
	reply string
}

// Reactor owns one listening socket and every connection accepted from
// it. Store is the shared LRU the protocol layer executes commands
// against; Workers, if non-nil, offloads command execution so a slow
// command never stalls the reactor goroutine itself — per the design
// note in this project's own network module, offloaded work never
// touches a Connection directly, it only ever produces a reply string
// and hands it back over the completions channel.
type Reactor struct {
	epfd     int
	listenFd int
	wakeFd   int

	conns map[int]*connection
	bufs  *bufPool

	store   protocol.Store
	workers *pool.Pool
	hooks   Hooks
	log     zerolog.Logger

	completions chan completion
	stopCh      chan struct{}
}

// New constructs a Reactor. workers may be nil, in which case every
// command executes inline on the reactor goroutine.
func New(store protocol.Store, workers *pool.Pool, hooks Hooks, log zerolog.Logger) *Reactor {
	return &Reactor{
		conns:       make(map[int]*connection),
		bufs:        newBufPool(),
		store:       store,
		workers:     workers,
		hooks:       hooks,
		log:         log,
		completions: make(chan completion, 1024),
		stopCh:      make(chan struct{}),
	}
}

// Listen binds and starts listening on host:port and prepares the epoll
// set. It must be called before Run.
func (r *Reactor) Listen(host string, port int) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("reactor: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: setsockopt: %w", err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: invalid listen host %q", host)
	}
	var addr unix.SockaddrInet4
	copy(addr.Addr[:], ip.To4())
	addr.Port = port
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: bind: %w", err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: listen: %w", err)
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: epoll_create1: %w", err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(fd)
		unix.Close(epfd)
		return fmt.Errorf("reactor: eventfd: %w", err)
	}

	r.listenFd = fd
	r.epfd = epfd
	r.wakeFd = wakeFd

	if err := r.epollAdd(fd, unix.EPOLLIN); err != nil {
		return err
	}
	if err := r.epollAdd(wakeFd, unix.EPOLLIN); err != nil {
		return err
	}
	return nil
}

// Addr reports the port actually bound, for logging and tests.
func (r *Reactor) Addr() (int, error) {
	sa, err := unix.Getsockname(r.listenFd)
	if err != nil {
		return 0, err
	}
	v4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("reactor: unexpected sockaddr type %T", sa)
	}
	return v4.Port, nil
}

// Run drives the epoll loop until Stop is called or an unrecoverable
// error occurs. It is meant to be the only goroutine ever touching
// connection state; callers typically run it in its own goroutine.
func (r *Reactor) Run() error {
	events := make([]unix.EpollEvent, 256)
	for {
		select {
		case <-r.stopCh:
			return r.shutdown()
		default:
		}

		n, err := unix.EpollWait(r.epfd, events, pollTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)
			switch fd {
			case r.listenFd:
				r.acceptAll()
			case r.wakeFd:
				r.drainCompletions()
			default:
				r.handleEvent(fd, ev.Events)
			}
		}
	}
}

// Stop requests the run loop to exit and returns without waiting; Run
// notices the request within pollTimeoutMillis.
func (r *Reactor) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
}

func (r *Reactor) shutdown() error {
	for fd, c := range r.conns {
		r.closeConn(fd, c)
	}
	unix.Close(r.listenFd)
	unix.Close(r.wakeFd)
	unix.Close(r.epfd)
	return nil
}

func (r *Reactor) epollAdd(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add fd=%d: %w", fd, err)
	}
	return nil
}

func (r *Reactor) epollMod(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// acceptAll drains every connection currently pending on the listening
// socket; the listening socket is non-blocking, so accept4 reports EAGAIN
// once the backlog is empty. Each accepted socket is made non-blocking by
// accept4's SOCK_NONBLOCK flag.
func (r *Reactor) acceptAll() {
	for {
		fd, _, err := unix.Accept4(r.listenFd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				r.log.Warn().Err(err).Msg("accept4 failed")
			}
			return
		}
		c := newConnection(fd, r.bufs)
		r.conns[fd] = c
		if err := r.epollAdd(fd, unix.EPOLLIN); err != nil {
			r.log.Warn().Err(err).Msg("failed to register accepted connection")
			unix.Close(fd)
			delete(r.conns, fd)
			continue
		}
		if r.hooks.ConnOpened != nil {
			r.hooks.ConnOpened()
		}
	}
}

func (r *Reactor) handleEvent(fd int, events uint32) {
	c, ok := r.conns[fd]
	if !ok {
		return
	}

	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		r.closeConn(fd, c)
		return
	}

	if events&unix.EPOLLIN != 0 {
		err := c.fill()
		if err != nil && err != io.EOF {
			r.closeConn(fd, c)
			return
		}
		depth := 0
		for {
			cmd, body, ok := c.next()
			if !ok {
				break
			}
			r.dispatch(c, cmd, body)
			depth++
		}
		if depth > 0 && r.hooks.ReadBatch != nil {
			r.hooks.ReadBatch(depth)
		}
		if err == io.EOF {
			// The peer closed its write side. Anything already queued for
			// it still needs to go out before the socket actually closes,
			// mirroring the original Connection's Closing state.
			if c.hasPendingWrite() || c.pendingCommands() > 0 {
				c.state = stateClosing
			} else {
				r.closeConn(fd, c)
				return
			}
		}
	}

	if c.hasPendingWrite() || events&unix.EPOLLOUT != 0 {
		r.flush(fd, c)
	}
}

// dispatch routes one parsed command either straight to Execute (no
// worker pool configured, or the pool is saturated and we fall back to
// keep the connection from stalling) or onto the worker pool, which
// posts its reply back through the completions channel plus an eventfd
// wakeup rather than touching c directly. Every command, inline or
// offloaded, reserves a sequence number up front and commits its reply
// through that sequence, so replies reach the wire in the order their
// commands were read even when the pool runs them concurrently and out
// of order.
func (r *Reactor) dispatch(c *connection, cmd *protocol.Command, body []byte) {
	if r.hooks.CommandExecuted != nil {
		r.hooks.CommandExecuted(cmd.Kind)
	}

	seq := c.reserveSeq()

	if r.workers == nil {
		c.commitReply(seq, protocol.Execute(cmd, body, r.store))
		return
	}

	bodyCopy := append([]byte(nil), body...)
	fd := c.fd
	accepted := r.workers.Execute(func() {
		reply := protocol.Execute(cmd, bodyCopy, r.store)
		r.completions <- completion{fd: fd, seq: seq, reply: reply}
		r.wake()
	})
	if !accepted {
		if r.hooks.QueueRejected != nil {
			r.hooks.QueueRejected()
		}
		c.commitReply(seq, protocol.Execute(cmd, body, r.store))
	}
}

// wake nudges the reactor goroutine out of EpollWait by writing to the
// eventfd registered in its poll set.
func (r *Reactor) wake() {
	var val [8]byte
	val[0] = 1
	unix.Write(r.wakeFd, val[:])
}

// drainCompletions consumes every completion queued since the last
// wakeup and appends each reply to its connection's outbound queue. It
// runs entirely on the reactor goroutine, so appending to c.out here is
// race-free even though the reply was computed on a worker.
func (r *Reactor) drainCompletions() {
	var buf [8]byte
	unix.Read(r.wakeFd, buf[:])

	for {
		select {
		case comp := <-r.completions:
			if c, ok := r.conns[comp.fd]; ok {
				c.commitReply(comp.seq, comp.reply)
				r.flush(comp.fd, c)
			}
		default:
			return
		}
	}
}

func (r *Reactor) flush(fd int, c *connection) {
	done, err := c.doWrite()
	if err != nil {
		r.closeConn(fd, c)
		return
	}
	if done {
		if c.state == stateClosing {
			// Don't close while another dispatched command still owes this
			// connection a reply; wait for its completion to land.
			if c.pendingCommands() == 0 {
				r.closeConn(fd, c)
			} else {
				r.epollMod(fd, unix.EPOLLIN)
			}
			return
		}
		if c.state == stateReadingAndWriting {
			c.state = stateReading
			r.epollMod(fd, unix.EPOLLIN)
		}
		return
	}
	// Still have bytes to write. Keep EPOLLOUT armed regardless of
	// whether this connection is merely writing or draining on its way
	// to Closing — either way it still needs the wakeup.
	if c.state == stateReading {
		c.state = stateReadingAndWriting
	}
	r.epollMod(fd, unix.EPOLLIN|unix.EPOLLOUT)
}

func (r *Reactor) closeConn(fd int, c *connection) {
	unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	unix.Close(fd)
	delete(r.conns, fd)
	c.state = stateClosed
	if r.hooks.ConnClosed != nil {
		r.hooks.ConnClosed()
	}
}
