package reactor

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gofastd/internal/cache"
	"gofastd/internal/pool"
)

// startTestReactor boots a reactor on an ephemeral loopback port and
// returns its address plus a cleanup func. The reactor runs inline
// (no worker pool).
func startTestReactor(t *testing.T, store *cache.LRU) (addr string, stop func()) {
	t.Helper()
	return startReactorWithWorkers(t, store, nil)
}

// startReactorWithWorkers is startTestReactor generalized to accept a
// worker pool, so tests can exercise the offload path instead of inline
// execution.
func startReactorWithWorkers(t *testing.T, store *cache.LRU, workers *pool.Pool) (addr string, stop func()) {
	t.Helper()
	r := New(store, workers, Hooks{}, zerolog.Nop())
	require.NoError(t, r.Listen("127.0.0.1", 0))
	port, err := r.Addr()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run()
	}()

	return fmt.Sprintf("127.0.0.1:%d", port), func() {
		r.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("reactor did not shut down")
		}
		if workers != nil {
			workers.Stop(true)
		}
	}
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestReactorSetThenGet(t *testing.T) {
	addr, stop := startTestReactor(t, cache.New(1024))
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte("set foo 0 0 3\r\nbar\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", line)

	_, err = conn.Write([]byte("get foo\r\n"))
	require.NoError(t, err)

	value, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "VALUE foo 0 3\r\n", value)
	body, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "bar\r\n", body)
	end, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "END\r\n", end)
}

func TestReactorHandlesSplitWrites(t *testing.T) {
	addr, stop := startTestReactor(t, cache.New(1024))
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()

	parts := []string{"set k 0", " 0 3\r\n", "abc", "\r\n"}
	for _, p := range parts {
		_, err := conn.Write([]byte(p))
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", line)
}

func TestReactorHandlesPipelinedCommands(t *testing.T) {
	addr, stop := startTestReactor(t, cache.New(1024))
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()

	_, err := conn.Write([]byte("set a 0 0 1\r\nx\r\nset b 0 0 1\r\ny\r\nget a b\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	for i := 0; i < 2; i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "STORED\r\n", line)
	}

	expected := []string{"VALUE a 0 1\r\n", "x\r\n", "VALUE b 0 1\r\n", "y\r\n", "END\r\n"}
	for _, want := range expected {
		got, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestReactorClosesOnPeerHangup(t *testing.T) {
	addr, stop := startTestReactor(t, cache.New(1024))
	defer stop()

	conn := dial(t, addr)
	conn.Close()
	// Give the reactor a moment to notice the hangup; nothing to assert
	// beyond "this doesn't hang or panic" since the connection map is
	// private to the reactor goroutine.
	time.Sleep(50 * time.Millisecond)
}

// TestReactorOffloadPreservesReplyOrder runs the reactor with a real,
// multi-worker pool and pipelines a set immediately followed by a get for
// the same key in one write. With more than one worker available, the two
// commands can execute concurrently and the get could easily finish first
// unless the reactor commits replies in read order rather than completion
// order. This exercises the default configuration (worker offload enabled)
// rather than the inline path the other tests above use.
func TestReactorOffloadPreservesReplyOrder(t *testing.T) {
	workers := pool.New(4, 4, 1024, time.Second)
	workers.Start()

	addr, stop := startReactorWithWorkers(t, cache.New(1024), workers)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for i := 0; i < 200; i++ {
		_, err := conn.Write([]byte("set a 0 0 1\r\nx\r\nget a\r\n"))
		require.NoError(t, err)

		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "STORED\r\n", line, "iteration %d", i)

		value, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "VALUE a 0 1\r\n", value, "iteration %d: get ran before its preceding set committed", i)
		body, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "x\r\n", body)
		end, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "END\r\n", end)
	}
}
