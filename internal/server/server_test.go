package server

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gofastd/internal/config"
)

func TestServerStartStopRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.MetricsAddr = ""
	cfg.PoolLowWatermark = 1
	cfg.PoolHighWatermark = 2

	srv, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	port, err := srv.reactor.Addr()
	require.NoError(t, err)

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	_, err = conn.Write([]byte("set greeting 0 0 5\r\nhello\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "STORED\r\n", line)

	_, err = conn.Write([]byte("get greeting\r\n"))
	require.NoError(t, err)
	value, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "VALUE greeting 0 5\r\n", value)
}
