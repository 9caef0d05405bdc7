// Package server wires the cache, worker pool, reactor, and metrics
// together into the single object cmd/gofastd constructs and runs,
// generalizing the role the teacher's GoFastServer type plays in its own
// server.go: own the listener lifecycle, own a background goroutine, and
// expose Start/Stop.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"gofastd/internal/cache"
	"gofastd/internal/config"
	"gofastd/internal/metrics"
	"gofastd/internal/pool"
	"gofastd/internal/protocol"
	"gofastd/internal/reactor"
)

// Server owns every long-lived collaborator gofastd needs at runtime.
type Server struct {
	cfg     *config.Config
	log     zerolog.Logger
	cache   *cache.LRU
	workers *pool.Pool
	reactor *reactor.Reactor
	metrics *metrics.MetricSet

	metricsSrv *http.Server
	runErr     chan error
	stopGauges chan struct{}
}

// New constructs a Server from cfg without starting anything yet.
func New(cfg *config.Config, log zerolog.Logger) (*Server, error) {
	maxBytes, err := cfg.CacheMaxBytes()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		log:        log,
		cache:      cache.New(maxBytes),
		metrics:    metrics.New(log),
		runErr:     make(chan error, 1),
		stopGauges: make(chan struct{}),
	}

	if !cfg.PoolDisabled {
		s.workers = pool.New(cfg.PoolLowWatermark, cfg.PoolHighWatermark, cfg.PoolMaxQueue, cfg.PoolIdleTimeout)
	}

	hooks := reactor.Hooks{
		ConnOpened: func() { s.metrics.Connections.Inc() },
		ConnClosed: func() { s.metrics.Connections.Dec() },
		CommandExecuted: func(kind protocol.Kind) {
			s.metrics.OpsTotal.WithLabelValues(kind.String()).Inc()
		},
		QueueRejected: func() { s.metrics.QueueRejections.Inc() },
		ReadBatch:     func(depth int) { s.metrics.PipelineDepth.Observe(float64(depth)) },
	}
	s.reactor = reactor.New(s.cache, s.workers, hooks, log)

	return s, nil
}

// Start binds the listener, starts the worker pool and metrics endpoint,
// and runs the reactor loop in the background. It returns once the
// listener is bound; Wait reports the reactor's terminal error, if any.
func (s *Server) Start() error {
	if err := s.reactor.Listen(s.cfg.Host, s.cfg.Port); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if s.workers != nil {
		s.workers.Start()
	}

	if s.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		s.metricsSrv = &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	go s.sampleGauges()

	go func() {
		s.runErr <- s.reactor.Run()
	}()

	s.log.Info().Str("config", s.cfg.String()).Msg("gofastd started")
	return nil
}

// Wait blocks until the reactor loop exits and returns its error, if any.
func (s *Server) Wait() error {
	return <-s.runErr
}

// Stop requests a graceful shutdown: stop accepting new connections,
// drain the worker pool, and close the metrics endpoint.
func (s *Server) Stop() {
	// Drain the worker pool before tearing down the reactor: a task still
	// running posts its reply back through the reactor's completion
	// channel and eventfd, both of which must still be alive to receive
	// it.
	if s.workers != nil {
		s.workers.Stop(true)
	}
	s.reactor.Stop()
	close(s.stopGauges)
	if s.metricsSrv != nil {
		s.metricsSrv.Close()
	}
}

// sampleGauges periodically copies point-in-time state (cache size, pool
// occupancy) into the corresponding Prometheus gauges, since those
// subsystems don't push updates themselves.
func (s *Server) sampleGauges() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGauges:
			return
		case <-ticker.C:
			s.metrics.CacheBytes.Set(float64(s.cache.CurrentBytes()))
			s.metrics.CacheEntries.Set(float64(s.cache.Len()))
			if s.workers != nil {
				total, idle, queued := s.workers.Snapshot()
				s.metrics.PoolWorkers.Set(float64(total))
				s.metrics.PoolIdleWorkers.Set(float64(idle))
				s.metrics.PoolQueueDepth.Set(float64(queued))
			}
		}
	}
}
