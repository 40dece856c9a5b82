// Package orchestrator wires every component into the startup order
// spec.md section 4.9 specifies and runs the UDP and HTTP loops concurrently
// under one cancellation-propagating group.
//
// Grounded on cmd/gobfd/main.go's runServers: an errgroup.WithContext driving
// several long-running goroutines, plus a dedicated goroutine that waits on
// context cancellation and runs the shutdown sequence -- generalized here to
// the three-loop (UDP, HTTP, workers) shutdown spec.md section 4.9 describes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kirillidk/minipgw/internal/cdr"
	"github.com/kirillidk/minipgw/internal/config"
	"github.com/kirillidk/minipgw/internal/eventbus"
	"github.com/kirillidk/minipgw/internal/httpengine"
	"github.com/kirillidk/minipgw/internal/logging"
	"github.com/kirillidk/minipgw/internal/metrics"
	"github.com/kirillidk/minipgw/internal/packethandler"
	"github.com/kirillidk/minipgw/internal/session"
	"github.com/kirillidk/minipgw/internal/udpengine"
	"github.com/kirillidk/minipgw/internal/workerpool"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrUDPEngine and ErrHTTPEngine wrap a Run error so the caller (cmd/pgwd)
// can pick the right exit code per spec.md section 6 (3 for a UDP engine
// failure, 4 for an HTTP engine failure) without Run itself knowing about
// process exit codes.
var (
	ErrUDPEngine  = errors.New("udp engine")
	ErrHTTPEngine = errors.New("http engine")
)

// Server owns every long-running component of one session-server process.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	pool     *workerpool.Pool
	bus      *eventbus.Bus
	registry *session.Registry
	cdr      *cdr.Writer
	metrics  *metrics.Collector
	http     *httpengine.Engine
	udp      *udpengine.Engine

	// shutdownSeen closes once the GracefulShutdown event has actually been
	// dispatched to subscribers by the worker pool. Publish/dispatch is
	// asynchronous (spec.md section 4.3), so Run must not assume the
	// registry's drain has started just because both loops exited -- it
	// waits on this signal first.
	shutdownSeen chan struct{}
}

// New builds a Server from cfg, starting, in order, the worker pool, event
// bus, session registry (subscribing to SessionCreated, GracefulShutdown),
// CDR writer (subscribing to all three session events), HTTP engine
// (subscribing to GracefulShutdown), and UDP engine (subscribing to
// GracefulShutdown) -- spec.md section 4.9's wiring order.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	pool := workerpool.New(defaultWorkerCount())
	bus := eventbus.New(pool, logger)

	reg := prometheus.NewRegistry()
	coll := metrics.NewCollector(reg)

	registry := session.New(
		toSeconds(cfg.SessionTimeoutSec),
		cfg.GracefulShutdownRate,
		cfg.BlacklistSet(),
		bus,
		logger,
	)
	bus.SubscribeCreated(registry.OnSessionCreated)
	bus.SubscribeCreated(coll.OnSessionCreated)
	bus.SubscribeDeleted(coll.OnSessionDeleted)
	shutdownSeen := make(chan struct{})
	var shutdownOnce sync.Once
	bus.SubscribeShutdown(func(ev eventbus.GracefulShutdown) {
		registry.OnGracefulShutdown(ev)
		shutdownOnce.Do(func() { close(shutdownSeen) })
	})

	cdrWriter, err := cdr.Open(cfg.CDRFile)
	if err != nil {
		pool.Stop()
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	cdrWriter.OnRecordWritten(coll.OnCDRRecord)
	bus.SubscribeCreated(cdrWriter.OnSessionCreated)
	bus.SubscribeDeleted(cdrWriter.OnSessionDeleted)
	bus.SubscribeRejected(cdrWriter.OnSessionRejected)

	handler := packethandler.New(registry, bus, logger)

	httpEng := httpengine.New(cfg.ServerIP, cfg.HTTPPort, registry, bus, logger, reg)

	udpEng, err := udpengine.New(cfg.ServerIP, cfg.ServerPort, handler, bus, logger, coll)
	if err != nil {
		cdrWriter.Close()
		pool.Stop()
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	return &Server{
		cfg:          cfg,
		logger:       logger,
		pool:         pool,
		bus:          bus,
		registry:     registry,
		cdr:          cdrWriter,
		metrics:      coll,
		http:         httpEng,
		udp:          udpEng,
		shutdownSeen: shutdownSeen,
	}, nil
}

// Run starts the HTTP and UDP loops concurrently and blocks until both have
// exited, then drains the worker pool. Both engines already subscribe to
// GracefulShutdown on construction (udp.Stop / http srv.Shutdown); Run's job
// is to make either loop's exit trigger the other's, per spec.md section 4.9 --
// whichever loop returns first publishes GracefulShutdown, which is a no-op
// for whichever engine already stopped.
func (s *Server) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.udp.Run()
		s.bus.PublishShutdown(eventbus.GracefulShutdown{})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUDPEngine, err)
		}
		return nil
	})

	g.Go(func() error {
		err := s.http.Run(gCtx)
		s.bus.PublishShutdown(eventbus.GracefulShutdown{})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrHTTPEngine, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		s.udp.Stop()
		return nil
	})

	err := g.Wait()

	// Both loops have exited, which only happens after at least one of them
	// has published GracefulShutdown -- but dispatch to subscribers runs on
	// the worker pool asynchronously, so wait for that dispatch to actually
	// reach the registry before asking whether a drain is underway.
	<-s.shutdownSeen

	s.registry.WaitDrain()
	s.registry.Close()
	s.pool.Stop()
	if closeErr := s.cdr.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("orchestrator: close cdr: %w", closeErr)
	}

	return err
}
