// Package httpengine implements the minimal HTTP control surface:
// GET /check_subscriber, POST or GET /stop, and GET /metrics (spec.md section 4.8).
//
// Grounded on cmd/gobfd/main.go's newMetricsServer/listenAndServe pair --
// net.ListenConfig + http.Server.Serve, shut down via srv.Shutdown when a
// GracefulShutdown event is received (cancelling Run's context does not
// stop the server).
package httpengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillidk/minipgw/internal/eventbus"
	"github.com/kirillidk/minipgw/internal/logging"
)

var imsiPattern = regexp.MustCompile(`^[0-9]{6,15}$`)

// Registry is the subset of session.Registry the HTTP engine depends on.
type Registry interface {
	HasActive(imsi string) bool
}

// Engine is the HTTP control-plane server.
type Engine struct {
	addr     string
	registry Registry
	bus      *eventbus.Bus
	logger   *logging.Logger
	srv      *http.Server
}

// New creates an Engine bound to ip:port, with /metrics served from reg.
func New(ip string, port uint16, registry Registry, bus *eventbus.Bus, logger *logging.Logger, reg prometheus.Gatherer) *Engine {
	e := &Engine{
		addr:     fmt.Sprintf("%s:%d", ip, port),
		registry: registry,
		bus:      bus,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/check_subscriber", e.handleCheckSubscriber)
	mux.HandleFunc("/stop", e.handleStop)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", e.handleNotFound)

	e.srv = &http.Server{
		Addr:              e.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	bus.SubscribeShutdown(func(eventbus.GracefulShutdown) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.srv.Shutdown(ctx); err != nil {
			logger.Warning("http engine shutdown error", "error", err)
		}
	})

	return e
}

// Run listens and serves until Shutdown is called (via GracefulShutdown).
// Returns nil on a clean shutdown.
func (e *Engine) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", e.addr)
	if err != nil {
		return fmt.Errorf("httpengine: listen on %s: %w", e.addr, err)
	}

	if err := e.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpengine: serve on %s: %w", e.addr, err)
	}
	return nil
}

func (e *Engine) handleCheckSubscriber(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusBadRequest)
		return
	}

	imsi := r.URL.Query().Get("imsi")
	if imsi == "" {
		http.Error(w, "missing imsi parameter", http.StatusBadRequest)
		return
	}
	if !imsiPattern.MatchString(imsi) {
		http.Error(w, "imsi must be 6-15 decimal digits", http.StatusBadRequest)
		return
	}

	if e.registry.HasActive(imsi) {
		fmt.Fprint(w, "active")
		return
	}
	fmt.Fprint(w, "not active")
}

func (e *Engine) handleStop(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusBadRequest)
		return
	}

	e.bus.PublishShutdown(eventbus.GracefulShutdown{})
	fmt.Fprint(w, "shutdown initiated")
}

func (e *Engine) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	http.Error(w, "Not Found", http.StatusNotFound)
}
