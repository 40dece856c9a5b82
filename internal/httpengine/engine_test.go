package httpengine_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillidk/minipgw/internal/eventbus"
	"github.com/kirillidk/minipgw/internal/httpengine"
	"github.com/kirillidk/minipgw/internal/logging"
	"github.com/kirillidk/minipgw/internal/workerpool"
)

type fakeRegistry struct{ active map[string]bool }

func (f fakeRegistry) HasActive(imsi string) bool { return f.active[imsi] }

func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func newTestEngine(t *testing.T, reg fakeRegistry) (*httpengine.Engine, *eventbus.Bus, uint16) {
	t.Helper()
	pool := workerpool.New(2)
	t.Cleanup(pool.Stop)
	var lv slog.LevelVar
	logger := logging.New(os.Stderr, "text", &lv)
	bus := eventbus.New(pool, logger)
	port := freePort(t)
	e := httpengine.New("127.0.0.1", port, reg, bus, logger, prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()
	time.Sleep(50 * time.Millisecond) // let the listener bind

	return e, bus, port
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestCheckSubscriberActive(t *testing.T) {
	_, _, port := newTestEngine(t, fakeRegistry{active: map[string]bool{"001010123456789": true}})

	status, body := get(t, fmt.Sprintf("http://127.0.0.1:%d/check_subscriber?imsi=001010123456789", port))
	if status != http.StatusOK || body != "active" {
		t.Fatalf("status=%d body=%q, want 200 active", status, body)
	}
}

func TestCheckSubscriberNotActive(t *testing.T) {
	_, _, port := newTestEngine(t, fakeRegistry{active: map[string]bool{}})

	status, body := get(t, fmt.Sprintf("http://127.0.0.1:%d/check_subscriber?imsi=999999999999", port))
	if status != http.StatusOK || body != "not active" {
		t.Fatalf("status=%d body=%q, want 200 not active", status, body)
	}
}

func TestCheckSubscriberMissingParam(t *testing.T) {
	_, _, port := newTestEngine(t, fakeRegistry{})

	status, _ := get(t, fmt.Sprintf("http://127.0.0.1:%d/check_subscriber", port))
	if status != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", status)
	}
}

func TestCheckSubscriberInvalidFormat(t *testing.T) {
	_, _, port := newTestEngine(t, fakeRegistry{})

	status, _ := get(t, fmt.Sprintf("http://127.0.0.1:%d/check_subscriber?imsi=abc", port))
	if status != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", status)
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	_, _, port := newTestEngine(t, fakeRegistry{})

	status, _ := get(t, fmt.Sprintf("http://127.0.0.1:%d/nope", port))
	if status != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", status)
	}
}

func TestStopPublishesGracefulShutdown(t *testing.T) {
	_, bus, port := newTestEngine(t, fakeRegistry{})

	shutdown := make(chan struct{}, 1)
	bus.SubscribeShutdown(func(eventbus.GracefulShutdown) { shutdown <- struct{}{} })

	status, body := get(t, fmt.Sprintf("http://127.0.0.1:%d/stop", port))
	if status != http.StatusOK || body != "shutdown initiated" {
		t.Fatalf("status=%d body=%q, want 200 'shutdown initiated'", status, body)
	}

	select {
	case <-shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for GracefulShutdown publish")
	}
}
