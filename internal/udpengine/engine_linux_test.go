//go:build linux

package udpengine_test

import (
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/kirillidk/minipgw/internal/eventbus"
	"github.com/kirillidk/minipgw/internal/logging"
	"github.com/kirillidk/minipgw/internal/udpengine"
	"github.com/kirillidk/minipgw/internal/workerpool"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type echoHandler struct{ prefix string }

func (h echoHandler) Handle(datagram []byte) string {
	return h.prefix + string(datagram)
}

func newTestDeps() (*eventbus.Bus, *workerpool.Pool) {
	pool := workerpool.New(2)
	var lv slog.LevelVar
	logger := logging.New(os.Stderr, "text", &lv)
	return eventbus.New(pool, logger), pool
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer conn.Close()
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port)
}

func TestEngineEchoesVerdict(t *testing.T) {
	bus, pool := newTestDeps()
	defer pool.Stop()

	port := freePort(t)
	eng, err := udpengine.New("127.0.0.1", port, echoHandler{prefix: "got:"}, bus, logging.New(os.Stderr, "text", new(slog.LevelVar)), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	go func() {
		if err := eng.Run(); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	client, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(port)})
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1024)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got := string(buf[:n]); got != "got:hello" {
		t.Fatalf("reply = %q, want %q", got, "got:hello")
	}

	eng.Stop()
	select {
	case <-eng.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop in time")
	}
}

func TestEngineStopsOnGracefulShutdownEvent(t *testing.T) {
	bus, pool := newTestDeps()
	defer pool.Stop()

	port := freePort(t)
	eng, err := udpengine.New("127.0.0.1", port, echoHandler{}, bus, logging.New(os.Stderr, "text", new(slog.LevelVar)), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runDone := make(chan struct{})
	go func() {
		eng.Run()
		close(runDone)
	}()

	bus.PublishShutdown(eventbus.GracefulShutdown{})

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after GracefulShutdown")
	}
}
