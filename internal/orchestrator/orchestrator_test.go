//go:build linux

package orchestrator_test

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillidk/minipgw/internal/bcd"
	"github.com/kirillidk/minipgw/internal/config"
	"github.com/kirillidk/minipgw/internal/logging"
	"github.com/kirillidk/minipgw/internal/orchestrator"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free tcp port: %v", err)
	}
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func freeUDPPort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("find free udp port: %v", err)
	}
	defer conn.Close()
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port)
}

func TestOrchestratorEndToEndAdmission(t *testing.T) {
	dir := t.TempDir()
	cdrPath := filepath.Join(dir, "cdr.log")

	cfg := &config.Config{
		ServerIP:             "127.0.0.1",
		ServerPort:           freeUDPPort(t),
		HTTPPort:             freePort(t),
		SessionTimeoutSec:    60,
		CDRFile:              cdrPath,
		GracefulShutdownRate: 5,
		LogFile:              "-",
		LogLevel:             "info",
	}

	var lv slog.LevelVar
	logger := logging.New(os.Stderr, "text", &lv)

	srv, err := orchestrator.New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()
	time.Sleep(100 * time.Millisecond) // let both loops bind

	datagram, err := bcd.Encode("001010123456789")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	client, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(cfg.ServerPort)})
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()
	client.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := client.Write(datagram); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := string(buf[:n]); got != "created" {
		t.Fatalf("udp reply = %q, want %q", got, "created")
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/check_subscriber?imsi=001010123456789", cfg.HTTPPort))
	if err != nil {
		t.Fatalf("http GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check_subscriber status = %d, want 200", resp.StatusCode)
	}

	stopResp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/stop", cfg.HTTPPort))
	if err != nil {
		t.Fatalf("http stop: %v", err)
	}
	stopResp.Body.Close()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not shut down in time")
	}

	data, err := os.ReadFile(cdrPath)
	if err != nil {
		t.Fatalf("read cdr: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("cdr file is empty, want at least a created record")
	}
}
