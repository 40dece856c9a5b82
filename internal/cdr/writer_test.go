package cdr_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillidk/minipgw/internal/cdr"
	"github.com/kirillidk/minipgw/internal/eventbus"
)

func TestWriterWritesLineFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdr.log")
	w, err := cdr.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	w.OnSessionCreated(eventbus.SessionCreated{IMSI: "001010123456789"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	line := strings.TrimRight(string(data), "\n")
	parts := strings.Split(line, ", ")
	if len(parts) != 3 {
		t.Fatalf("line %q, want 3 comma-separated fields", line)
	}
	if parts[1] != "001010123456789" {
		t.Fatalf("imsi field = %q, want %q", parts[1], "001010123456789")
	}
	if parts[2] != "created" {
		t.Fatalf("action field = %q, want %q", parts[2], "created")
	}
}

func TestWriterAppendsAcrossEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdr.log")
	w, err := cdr.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	w.OnSessionCreated(eventbus.SessionCreated{IMSI: "12345678"})
	w.OnSessionRejected(eventbus.SessionRejected{IMSI: "87654321"})
	w.OnSessionDeleted(eventbus.SessionDeleted{IMSI: "12345678"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), lines)
	}
	if !strings.HasSuffix(lines[0], "created") {
		t.Fatalf("line 0 = %q, want suffix created", lines[0])
	}
	if !strings.HasSuffix(lines[1], "rejected") {
		t.Fatalf("line 1 = %q, want suffix rejected", lines[1])
	}
	if !strings.HasSuffix(lines[2], "deleted") {
		t.Fatalf("line 2 = %q, want suffix deleted", lines[2])
	}
}

func TestOpenReopensAppendMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdr.log")

	w1, err := cdr.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	w1.OnSessionCreated(eventbus.SessionCreated{IMSI: "11111111"})
	w1.Close()

	w2, err := cdr.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w2.Close()
	w2.OnSessionCreated(eventbus.SessionCreated{IMSI: "22222222"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines after reopen, want 2", len(lines))
	}
}

func TestOnRecordWrittenCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdr.log")
	w, err := cdr.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	var seen []cdr.Action
	w.OnRecordWritten(func(a cdr.Action) { seen = append(seen, a) })

	w.OnSessionCreated(eventbus.SessionCreated{IMSI: "12345678"})
	w.OnSessionRejected(eventbus.SessionRejected{IMSI: "87654321"})

	if len(seen) != 2 || seen[0] != cdr.ActionCreated || seen[1] != cdr.ActionRejected {
		t.Fatalf("seen = %v, want [created rejected]", seen)
	}
}
