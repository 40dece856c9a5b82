// Package cdr implements the Call Detail Record writer: an append-only,
// mutex-serialized text log of session lifecycle events (spec.md section 4.5).
//
// Grounded on the teacher's log-file handling in internal/bfd's session
// event hooks and internal/config's fatal-construction-error convention
// (opening the CDR path is a startup concern like opening the BFD log).
package cdr

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kirillidk/minipgw/internal/eventbus"
)

// Action is the lowercase CDR action word.
type Action string

const (
	ActionCreated  Action = "created"
	ActionDeleted  Action = "deleted"
	ActionRejected Action = "rejected"
)

// Writer serializes lifecycle events to an append-only CDR file. One record
// per line: "<timestamp>, <imsi>, <action>\n", flushed immediately.
type Writer struct {
	mu   sync.Mutex
	file *os.File

	recordsWritten func(action Action)
}

// Open opens path in append mode, creating it if necessary. Failure to open
// is a fatal construction error per spec.md section 4.5.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cdr: open %s: %w", path, err)
	}
	return &Writer{file: f}, nil
}

// OnRecordWritten installs a callback invoked after each successful write,
// used by internal/metrics to count CDR records by action.
func (w *Writer) OnRecordWritten(fn func(action Action)) {
	w.recordsWritten = fn
}

// write appends one CDR line under the writer's mutex and flushes it.
func (w *Writer) write(imsi string, action Action) {
	line := fmt.Sprintf("%s, %s, %s\n", timestamp(), imsi, action)

	w.mu.Lock()
	_, err := w.file.WriteString(line)
	if err == nil {
		err = w.file.Sync()
	}
	w.mu.Unlock()

	if err != nil {
		// The CDR writer has no logger of its own (spec.md section 4.5 gives it
		// no error-recovery contract beyond "flush on every line"); a write
		// failure here is surfaced only via the returned metrics callback being
		// skipped.
		return
	}
	if w.recordsWritten != nil {
		w.recordsWritten(action)
	}
}

// timestamp renders local time as "YYYY-MM-DD HH:MM:SS.mmm".
func timestamp() string {
	now := time.Now()
	return fmt.Sprintf("%s.%03d", now.Format("2006-01-02 15:04:05"), now.Nanosecond()/1e6)
}

// OnSessionCreated is the SessionCreated subscriber.
func (w *Writer) OnSessionCreated(ev eventbus.SessionCreated) {
	w.write(ev.IMSI, ActionCreated)
}

// OnSessionDeleted is the SessionDeleted subscriber.
func (w *Writer) OnSessionDeleted(ev eventbus.SessionDeleted) {
	w.write(ev.IMSI, ActionDeleted)
}

// OnSessionRejected is the SessionRejected subscriber.
func (w *Writer) OnSessionRejected(ev eventbus.SessionRejected) {
	w.write(ev.IMSI, ActionRejected)
}

// Close closes the underlying file. Queued records in flight should already
// be written because the orchestrator stops the worker pool before closing
// the writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
