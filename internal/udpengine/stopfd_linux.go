//go:build linux

package udpengine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// stopSignal is the secondary "stop" wake-up object spec.md section 4.7 calls for, built
// on Linux's eventfd: writing to it makes the fd readable, which the epoll
// loop observes alongside socket readiness.
type stopSignal struct {
	fd int
}

func newStopSignal() (*stopSignal, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("udpengine: eventfd: %w", err)
	}
	return &stopSignal{fd: fd}, nil
}

// signal is thread-safe: it may be called from any goroutine to wake the
// engine's loop out of epoll_wait.
func (s *stopSignal) signal() error {
	buf := [8]byte{0, 0, 0, 0, 0, 0, 0, 1}
	_, err := unix.Write(s.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("udpengine: signal stop: %w", err)
	}
	return nil
}

// consume drains the eventfd's counter after it becomes readable.
func (s *stopSignal) consume() {
	var buf [8]byte
	unix.Read(s.fd, buf[:])
}

func (s *stopSignal) close() error {
	return unix.Close(s.fd)
}
