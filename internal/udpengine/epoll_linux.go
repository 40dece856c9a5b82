//go:build linux

package udpengine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// epoller wraps an epoll instance registered with exactly two fds: the UDP
// socket (whose registration flips between read-only and read+write) and a
// stop eventfd that is always read-only.
type epoller struct {
	epfd   int
	sockFd int
	stopFd int
}

func newEpoller(sockFd, stopFd int) (*epoller, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("udpengine: epoll_create1: %w", err)
	}

	e := &epoller{epfd: epfd, sockFd: sockFd, stopFd: stopFd}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, stopFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(stopFd),
	}); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("udpengine: register stop fd: %w", err)
	}

	if err := e.addSock(unix.EPOLLIN); err != nil {
		unix.Close(epfd)
		return nil, err
	}

	return e, nil
}

// setSockEvents re-registers the socket fd with the given event mask
// (EPOLLIN for read-only, EPOLLIN|EPOLLOUT for read+write).
func (e *epoller) setSockEvents(events uint32) error {
	return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, e.sockFd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(e.sockFd),
	})
}

// addSock performs the initial EPOLL_CTL_ADD for the socket fd; setSockEvents
// uses MOD for every later transition.
func (e *epoller) addSock(events uint32) error {
	return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, e.sockFd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(e.sockFd),
	})
}

// wait blocks until readiness or an EINTR-free real event, with no timeout,
// per spec.md section 4.7 step 1.
func (e *epoller) wait() ([]unix.EpollEvent, error) {
	events := make([]unix.EpollEvent, 4)
	for {
		n, err := unix.EpollWait(e.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("udpengine: epoll_wait: %w", err)
		}
		return events[:n], nil
	}
}

func (e *epoller) close() error {
	return unix.Close(e.epfd)
}
