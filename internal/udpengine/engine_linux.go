//go:build linux

package udpengine

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/kirillidk/minipgw/internal/eventbus"
	"github.com/kirillidk/minipgw/internal/logging"
)

// recvBufSize is the receive buffer size; larger datagrams are logged and
// dropped (spec.md section 4.7).
const recvBufSize = 1024

// maxBatch bounds how many queued requests are processed per loop tick.
const maxBatch = 10

// Handler decodes and admits one datagram, returning the reply body.
type Handler interface {
	Handle(datagram []byte) string
}

// Metrics receives UDP packet-volume counters. Optional: New accepts nil.
type Metrics interface {
	IncPacketsReceived()
	IncPacketsSent()
	IncPacketsDropped()
}

type noopMetrics struct{}

func (noopMetrics) IncPacketsReceived() {}
func (noopMetrics) IncPacketsSent()     {}
func (noopMetrics) IncPacketsDropped()  {}

// request is one datagram pulled off the socket, awaiting handling.
type request struct {
	data []byte
	addr unix.Sockaddr
}

// pendingResponse is one verdict awaiting transmission back to its sender.
type pendingResponse struct {
	data []byte
	addr unix.Sockaddr
}

// Engine is the single-threaded, readiness-driven UDP request/response loop.
type Engine struct {
	sockFd int
	epoll  *epoller
	stop   *stopSignal
	handler Handler
	logger  *logging.Logger
	bus     *eventbus.Bus
	metrics Metrics

	requests  []request
	responses []pendingResponse
	rwMode    bool // true when the socket is registered read+write

	running atomic.Bool
	done    chan struct{}
	stopOnce sync.Once
}

// New creates an Engine bound to ip:port. The returned Engine is not yet
// running; call Run to start its loop.
func New(ip string, port uint16, handler Handler, bus *eventbus.Bus, logger *logging.Logger, metrics Metrics) (*Engine, error) {
	if metrics == nil {
		metrics = noopMetrics{}
	}

	sockFd, err := openSocket(ip, port)
	if err != nil {
		return nil, err
	}

	stop, err := newStopSignal()
	if err != nil {
		unix.Close(sockFd)
		return nil, err
	}

	ep, err := newEpoller(sockFd, stop.fd)
	if err != nil {
		unix.Close(sockFd)
		stop.close()
		return nil, err
	}

	e := &Engine{
		sockFd:  sockFd,
		epoll:   ep,
		stop:    stop,
		handler: handler,
		logger:  logger,
		bus:     bus,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	bus.SubscribeShutdown(func(eventbus.GracefulShutdown) { e.Stop() })
	return e, nil
}

// Run executes the engine's loop until Stop is called. It returns once the
// loop has drained outstanding requests and flushed the response queue.
func (e *Engine) Run() error {
	e.running.Store(true)
	defer close(e.done)

	for e.running.Load() {
		events, err := e.epoll.wait()
		if err != nil {
			return err
		}

		for _, ev := range events {
			switch int(ev.Fd) {
			case e.stop.fd:
				e.stop.consume()
				e.running.Store(false)
			case e.sockFd:
				if ev.Events&unix.EPOLLIN != 0 {
					e.drainSocket()
				}
				if ev.Events&unix.EPOLLOUT != 0 {
					e.flushResponses()
				}
			}
		}

		e.processBatch()
	}

	e.shutdownDrain()
	e.closeFDs()
	return nil
}

// drainSocket reads datagrams until EAGAIN, queuing each as a request.
func (e *Engine) drainSocket() {
	buf := make([]byte, recvBufSize)
	for {
		// MSG_TRUNC makes recvfrom report the *true* datagram length even
		// when it exceeds len(buf), instead of silently truncating it --
		// without this flag n is capped at recvBufSize and an oversized
		// datagram could never be told apart from one that exactly fits.
		n, from, err := unix.Recvfrom(e.sockFd, buf, unix.MSG_TRUNC)
		if err != nil {
			if err != unix.EAGAIN {
				e.logger.Warning("udp recvfrom error", "error", err)
			}
			return
		}
		if n == 0 {
			e.logger.Debug("ignoring zero-length datagram")
			continue
		}
		if n > recvBufSize {
			e.logger.Warning("dropping oversized datagram", "size", n)
			e.metrics.IncPacketsDropped()
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		e.requests = append(e.requests, request{data: data, addr: from})
		e.metrics.IncPacketsReceived()
	}
}

// flushResponses sends queued responses until the queue empties or EAGAIN.
func (e *Engine) flushResponses() {
	for len(e.responses) > 0 {
		resp := e.responses[0]
		err := unix.Sendto(e.sockFd, resp.data, 0, resp.addr)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			e.logger.Warning("udp sendto error", "error", err, "to", addrString(resp.addr))
		} else {
			e.metrics.IncPacketsSent()
		}
		e.responses = e.responses[1:]
	}
	e.downgradeToReadOnly()
}

// processBatch hands up to maxBatch queued requests to the handler,
// queuing each verdict as a pending response.
func (e *Engine) processBatch() {
	n := len(e.requests)
	if n > maxBatch {
		n = maxBatch
	}
	if n == 0 {
		return
	}

	wasEmpty := len(e.responses) == 0

	for i := 0; i < n; i++ {
		req := e.requests[i]
		verdict := e.handler.Handle(req.data)
		e.responses = append(e.responses, pendingResponse{data: []byte(verdict), addr: req.addr})
	}
	e.requests = e.requests[n:]

	if wasEmpty && len(e.responses) > 0 {
		e.upgradeToReadWrite()
	}
}

func (e *Engine) upgradeToReadWrite() {
	if e.rwMode {
		return
	}
	if err := e.epoll.setSockEvents(unix.EPOLLIN | unix.EPOLLOUT); err != nil {
		e.logger.Warning("udp epoll mod RW failed", "error", err)
		return
	}
	e.rwMode = true
}

func (e *Engine) downgradeToReadOnly() {
	if !e.rwMode {
		return
	}
	if err := e.epoll.setSockEvents(unix.EPOLLIN); err != nil {
		e.logger.Warning("udp epoll mod R failed", "error", err)
		return
	}
	e.rwMode = false
}

// shutdownDrain runs after the stop signal is consumed: it processes any
// remaining requests through the handler, then flushes the response queue
// by repeated send attempts with no readiness wait (spec.md section 4.7).
// Each response is retried against EAGAIN in a busy loop rather than
// dropped, matching flushResponses' retry discipline.
func (e *Engine) shutdownDrain() {
	for len(e.requests) > 0 {
		e.processBatch()
	}
	for len(e.responses) > 0 {
		resp := e.responses[0]
		err := unix.Sendto(e.sockFd, resp.data, 0, resp.addr)
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			e.logger.Warning("udp shutdown sendto error", "error", err, "to", addrString(resp.addr))
		} else {
			e.metrics.IncPacketsSent()
		}
		e.responses = e.responses[1:]
	}
}

func (e *Engine) closeFDs() {
	e.epoll.close()
	e.stop.close()
	unix.Close(e.sockFd)
}

// Stop signals the loop to exit. Thread-safe; safe to call more than once
// and safe to call before Run starts (the signal is latched by the eventfd
// counter until consumed).
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if err := e.stop.signal(); err != nil {
			e.logger.Warning("udp stop signal failed", "error", err)
		}
	})
}

// Done returns a channel closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}
