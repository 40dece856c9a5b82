// Package session implements the in-memory session registry: a map of
// active IMSIs, a static blacklist, per-session expiry, and the graceful
// drain protocol (spec.md section 4.2).
//
// Grounded on internal/bfd/manager.go's Manager (map + mutex, sentinel
// "not found"/"duplicate" results, SessionSnapshot-style read views) and
// internal/bfd/discriminator.go's mutex-guarded allocation pattern.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillidk/minipgw/internal/eventbus"
	"github.com/kirillidk/minipgw/internal/logging"
)

// Session is the opaque per-IMSI record spec.md section 3 describes. Presence
// in the registry's map *is* the session; there is no separate "created at"
// field exposed to callers beyond what CreatedAt offers for diagnostics.
type Session struct {
	IMSI      string
	CreatedAt time.Time
}

// Registry owns all active sessions and the immutable blacklist. A single
// mutex guards all map state; no operation here takes a second lock or
// blocks on I/O while holding it (spec.md section 5).
type Registry struct {
	timeout   time.Duration
	drainRate uint32
	bus       *eventbus.Bus
	logger    *logging.Logger

	mu       sync.Mutex
	sessions map[string]Session
	timers   map[string]*time.Timer

	blacklist map[string]struct{}

	draining  atomic.Bool
	drainDone chan struct{}
}

// New creates a Registry. timeout is the per-session lifetime
// (session_timeout_sec); drainRate is the graceful-shutdown rate in
// sessions per second (graceful_shutdown_rate, must be >= 1); blacklist is
// the immutable set of IMSIs that must always be rejected.
func New(timeout time.Duration, drainRate uint32, blacklist map[string]struct{}, bus *eventbus.Bus, logger *logging.Logger) *Registry {
	if drainRate < 1 {
		drainRate = 1
	}
	if blacklist == nil {
		blacklist = map[string]struct{}{}
	}
	return &Registry{
		timeout:   timeout,
		drainRate: drainRate,
		bus:       bus,
		logger:    logger,
		sessions:  make(map[string]Session),
		timers:    make(map[string]*time.Timer),
		blacklist: blacklist,
		drainDone: make(chan struct{}),
	}
}

// IsBlacklisted reports whether imsi is in the configured blacklist.
// The blacklist is immutable after construction, so no lock is needed.
func (r *Registry) IsBlacklisted(imsi string) bool {
	_, ok := r.blacklist[imsi]
	return ok
}

// Create performs an atomic check-and-insert. It returns true if a new
// session was created, false if one already existed for imsi ("already
// exists" is not an error -- the packet handler maps it to "rejected",
// per spec.md section 4.2).
func (r *Registry) Create(imsi string) bool {
	r.mu.Lock()
	if _, exists := r.sessions[imsi]; exists {
		r.mu.Unlock()
		return false
	}
	r.sessions[imsi] = Session{IMSI: imsi, CreatedAt: time.Now()}
	r.mu.Unlock()
	return true
}

// Delete removes imsi if present and returns whether it was present. A
// missing session is a no-op, logged at warning level, per spec.md section 4.2.
func (r *Registry) Delete(imsi string) bool {
	r.mu.Lock()
	_, exists := r.sessions[imsi]
	if exists {
		delete(r.sessions, imsi)
	}
	if t, ok := r.timers[imsi]; ok {
		t.Stop()
		delete(r.timers, imsi)
	}
	r.mu.Unlock()

	if !exists {
		r.logger.Warning("delete_session: no active session", "imsi", imsi)
	}
	return exists
}

// HasActive reports whether imsi currently has an active session.
func (r *Registry) HasActive(imsi string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[imsi]
	return ok
}

// Count returns the number of currently active sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// OnSessionCreated is the SessionCreated subscriber: it schedules a
// deletion after the configured session timeout. Each scheduled deletion
// runs as an independent timer callback and never blocks the event-bus
// dispatch path (spec.md section 4.2).
func (r *Registry) OnSessionCreated(ev eventbus.SessionCreated) {
	r.scheduleExpiry(ev.IMSI)
}

// scheduleExpiry arms a one-shot timer that deletes imsi after r.timeout
// and publishes SessionDeleted -- but only if this call actually removed
// the session, so a timer racing a graceful drain never double-publishes
// (spec.md section 9's open question, resolved by letting both deleters
// race harmlessly against the single registry mutex).
func (r *Registry) scheduleExpiry(imsi string) {
	var timer *time.Timer
	timer = time.AfterFunc(r.timeout, func() {
		r.mu.Lock()
		delete(r.timers, imsi)
		r.mu.Unlock()

		if r.Delete(imsi) {
			r.bus.PublishDeleted(eventbus.SessionDeleted{IMSI: imsi})
		}
	})

	r.mu.Lock()
	r.timers[imsi] = timer
	r.mu.Unlock()
}

// OnGracefulShutdown is the GracefulShutdown subscriber: it starts the
// graceful drain.
func (r *Registry) OnGracefulShutdown(eventbus.GracefulShutdown) {
	r.StartGracefulDrain()
}

// StartGracefulDrain begins deleting active sessions at drainRate sessions
// per second, publishing SessionDeleted for each removal. Idempotent: a
// second call is ignored with a warning (spec.md section 4.2).
func (r *Registry) StartGracefulDrain() {
	if !r.draining.CompareAndSwap(false, true) {
		r.logger.Warning("graceful drain already in progress")
		return
	}
	go r.drainLoop()
}

// drainLoop removes one session per tick until none remain.
func (r *Registry) drainLoop() {
	defer close(r.drainDone)

	interval := time.Second / time.Duration(r.drainRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		imsi, ok := r.popOne()
		if !ok {
			return
		}
		r.bus.PublishDeleted(eventbus.SessionDeleted{IMSI: imsi})
	}
}

// WaitDrain blocks until a graceful drain started by StartGracefulDrain has
// removed every session, or returns immediately if no drain was ever
// started. The orchestrator calls this between the UDP/HTTP loops exiting
// and stopping the worker pool, per spec.md section 4.9's "waits for the
// drain to finish, then stops the worker pool."
func (r *Registry) WaitDrain() {
	if !r.draining.Load() {
		return
	}
	<-r.drainDone
}

// popOne removes and returns one arbitrary active session's IMSI.
func (r *Registry) popOne() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for imsi := range r.sessions {
		delete(r.sessions, imsi)
		if t, ok := r.timers[imsi]; ok {
			t.Stop()
			delete(r.timers, imsi)
		}
		return imsi, true
	}
	return "", false
}

// Close stops every outstanding expiry timer without publishing
// SessionDeleted for them. Used during process teardown once shutdown has
// already been handled by drain, and in tests to avoid leaking timers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for imsi, t := range r.timers {
		t.Stop()
		delete(r.timers, imsi)
	}
}
