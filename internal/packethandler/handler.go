// Package packethandler implements the decode-admit-verdict pipeline that
// turns a raw UDP datagram into a reply body (spec.md section 4.6).
//
// Grounded on internal/bfd's packet decode-and-dispatch path (decode, look
// up session state, react), adapted to the admission semantics this spec
// calls for instead of BFD's state-machine transitions.
package packethandler

import (
	"github.com/kirillidk/minipgw/internal/bcd"
	"github.com/kirillidk/minipgw/internal/eventbus"
	"github.com/kirillidk/minipgw/internal/logging"
)

const (
	VerdictCreated  = "created"
	VerdictRejected = "rejected"
)

// Registry is the subset of session.Registry the handler depends on.
type Registry interface {
	IsBlacklisted(imsi string) bool
	Create(imsi string) bool
}

// Handler decodes a datagram, applies blacklist and admission rules, and
// returns the verdict string that becomes the UDP reply body.
type Handler struct {
	registry Registry
	bus      *eventbus.Bus
	logger   *logging.Logger
}

// New creates a Handler.
func New(registry Registry, bus *eventbus.Bus, logger *logging.Logger) *Handler {
	return &Handler{registry: registry, bus: bus, logger: logger}
}

// Handle implements spec.md section 4.6's three-step decision:
// decode -> blacklist check -> create_session, publishing the matching
// lifecycle event. A decode error yields "Error: <kind>" so the UDP engine
// can send it back verbatim.
func (h *Handler) Handle(datagram []byte) string {
	imsi, err := bcd.Decode(datagram)
	if err != nil {
		h.logger.Debug("packet decode failed", "error", err)
		// bcd's sentinel errors are already named after their
		// packet_manager_error kind (spec.md section 7), so Error() is the
		// lower-snake-case kind string the reply body needs.
		return "Error: " + err.Error()
	}

	if h.registry.IsBlacklisted(imsi) {
		h.bus.PublishRejected(eventbus.SessionRejected{IMSI: imsi})
		return VerdictRejected
	}

	if !h.registry.Create(imsi) {
		h.bus.PublishRejected(eventbus.SessionRejected{IMSI: imsi})
		return VerdictRejected
	}

	h.bus.PublishCreated(eventbus.SessionCreated{IMSI: imsi})
	return VerdictCreated
}
