// Package behaviour aggregates the signaling handlers of every connection
// on a node. It routes outbound messages to the right connection and
// collects handler events into one outward queue for the application.
//
// Behaviour holds no locks. Its owner, normally the swarm driver, calls it
// from a single goroutine.
package behaviour

import (
	"errors"
	"fmt"

	"github.com/blockberries/sigberry/internal/observability"
	"github.com/blockberries/sigberry/pkg/connection"
	"github.com/blockberries/sigberry/pkg/wire"
	"github.com/libp2p/go-libp2p/core/peer"
)

var (
	// ErrNotConnected is returned when a message targets a peer with no
	// connection.
	ErrNotConnected = errors.New("peer not connected")

	// ErrDuplicateConnection is returned when a connection is added twice.
	ErrDuplicateConnection = errors.New("connection already registered")
)

// ConnectionInfo identifies one routed connection.
type ConnectionInfo struct {
	PeerID peer.ID
	ConnID string
}

type route struct {
	connID  string
	handler *connection.Handler
}

// Behaviour is the node-wide signaling aggregator.
type Behaviour struct {
	// routes lists each peer's connections, oldest first.
	routes map[peer.ID][]route
	events []Event
	logger observability.Logger
}

// New creates an empty behaviour.
func New(logger observability.Logger) *Behaviour {
	return &Behaviour{
		routes: make(map[peer.ID][]route),
		logger: observability.OrNop(logger),
	}
}

// AddConnection registers the handler of a newly established connection.
// The newest connection to a peer receives that peer's outbound messages.
func (b *Behaviour) AddConnection(p peer.ID, connID string, h *connection.Handler) error {
	for _, r := range b.routes[p] {
		if r.connID == connID {
			return fmt.Errorf("%w: %s", ErrDuplicateConnection, connID)
		}
	}
	b.routes[p] = append(b.routes[p], route{connID: connID, handler: h})
	b.logger.Debug("connection added", "peer", p, "conn", connID, "connections", len(b.routes[p]))
	return nil
}

// RemoveConnection closes and forgets the handler of a closed connection.
// Queued messages and undelivered handler events are discarded. It returns
// false if the connection was not registered.
func (b *Behaviour) RemoveConnection(p peer.ID, connID string) bool {
	routes := b.routes[p]
	for i, r := range routes {
		if r.connID != connID {
			continue
		}
		r.handler.Close()
		routes = append(routes[:i], routes[i+1:]...)
		if len(routes) == 0 {
			delete(b.routes, p)
		} else {
			b.routes[p] = routes
		}
		b.logger.Debug("connection removed", "peer", p, "conn", connID)
		return true
	}
	return false
}

// Handler returns the handler registered for a connection.
func (b *Behaviour) Handler(p peer.ID, connID string) (*connection.Handler, bool) {
	for _, r := range b.routes[p] {
		if r.connID == connID {
			return r.handler, true
		}
	}
	return nil, false
}

// Connections lists every registered connection.
func (b *Behaviour) Connections() []ConnectionInfo {
	var out []ConnectionInfo
	for p, routes := range b.routes {
		for _, r := range routes {
			out = append(out, ConnectionInfo{PeerID: p, ConnID: r.connID})
		}
	}
	return out
}

// Peers returns every peer with at least one connection.
func (b *Behaviour) Peers() []peer.ID {
	out := make([]peer.ID, 0, len(b.routes))
	for p := range b.routes {
		out = append(out, p)
	}
	return out
}

// IsConnected reports whether p has at least one connection.
func (b *Behaviour) IsConnected(p peer.ID) bool {
	return len(b.routes[p]) > 0
}

// SendOffer queues an SDP offer for p.
func (b *Behaviour) SendOffer(p peer.ID, sdp string) error {
	return b.send(p, wire.NewOffer(sdp))
}

// SendAnswer queues an SDP answer for p.
func (b *Behaviour) SendAnswer(p peer.ID, sdp string) error {
	return b.send(p, wire.NewAnswer(sdp))
}

// SendIceCandidate queues an ICE candidate for p.
func (b *Behaviour) SendIceCandidate(p peer.ID, candidate string) error {
	return b.send(p, wire.NewIceCandidate(candidate))
}

// send hands m to the handler of p's most recent connection. It never
// produces an outward event.
func (b *Behaviour) send(p peer.ID, m wire.Message) error {
	routes := b.routes[p]
	if len(routes) == 0 {
		return fmt.Errorf("%w: %s", ErrNotConnected, p)
	}
	r := routes[len(routes)-1]
	if err := r.handler.OnBehaviourEvent(m); err != nil {
		return fmt.Errorf("send %s to %s: %w", m.Type, p, err)
	}
	return nil
}

// OnConnectionHandlerEvent converts a handler event into an application
// event and queues it.
func (b *Behaviour) OnConnectionHandlerEvent(p peer.ID, connID string, evt connection.Event) {
	b.events = append(b.events, fromHandlerEvent(p, connID, evt))
}

// Poll returns the oldest queued application event. Events from one
// handler keep their order; events from different handlers may interleave.
func (b *Behaviour) Poll() (Event, bool) {
	if len(b.events) == 0 {
		return Event{}, false
	}
	e := b.events[0]
	b.events[0] = Event{}
	b.events = b.events[1:]
	if len(b.events) == 0 {
		b.events = nil
	}
	return e, true
}

// Pending returns the number of queued application events.
func (b *Behaviour) Pending() int {
	return len(b.events)
}

// PollHandlers polls every handler until it reports no progress and
// queues the events produced. It returns the number of events queued.
func (b *Behaviour) PollHandlers() int {
	n := 0
	for p, routes := range b.routes {
		for _, r := range routes {
			for {
				evt, ok := r.handler.Poll()
				if !ok {
					break
				}
				b.OnConnectionHandlerEvent(p, r.connID, evt)
				n++
			}
		}
	}
	return n
}

// Close closes every handler and drops all routes and queued events.
func (b *Behaviour) Close() {
	for _, routes := range b.routes {
		for _, r := range routes {
			r.handler.Close()
		}
	}
	b.routes = make(map[peer.ID][]route)
	b.events = nil
}
