package protocol

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// DenyChecker reports whether connections to a peer must be refused.
type DenyChecker interface {
	IsDenied(peerID peer.ID) bool
}

// Denylist is a concurrency-safe set of denied peers.
type Denylist struct {
	mu    sync.RWMutex
	peers map[peer.ID]struct{}
}

// NewDenylist creates an empty denylist.
func NewDenylist() *Denylist {
	return &Denylist{peers: make(map[peer.ID]struct{})}
}

// Deny adds peerID to the list.
func (d *Denylist) Deny(peerID peer.ID) {
	d.mu.Lock()
	d.peers[peerID] = struct{}{}
	d.mu.Unlock()
}

// Allow removes peerID from the list.
func (d *Denylist) Allow(peerID peer.ID) {
	d.mu.Lock()
	delete(d.peers, peerID)
	d.mu.Unlock()
}

// IsDenied implements DenyChecker.
func (d *Denylist) IsDenied(peerID peer.ID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.peers[peerID]
	return ok
}

// Len returns the number of denied peers.
func (d *Denylist) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// ConnectionGater implements libp2p's ConnectionGater interface so denied
// peers never reach the signaling handlers.
type ConnectionGater struct {
	checker DenyChecker
}

// NewConnectionGater creates a new connection gater with the given checker.
func NewConnectionGater(checker DenyChecker) *ConnectionGater {
	return &ConnectionGater{checker: checker}
}

// InterceptPeerDial is called before dialing a peer.
func (g *ConnectionGater) InterceptPeerDial(p peer.ID) bool {
	return !g.checker.IsDenied(p)
}

// InterceptAddrDial is called before dialing a specific address.
func (g *ConnectionGater) InterceptAddrDial(p peer.ID, addr multiaddr.Multiaddr) bool {
	return !g.checker.IsDenied(p)
}

// InterceptAccept is called when accepting an inbound connection.
// At this point we don't know the peer ID yet, so we allow it.
func (g *ConnectionGater) InterceptAccept(addrs network.ConnMultiaddrs) bool {
	return true
}

// InterceptSecured is called after the security handshake completes
// and the peer ID is known.
func (g *ConnectionGater) InterceptSecured(dir network.Direction, p peer.ID, addrs network.ConnMultiaddrs) bool {
	return !g.checker.IsDenied(p)
}

// InterceptUpgraded is called after the connection is fully upgraded.
func (g *ConnectionGater) InterceptUpgraded(conn network.Conn) (bool, control.DisconnectReason) {
	if g.checker.IsDenied(conn.RemotePeer()) {
		return false, control.DisconnectReason(0)
	}
	return true, 0
}

// Ensure ConnectionGater implements the interface
var _ connmgr.ConnectionGater = (*ConnectionGater)(nil)
