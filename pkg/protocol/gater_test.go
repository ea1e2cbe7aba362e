package protocol

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// mockConnMultiaddrs implements network.ConnMultiaddrs for testing.
type mockConnMultiaddrs struct {
	local  multiaddr.Multiaddr
	remote multiaddr.Multiaddr
}

func (m *mockConnMultiaddrs) LocalMultiaddr() multiaddr.Multiaddr  { return m.local }
func (m *mockConnMultiaddrs) RemoteMultiaddr() multiaddr.Multiaddr { return m.remote }

// mockConn implements network.Conn for testing.
type mockConn struct {
	network.Conn
	remotePeer peer.ID
}

func (m *mockConn) RemotePeer() peer.ID { return m.remotePeer }

func mustParsePeerID(t *testing.T, s string) peer.ID {
	t.Helper()
	id, err := peer.Decode(s)
	if err != nil {
		t.Fatalf("failed to parse peer ID: %v", err)
	}
	return id
}

func mustParseMultiaddr(t *testing.T, s string) multiaddr.Multiaddr {
	t.Helper()
	ma, err := multiaddr.NewMultiaddr(s)
	if err != nil {
		t.Fatalf("failed to parse multiaddr: %v", err)
	}
	return ma
}

const testPeer = "QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N"

func TestDenylist(t *testing.T) {
	list := NewDenylist()
	peerID := mustParsePeerID(t, testPeer)

	if list.IsDenied(peerID) {
		t.Error("new denylist should not deny anyone")
	}

	list.Deny(peerID)
	list.Deny(peerID)
	if !list.IsDenied(peerID) {
		t.Error("peer should be denied")
	}
	if list.Len() != 1 {
		t.Errorf("Len() = %d, want 1", list.Len())
	}

	list.Allow(peerID)
	if list.IsDenied(peerID) {
		t.Error("peer should be allowed again")
	}
}

func TestConnectionGater_InterceptPeerDial(t *testing.T) {
	list := NewDenylist()
	gater := NewConnectionGater(list)
	peerID := mustParsePeerID(t, testPeer)

	if !gater.InterceptPeerDial(peerID) {
		t.Error("InterceptPeerDial should allow a peer that is not denied")
	}

	list.Deny(peerID)
	if gater.InterceptPeerDial(peerID) {
		t.Error("InterceptPeerDial should block a denied peer")
	}

	list.Allow(peerID)
	if !gater.InterceptPeerDial(peerID) {
		t.Error("InterceptPeerDial should allow a peer removed from the denylist")
	}
}

func TestConnectionGater_InterceptAddrDial(t *testing.T) {
	list := NewDenylist()
	gater := NewConnectionGater(list)
	peerID := mustParsePeerID(t, testPeer)
	addr := mustParseMultiaddr(t, "/ip4/127.0.0.1/tcp/9000")

	if !gater.InterceptAddrDial(peerID, addr) {
		t.Error("InterceptAddrDial should allow a peer that is not denied")
	}

	list.Deny(peerID)
	if gater.InterceptAddrDial(peerID, addr) {
		t.Error("InterceptAddrDial should block a denied peer")
	}
}

func TestConnectionGater_InterceptAccept(t *testing.T) {
	gater := NewConnectionGater(NewDenylist())
	addrs := &mockConnMultiaddrs{
		local:  mustParseMultiaddr(t, "/ip4/127.0.0.1/tcp/9000"),
		remote: mustParseMultiaddr(t, "/ip4/192.168.1.1/tcp/9001"),
	}

	if !gater.InterceptAccept(addrs) {
		t.Error("InterceptAccept should always allow (peer ID not yet known)")
	}
}

func TestConnectionGater_InterceptSecured(t *testing.T) {
	list := NewDenylist()
	gater := NewConnectionGater(list)
	peerID := mustParsePeerID(t, testPeer)
	addrs := &mockConnMultiaddrs{
		local:  mustParseMultiaddr(t, "/ip4/127.0.0.1/tcp/9000"),
		remote: mustParseMultiaddr(t, "/ip4/192.168.1.1/tcp/9001"),
	}

	for _, dir := range []network.Direction{network.DirInbound, network.DirOutbound} {
		if !gater.InterceptSecured(dir, peerID, addrs) {
			t.Errorf("InterceptSecured should allow a peer that is not denied (%s)", dir)
		}
	}

	list.Deny(peerID)
	for _, dir := range []network.Direction{network.DirInbound, network.DirOutbound} {
		if gater.InterceptSecured(dir, peerID, addrs) {
			t.Errorf("InterceptSecured should block a denied peer (%s)", dir)
		}
	}
}

func TestConnectionGater_InterceptUpgraded(t *testing.T) {
	list := NewDenylist()
	gater := NewConnectionGater(list)
	peerID := mustParsePeerID(t, testPeer)
	conn := &mockConn{remotePeer: peerID}

	if allow, _ := gater.InterceptUpgraded(conn); !allow {
		t.Error("InterceptUpgraded should allow a peer that is not denied")
	}

	list.Deny(peerID)
	if allow, _ := gater.InterceptUpgraded(conn); allow {
		t.Error("InterceptUpgraded should block a denied peer")
	}
}
