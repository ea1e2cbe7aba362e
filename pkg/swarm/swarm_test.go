package swarm

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blockberries/sigberry/internal/observability"
	"github.com/blockberries/sigberry/pkg/behaviour"
	"github.com/blockberries/sigberry/pkg/connection"
	"github.com/blockberries/sigberry/pkg/protocol"
	"github.com/blockberries/sigberry/pkg/sigerr"
	"github.com/blockberries/sigberry/pkg/substream"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	observability.NopMetrics
	opened   atomic.Int64
	closed   atomic.Int64
	reaped   atomic.Int64
	emitted  atomic.Int64
	failures atomic.Int64
}

func (m *countingMetrics) ConnectionOpened(string) { m.opened.Add(1) }
func (m *countingMetrics) ConnectionClosed(string) { m.closed.Add(1) }
func (m *countingMetrics) ConnectionReaped() { m.reaped.Add(1) }
func (m *countingMetrics) EventEmitted(string) { m.emitted.Add(1) }
func (m *countingMetrics) SubstreamFailed(string, string) { m.failures.Add(1) }

func newMocknet(t *testing.T, n int) (mocknet.Mocknet, []host.Host) {
	t.Helper()
	mn := mocknet.New()
	t.Cleanup(func() { _ = mn.Close() })

	hosts := make([]host.Host, n)
	for i := range hosts {
		h, err := mn.GenPeer()
		require.NoError(t, err)
		hosts[i] = h
	}
	require.NoError(t, mn.LinkAll())
	return mn, hosts
}

func startSwarm(t *testing.T, h host.Host, cfg Config) *Swarm {
	t.Helper()
	s := New(h, cfg)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func waitConnected(t *testing.T, s *Swarm, p peer.ID) {
	t.Helper()
	require.Eventually(t, func() bool {
		cs, err := s.PeerConnections(context.Background(), p)
		return err == nil && len(cs) > 0
	}, eventually, tick)
}

func nextEvent(t *testing.T, s *Swarm) behaviour.Event {
	t.Helper()
	select {
	case e, ok := <-s.Events():
		require.True(t, ok, "event channel closed")
		return e
	case <-time.After(eventually):
		t.Fatal("timed out waiting for event")
		return behaviour.Event{}
	}
}

func TestSwarm_Exchange(t *testing.T) {
	mn, hosts := newMocknet(t, 2)
	ha, hb := hosts[0], hosts[1]
	sa := startSwarm(t, ha, Config{})
	sb := startSwarm(t, hb, Config{})

	_, err := mn.ConnectPeers(ha.ID(), hb.ID())
	require.NoError(t, err)
	waitConnected(t, sa, hb.ID())
	waitConnected(t, sb, ha.ID())

	ctx := context.Background()
	require.NoError(t, sa.SendOffer(ctx, hb.ID(), "v=0 offer"))

	e := nextEvent(t, sb)
	assert.Equal(t, behaviour.ReceivedSdpOffer, e.Kind)
	assert.Equal(t, ha.ID(), e.PeerID)
	assert.Equal(t, "v=0 offer", e.Payload)

	require.NoError(t, sb.SendAnswer(ctx, ha.ID(), "v=0 answer"))
	require.NoError(t, sb.SendIceCandidate(ctx, ha.ID(), "candidate:1"))
	require.NoError(t, sb.SendIceCandidate(ctx, ha.ID(), "candidate:2"))

	got := []behaviour.Event{nextEvent(t, sa), nextEvent(t, sa), nextEvent(t, sa)}
	assert.Equal(t, behaviour.ReceivedSdpAnswer, got[0].Kind)
	assert.Equal(t, "candidate:1", got[1].Payload)
	assert.Equal(t, "candidate:2", got[2].Payload)

	cs, err := sa.PeerConnections(ctx, hb.ID())
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, "outbound", cs[0].Direction)
	assert.Equal(t, uint64(1), cs[0].MessagesSent)
	assert.Equal(t, uint64(3), cs[0].MessagesReceived)
	assert.True(t, cs[0].KeepAlive)
	assert.NotNil(t, cs[0].RemoteAddr)
}

func TestSwarm_LargeOfferSmallReadBuffer(t *testing.T) {
	mn, hosts := newMocknet(t, 2)
	ha, hb := hosts[0], hosts[1]
	small := Config{Handler: connection.Options{
		Substream: substream.Options{ReadBufferSize: 512},
	}}
	sa := startSwarm(t, ha, small)
	sb := startSwarm(t, hb, small)

	_, err := mn.ConnectPeers(ha.ID(), hb.ID())
	require.NoError(t, err)
	waitConnected(t, sa, hb.ID())
	waitConnected(t, sb, ha.ID())

	offer := strings.Repeat("s", 30000)
	require.NoError(t, sa.SendOffer(context.Background(), hb.ID(), offer))

	e := nextEvent(t, sb)
	assert.Equal(t, behaviour.ReceivedSdpOffer, e.Kind)
	assert.Equal(t, offer, e.Payload)
}

func TestSwarm_SendToUnknownPeer(t *testing.T) {
	_, hosts := newMocknet(t, 2)
	sa := startSwarm(t, hosts[0], Config{})

	err := sa.SendOffer(context.Background(), hosts[1].ID(), "o")
	assert.ErrorIs(t, err, behaviour.ErrNotConnected)
}

func TestSwarm_NegotiationFailure(t *testing.T) {
	mn, hosts := newMocknet(t, 2)
	ha, hb := hosts[0], hosts[1]
	metrics := &countingMetrics{}
	sa := startSwarm(t, ha, Config{Metrics: metrics})

	// hb never registers the signaling protocol.
	_, err := mn.ConnectPeers(ha.ID(), hb.ID())
	require.NoError(t, err)
	waitConnected(t, sa, hb.ID())

	require.NoError(t, sa.SendOffer(context.Background(), hb.ID(), "o"))

	e := nextEvent(t, sa)
	assert.True(t, e.IsError())
	assert.True(t, errors.Is(e.Err, sigerr.ErrUpgrade))

	cs, err := sa.PeerConnections(context.Background(), hb.ID())
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.False(t, cs[0].KeepAlive)
	assert.Equal(t, int64(1), metrics.failures.Load())
}

func TestSwarm_ErrorsHeldWhenEventBufferFull(t *testing.T) {
	mn, hosts := newMocknet(t, 2)
	ha, hb := hosts[0], hosts[1]
	sa := startSwarm(t, ha, Config{EventBufferSize: 1})

	_, err := mn.ConnectPeers(ha.ID(), hb.ID())
	require.NoError(t, err)
	waitConnected(t, sa, hb.ID())

	// The first failure fills the buffer; the second must not be dropped.
	ctx := context.Background()
	require.NoError(t, sa.SendOffer(ctx, hb.ID(), "o1"))
	require.Eventually(t, func() bool {
		emitted, _ := sa.EventStats()
		return emitted == 1
	}, eventually, tick)
	require.NoError(t, sa.SendOffer(ctx, hb.ID(), "o2"))
	require.Eventually(t, func() bool {
		cs, err := sa.PeerConnections(ctx, hb.ID())
		return err == nil && len(cs) == 1 && !cs[0].KeepAlive && sa.events.Held() == 1
	}, eventually, tick)

	first, second := nextEvent(t, sa), nextEvent(t, sa)
	assert.True(t, first.IsError())
	assert.True(t, second.IsError())
	assert.True(t, errors.Is(second.Err, sigerr.ErrUpgrade))

	_, dropped := sa.EventStats()
	assert.Equal(t, uint64(0), dropped)
}

func TestSwarm_ReapsIdleConnections(t *testing.T) {
	mn, hosts := newMocknet(t, 2)
	ha, hb := hosts[0], hosts[1]
	metrics := &countingMetrics{}
	sa := startSwarm(t, ha, Config{Metrics: metrics, IdleTimeout: 20 * time.Millisecond})

	_, err := mn.ConnectPeers(ha.ID(), hb.ID())
	require.NoError(t, err)
	waitConnected(t, sa, hb.ID())

	require.NoError(t, sa.SendOffer(context.Background(), hb.ID(), "o"))
	e := nextEvent(t, sa)
	require.True(t, e.IsError())

	require.Eventually(t, func() bool {
		return ha.Network().Connectedness(hb.ID()) != network.Connected
	}, eventually, tick)
	require.Eventually(t, func() bool {
		cs, err := sa.PeerConnections(context.Background(), hb.ID())
		return err == nil && len(cs) == 0
	}, eventually, tick)
	assert.Positive(t, metrics.reaped.Load())
	assert.Equal(t, metrics.opened.Load(), metrics.closed.Load())
}

func TestSwarm_KeepsHealthyConnections(t *testing.T) {
	mn, hosts := newMocknet(t, 2)
	ha, hb := hosts[0], hosts[1]
	sa := startSwarm(t, ha, Config{IdleTimeout: 10 * time.Millisecond})
	startSwarm(t, hb, Config{})

	_, err := mn.ConnectPeers(ha.ID(), hb.ID())
	require.NoError(t, err)
	waitConnected(t, sa, hb.ID())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, network.Connected, ha.Network().Connectedness(hb.ID()))
}

func TestSwarm_DisconnectRemovesHandler(t *testing.T) {
	mn, hosts := newMocknet(t, 2)
	ha, hb := hosts[0], hosts[1]
	metrics := &countingMetrics{}
	sa := startSwarm(t, ha, Config{Metrics: metrics})
	startSwarm(t, hb, Config{})

	_, err := mn.ConnectPeers(ha.ID(), hb.ID())
	require.NoError(t, err)
	waitConnected(t, sa, hb.ID())

	require.NoError(t, ha.Network().ClosePeer(hb.ID()))
	require.Eventually(t, func() bool {
		cs, err := sa.Connections(context.Background())
		return err == nil && len(cs) == 0
	}, eventually, tick)
	assert.Equal(t, int64(1), metrics.closed.Load())

	err = sa.SendOffer(context.Background(), hb.ID(), "o")
	assert.ErrorIs(t, err, behaviour.ErrNotConnected)
}

func TestSwarm_AdoptsExistingConnections(t *testing.T) {
	mn, hosts := newMocknet(t, 2)
	ha, hb := hosts[0], hosts[1]

	_, err := mn.ConnectPeers(ha.ID(), hb.ID())
	require.NoError(t, err)

	sa := startSwarm(t, ha, Config{})
	waitConnected(t, sa, hb.ID())
}

func TestSwarm_Lifecycle(t *testing.T) {
	s := New(nil, Config{})
	assert.False(t, s.Running())

	err := s.SendOffer(context.Background(), "", "o")
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Start(), ErrClosed)
	assert.ErrorIs(t, s.SendOffer(context.Background(), "", "o"), ErrClosed)

	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestSwarm_StartTwice(t *testing.T) {
	_, hosts := newMocknet(t, 1)
	s := startSwarm(t, hosts[0], Config{})
	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)
	assert.True(t, s.Running())
	assert.False(t, s.Saturated())
	assert.Equal(t, 0, s.Backlog())

	require.NoError(t, s.Stop())
	assert.False(t, s.Running())
	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestSwarm_CanceledContext(t *testing.T) {
	_, hosts := newMocknet(t, 2)
	sa := startSwarm(t, hosts[0], Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sa.SendOffer(ctx, hosts[1].ID(), "o")
	assert.ErrorIs(t, err, context.Canceled)
}

func newTCPHost(t *testing.T) host.Host {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	h, err := protocol.NewHost(context.Background(), protocol.HostConfig{
		PrivateKey:       priv,
		ListenAddrs:      []multiaddr.Multiaddr{multiaddr.StringCast("/ip4/127.0.0.1/tcp/0")},
		ConnMgrLowWater:  10,
		ConnMgrHighWater: 20,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h.LibP2PHost()
}

func TestSwarm_TCPIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping libp2p integration test in short mode")
	}

	ha, hb := newTCPHost(t), newTCPHost(t)
	sa := startSwarm(t, ha, Config{})
	sb := startSwarm(t, hb, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, ha.Connect(ctx, peer.AddrInfo{ID: hb.ID(), Addrs: hb.Addrs()}))
	waitConnected(t, sa, hb.ID())

	require.NoError(t, sa.SendOffer(ctx, hb.ID(), "v=0 tcp offer"))
	e := nextEvent(t, sb)
	assert.Equal(t, behaviour.ReceivedSdpOffer, e.Kind)
	assert.Equal(t, "v=0 tcp offer", e.Payload)

	require.NoError(t, sb.SendAnswer(ctx, ha.ID(), "v=0 tcp answer"))
	e = nextEvent(t, sa)
	assert.Equal(t, behaviour.ReceivedSdpAnswer, e.Kind)
	assert.Equal(t, hb.ID(), e.PeerID)
}
