/*
Package sigberry carries WebRTC signaling over libp2p connections.

Two peers that share a libp2p connection exchange SDP offers, SDP answers
and ICE candidates on the "/webrtc-signaling/0.0.1" protocol. Each side
opens its own outbound substream for what it sends and accepts the peer's
outbound substream as its inbound one. Payloads are opaque strings: sigberry
frames and routes them but never parses SDP or candidates.

# Features

  - One outbound and one inbound signaling substream per connection
  - Messages queued while the outbound substream is negotiated
  - Length-prefixed protobuf frames with a bounded frame size
  - Signaling errors classified as Io, Upgrade, Format or Protocol
  - Idle reaping of connections whose outbound signaling failed
  - Peer denylist enforced by a libp2p connection gater
  - Structured logging, Prometheus metrics and OpenTelemetry tracing
  - Thread-safe concurrent operations

# Quick Start

Create a node:

	_, privateKey, _ := ed25519.GenerateKey(rand.Reader)
	listenAddr, _ := multiaddr.NewMultiaddr("/ip4/0.0.0.0/tcp/9000")

	cfg := sigberry.NewConfig(privateKey, []multiaddr.Multiaddr{listenAddr})

	node, err := sigberry.New(cfg)
	if err != nil {
		// Handle error
	}

	node.Start()
	defer node.Stop()

Connect to a peer and send an offer:

	node.Connect(ctx, peerInfo)
	node.SendOffer(ctx, peerInfo.ID, offer.SDP)

Handle signaling events:

	for event := range node.Events() {
		switch event.Kind {
		case sigberry.ReceivedSdpOffer:
			// Apply the offer and reply with SendAnswer
		case sigberry.ReceivedSdpAnswer:
			// Apply the answer
		case sigberry.ReceivedIceCandidate:
			// Add the candidate
		case sigberry.SignalingError:
			log.Printf("signaling with %s failed: %v", event.PeerID, event.Err)
		}
	}

The webrtcsig package converts between these payloads and
github.com/pion/webrtc/v4 session descriptions and candidates.

# Delivery

A nil error from a Send method means the message was queued on the peer's
most recent connection. Messages are written in order once the outbound
substream opens. If negotiation fails the queued messages are discarded, a
SignalingError event with an Upgrade error is emitted and the connection is
no longer kept alive; the next Send retries negotiation.

Events from one connection arrive in the order the peer sent them. The
events channel is buffered; events are dropped when the application does
not consume them.

# Thread Safety

All public Node methods are thread-safe and can be called concurrently.
The Events channel is safe for concurrent reads from a single consumer.
*/
package sigberry
