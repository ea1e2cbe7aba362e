package benchmark

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/multiformats/go-multiaddr"

	"github.com/blockberries/sigberry"
)

// Load Testing
// These tests measure performance under load and help identify bottlenecks.

// generateLoadTestKey generates an ed25519 private key for load testing.
func generateLoadTestKey(tb testing.TB) ed25519.PrivateKey {
	tb.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		tb.Fatalf("failed to generate key: %v", err)
	}
	return priv
}

// startLoadNode creates and starts a node listening on a random local port.
func startLoadNode(tb testing.TB, opts ...sigberry.ConfigOption) *sigberry.Node {
	tb.Helper()
	listenAddr, _ := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/0")
	cfg := sigberry.NewConfig(generateLoadTestKey(tb), []multiaddr.Multiaddr{listenAddr}, opts...)

	node, err := sigberry.New(cfg)
	if err != nil {
		tb.Fatalf("New failed: %v", err)
	}
	if err := node.Start(); err != nil {
		tb.Fatalf("Start failed: %v", err)
	}
	tb.Cleanup(func() { _ = node.Stop() })
	return node
}

// connectLoadNodes connects a to b and waits until both sides can signal.
func connectLoadNodes(tb testing.TB, a, b *sigberry.Node) {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.Connect(ctx, b.AddrInfo()); err != nil {
		tb.Fatalf("Connect failed: %v", err)
	}
	for ctx.Err() == nil {
		sa, errA := a.PeerStats(ctx, b.PeerID())
		sb, errB := b.PeerStats(ctx, a.PeerID())
		if errA == nil && errB == nil && sa.Connected && sb.Connected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatal("timed out waiting for signaling handlers")
}

// BenchmarkNodeStartStop measures node start/stop cycle performance.
func BenchmarkNodeStartStop(b *testing.B) {
	listenAddr, _ := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/0")

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		cfg := sigberry.NewConfig(generateLoadTestKey(b), []multiaddr.Multiaddr{listenAddr})
		node, err := sigberry.New(cfg)
		if err != nil {
			b.Fatalf("New failed: %v", err)
		}
		if err := node.Start(); err != nil {
			b.Fatalf("Start failed: %v", err)
		}
		_ = node.Stop()
	}
}

// BenchmarkHealthCheck measures IsHealthy performance.
func BenchmarkHealthCheck(b *testing.B) {
	node := startLoadNode(b)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = node.IsHealthy()
	}
}

// BenchmarkReadinessChecks measures the detailed readiness checks, which
// round-trip through the node's driver.
func BenchmarkReadinessChecks(b *testing.B) {
	node := startLoadNode(b)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = node.ReadinessChecks()
	}
}

func BenchmarkSendOffer_1KB(b *testing.B)  { benchmarkSendOffer(b, 1024) }
func BenchmarkSendOffer_8KB(b *testing.B)  { benchmarkSendOffer(b, 8*1024) }
func BenchmarkSendOffer_32KB(b *testing.B) { benchmarkSendOffer(b, 32*1024-1) }

// benchmarkSendOffer measures end-to-end delivery of offers between two
// connected nodes.
func benchmarkSendOffer(b *testing.B, size int) {
	sender := startLoadNode(b, sigberry.WithMaxOutboundQueue(-1))
	receiver := startLoadNode(b, sigberry.WithEventBufferSize(b.N+1))
	connectLoadNodes(b, sender, receiver)

	ctx := context.Background()
	offer := strings.Repeat("a", size)

	b.SetBytes(int64(size))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := sender.SendOffer(ctx, receiver.PeerID(), offer); err != nil {
			b.Fatalf("SendOffer failed: %v", err)
		}
	}
	for i := 0; i < b.N; i++ {
		select {
		case <-receiver.Events():
		case <-time.After(10 * time.Second):
			b.Fatalf("timed out after %d of %d offers", i, b.N)
		}
	}
}

// TestLoadScaling reports send latency as the number of connected peers
// grows.
func TestLoadScaling(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load scaling test in short mode")
	}

	hub := startLoadNode(t)
	ctx := context.Background()
	candidate := `{"candidate":"candidate:1 1 udp 2122260223 127.0.0.1 5000 typ host"}`

	var peers []*sigberry.Node
	peerCounts := []int{1, 5, 10, 25}

	t.Log("=== Load Scaling Report ===")
	t.Log("")

	for _, numPeers := range peerCounts {
		for len(peers) < numPeers {
			p := startLoadNode(t)
			connectLoadNodes(t, p, hub)
			peers = append(peers, p)
		}

		// Time one candidate to every peer
		start := time.Now()
		for _, p := range peers {
			if err := hub.SendIceCandidate(ctx, p.PeerID(), candidate); err != nil {
				t.Fatalf("SendIceCandidate failed: %v", err)
			}
		}
		sendDuration := time.Since(start)

		for _, p := range peers {
			select {
			case <-p.Events():
			case <-time.After(10 * time.Second):
				t.Fatal("timed out waiting for candidate")
			}
		}
		deliverDuration := time.Since(start)

		// Time stats snapshots
		start = time.Now()
		const statsIterations = 20
		for i := 0; i < statsIterations; i++ {
			if _, err := hub.AllPeerStats(ctx); err != nil {
				t.Fatalf("AllPeerStats failed: %v", err)
			}
		}
		statsDuration := time.Since(start) / statsIterations

		t.Logf("Peers: %3d | Send all: %v | Delivered: %v | Stats: %v",
			numPeers, sendDuration, deliverDuration, statsDuration)
	}

	t.Log("")
	t.Log("=== Memory Profile ===")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	t.Logf("Alloc: %d MB | TotalAlloc: %d MB | Sys: %d MB | NumGC: %d",
		m.Alloc/1024/1024, m.TotalAlloc/1024/1024, m.Sys/1024/1024, m.NumGC)
}

// TestConcurrentLoadThroughput measures signaling throughput with several
// goroutines sending to the same peer.
func TestConcurrentLoadThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping throughput test in short mode")
	}

	concurrencyLevels := []int{1, 2, 4, 8}
	const opsPerWorker = 50

	t.Log("=== Concurrent Throughput Report ===")
	t.Log("")

	for _, numWorkers := range concurrencyLevels {
		total := numWorkers * opsPerWorker
		sender := startLoadNode(t, sigberry.WithMaxOutboundQueue(-1))
		receiver := startLoadNode(t, sigberry.WithEventBufferSize(total))
		connectLoadNodes(t, sender, receiver)

		var ops atomic.Int64
		var wg sync.WaitGroup
		wg.Add(numWorkers)

		start := time.Now()

		for w := 0; w < numWorkers; w++ {
			go func(workerID int) {
				defer wg.Done()
				for i := 0; i < opsPerWorker; i++ {
					payload := fmt.Sprintf("candidate-%d-%d", workerID, i)
					if err := sender.SendIceCandidate(context.Background(), receiver.PeerID(), payload); err != nil {
						t.Errorf("SendIceCandidate failed: %v", err)
						return
					}
					ops.Add(1)
				}
			}(w)
		}

		wg.Wait()
		for i := int64(0); i < ops.Load(); i++ {
			select {
			case <-receiver.Events():
			case <-time.After(10 * time.Second):
				t.Fatalf("timed out after %d of %d events", i, ops.Load())
			}
		}
		duration := time.Since(start)

		opsPerSec := float64(ops.Load()) / duration.Seconds()
		t.Logf("Workers: %2d | Total ops: %6d | Duration: %v | Throughput: %.0f ops/sec",
			numWorkers, ops.Load(), duration, opsPerSec)
	}
}
