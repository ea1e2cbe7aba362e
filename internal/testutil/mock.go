// Package testutil provides in-memory transport doubles for testing the
// signaling handler and behaviour without a network.
package testutil

import (
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/blockberries/sigberry/pkg/substream"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Sentinel errors for mock operations.
var (
	// ErrInjected is a generic failure used by tests that inject errors.
	ErrInjected = errors.New("injected failure")
)

// pipeBuffer carries bytes in one direction between two MockStreams.
type pipeBuffer struct {
	data   []byte
	closed bool
}

// MockStream is one end of an in-memory, non-blocking duplex pipe that
// implements substream.Stream.
type MockStream struct {
	mu *sync.Mutex

	in  *pipeBuffer
	out *pipeBuffer

	// writeLimit caps the bytes accepted per TryWrite (0 = unlimited).
	writeLimit int
	// capacity caps the bytes buffered towards the peer (0 = unlimited).
	capacity int

	readErr  error
	writeErr error

	closed bool
	reset  bool
	peer   *MockStream
}

var _ substream.Stream = (*MockStream)(nil)

// NewPipe returns two connected stream ends.
func NewPipe() (*MockStream, *MockStream) {
	mu := &sync.Mutex{}
	ab := &pipeBuffer{}
	ba := &pipeBuffer{}
	a := &MockStream{mu: mu, in: ba, out: ab}
	b := &MockStream{mu: mu, in: ab, out: ba}
	a.peer = b
	b.peer = a
	return a, b
}

// TryRead implements substream.Stream.
func (s *MockStream) TryRead(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return 0, s.readErr
	}
	if s.reset {
		return 0, io.ErrClosedPipe
	}
	if len(s.in.data) > 0 {
		n := copy(p, s.in.data)
		s.in.data = s.in.data[n:]
		return n, nil
	}
	if s.in.closed {
		return 0, io.EOF
	}
	return 0, substream.ErrWouldBlock
}

// TryWrite implements substream.Stream.
func (s *MockStream) TryWrite(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if s.closed || s.reset || s.peer.reset {
		return 0, io.ErrClosedPipe
	}

	n := len(p)
	if s.writeLimit > 0 && n > s.writeLimit {
		n = s.writeLimit
	}
	if s.capacity > 0 {
		room := s.capacity - len(s.out.data)
		if room <= 0 {
			return 0, substream.ErrWouldBlock
		}
		if n > room {
			n = room
		}
	}
	s.out.data = append(s.out.data, p[:n]...)
	return n, nil
}

// Close implements substream.Stream. The peer reads EOF once it has
// drained the buffered bytes.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.out.closed = true
	return nil
}

// Reset implements substream.Stream.
func (s *MockStream) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset = true
	s.closed = true
	s.out.closed = true
	s.in.closed = true
	return nil
}

// Peer returns the other end of the pipe.
func (s *MockStream) Peer() *MockStream {
	return s.peer
}

// Inject appends raw bytes to what this end will read, as if the peer
// had written them.
func (s *MockStream) Inject(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.in.data = append(s.in.data, b...)
}

// Drain removes and returns every byte written by this end that the peer
// has not read yet.
func (s *MockStream) Drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.out.data
	s.out.data = nil
	return out
}

// SetWriteLimit caps the number of bytes accepted by each TryWrite.
func (s *MockStream) SetWriteLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLimit = n
}

// SetCapacity caps the number of unread bytes this end may buffer towards
// its peer. Writes beyond it would block.
func (s *MockStream) SetCapacity(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = n
}

// FailReads makes every later TryRead return err.
func (s *MockStream) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// FailWrites makes every later TryWrite return err.
func (s *MockStream) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// IsClosed reports whether Close or Reset was called on this end.
func (s *MockStream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// IsReset reports whether Reset was called on this end.
func (s *MockStream) IsReset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reset
}

// MockRequester records outbound substream requests from a handler.
type MockRequester struct {
	Requests int
}

// RequestOutboundSubstream records one request.
func (r *MockRequester) RequestOutboundSubstream() {
	r.Requests++
}

// NewPeerID returns a fresh, valid peer ID backed by an Ed25519 key.
func NewPeerID(t testing.TB) peer.ID {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to derive peer ID: %v", err)
	}
	return id
}
