package swarm

import (
	"errors"
	"io"
	"sync"

	"github.com/blockberries/sigberry/internal/pool"
	"github.com/blockberries/sigberry/pkg/substream"
	"github.com/libp2p/go-libp2p/core/network"
)

const (
	// readChunkSize is the size of each blocking read from libp2p.
	readChunkSize = pool.MediumBufferSize

	// maxWriteChunk bounds how much of a frame one TryWrite accepts.
	maxWriteChunk = 16 * 1024
)

// pumpedStream adapts a blocking libp2p stream to the non-blocking
// substream.Stream contract. One goroutine reads ahead into a bounded
// buffer and one goroutine writes the single in-flight chunk. Both call
// wake whenever the actor may make progress.
type pumpedStream struct {
	s    network.Stream
	wake func()

	mu       sync.Mutex
	rbuf     []byte
	rerr     error
	rlimit   int
	wbuf     *[]byte
	werr     error
	closing  bool
	finished bool

	readable chan struct{} // buffer space freed
	writable chan struct{} // chunk queued or close requested
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

var _ substream.Stream = (*pumpedStream)(nil)

// newPumpedStream starts the pump goroutines for s. readLimit bounds the
// bytes buffered ahead of the actor.
func newPumpedStream(s network.Stream, readLimit int, wake func()) *pumpedStream {
	if readLimit < readChunkSize {
		readLimit = readChunkSize
	}
	p := &pumpedStream{
		s:        s,
		wake:     wake,
		rlimit:   readLimit,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	p.wg.Add(2)
	go p.readLoop()
	go p.writeLoop()
	return p
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *pumpedStream) readLoop() {
	defer p.wg.Done()

	buf := pool.GetBuffer(readChunkSize)
	defer pool.PutBuffer(buf)
	chunk := (*buf)[:cap(*buf)]

	for {
		p.mu.Lock()
		for len(p.rbuf) >= p.rlimit {
			p.mu.Unlock()
			select {
			case <-p.readable:
			case <-p.done:
				return
			}
			p.mu.Lock()
		}
		p.mu.Unlock()

		n, err := p.s.Read(chunk)

		p.mu.Lock()
		if n > 0 {
			p.rbuf = append(p.rbuf, chunk[:n]...)
		}
		if err != nil {
			p.rerr = err
		}
		p.mu.Unlock()

		p.wake()
		if err != nil {
			return
		}
	}
}

func (p *pumpedStream) writeLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.writable:
		case <-p.done:
			return
		}

		p.mu.Lock()
		buf := p.wbuf
		closing := p.closing
		p.mu.Unlock()

		if buf != nil {
			_, err := p.s.Write(*buf)
			pool.PutBuffer(buf)

			p.mu.Lock()
			p.wbuf = nil
			if err != nil {
				p.werr = err
			}
			closing = p.closing
			p.mu.Unlock()
			p.wake()

			if err != nil {
				return
			}
		}

		if closing {
			_ = p.s.Close() // Ignore error - nothing left to flush
			p.finish()
			return
		}
	}
}

// TryRead implements substream.Stream.
func (p *pumpedStream) TryRead(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.rbuf) > 0 {
		n := copy(b, p.rbuf)
		p.rbuf = p.rbuf[n:]
		if len(p.rbuf) == 0 {
			p.rbuf = nil
		}
		signal(p.readable)
		return n, nil
	}
	if p.rerr != nil {
		if errors.Is(p.rerr, io.EOF) {
			return 0, io.EOF
		}
		return 0, p.rerr
	}
	return 0, substream.ErrWouldBlock
}

// TryWrite implements substream.Stream. It accepts up to maxWriteChunk
// bytes when no earlier chunk is still in flight.
func (p *pumpedStream) TryWrite(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.werr != nil {
		return 0, p.werr
	}
	if p.closing || p.finished {
		return 0, io.ErrClosedPipe
	}
	if p.wbuf != nil {
		return 0, substream.ErrWouldBlock
	}
	if len(b) > maxWriteChunk {
		b = b[:maxWriteChunk]
	}
	p.wbuf = pool.CopyBuffer(b)
	signal(p.writable)
	return len(b), nil
}

// Close implements substream.Stream. The in-flight chunk is flushed before
// the stream is closed.
func (p *pumpedStream) Close() error {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()
	signal(p.writable)
	return nil
}

// Reset implements substream.Stream.
func (p *pumpedStream) Reset() error {
	err := p.s.Reset()
	p.finish()
	return err
}

func (p *pumpedStream) finish() {
	p.once.Do(func() {
		p.mu.Lock()
		p.finished = true
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *pumpedStream) isFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// abort resets the stream and waits for both pump goroutines to exit.
func (p *pumpedStream) abort() {
	_ = p.Reset()
	p.wg.Wait()
}
