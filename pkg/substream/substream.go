package substream

import (
	"errors"
	"fmt"
	"io"

	"github.com/blockberries/sigberry/pkg/sigerr"
	"github.com/blockberries/sigberry/pkg/wire"
)

// DefaultReadBufferSize is the size of the scratch buffer used for each
// non-blocking read.
const DefaultReadBufferSize = 4096

// maxReadsPerPoll bounds how many reads one ReadMessages call performs once
// it has decoded a message, so a chatty peer cannot starve the writer of the
// same handler. The caller polls again for the rest.
const maxReadsPerPoll = 16

// ErrWouldBlock is returned by Stream implementations when a read or write
// cannot make progress without blocking.
var ErrWouldBlock = errors.New("substream: operation would block")

// ErrNotOpen is returned when I/O is attempted on a substream that is not
// in StateOpen.
var ErrNotOpen = errors.New("substream: not open")

// Stream is the non-blocking byte stream a negotiated substream runs on.
// It is supplied by the transport.
type Stream interface {
	// TryRead reads available bytes into p. It returns ErrWouldBlock when
	// no bytes are available and io.EOF at end of stream. A zero-length
	// read with a nil error is also treated as end of stream.
	TryRead(p []byte) (int, error)

	// TryWrite writes as much of p as fits without blocking. It returns
	// ErrWouldBlock when nothing could be written.
	TryWrite(p []byte) (int, error)

	// Close closes the stream gracefully.
	Close() error

	// Reset aborts the stream in both directions.
	Reset() error
}

// Options configures a Substream.
type Options struct {
	// MaxFrameSize is the largest frame accepted on reads.
	// Zero selects wire.DefaultMaxFrameSize.
	MaxFrameSize int

	// ReadBufferSize is the scratch buffer size for each read.
	// Zero selects DefaultReadBufferSize.
	ReadBufferSize int
}

// Substream tracks one direction of the signaling protocol on a
// connection. It is not safe for concurrent use; its owner drives it from
// a single goroutine.
type Substream struct {
	dir    Direction
	state  State
	stream Stream
	cause  error
	opts   Options

	// pending is the encoded frame of the message being written and
	// written the number of its bytes already accepted by the stream.
	pending []byte
	written int

	decoder *wire.Decoder
	readBuf []byte
}

// New returns an idle substream for the given direction.
func New(dir Direction, opts Options) *Substream {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = wire.DefaultMaxFrameSize
	}
	return &Substream{
		dir:  dir,
		opts: opts,
	}
}

// Direction returns the substream's direction.
func (s *Substream) Direction() Direction { return s.dir }

// State returns the current lifecycle state.
func (s *Substream) State() State { return s.state }

// Cause returns the error that moved the substream to StateErrored.
func (s *Substream) Cause() error { return s.cause }

// IsOpen reports whether the substream is in StateOpen.
func (s *Substream) IsOpen() bool { return s.state == StateOpen }

// HasPendingWrite reports whether a frame is partially written.
func (s *Substream) HasPendingWrite() bool { return s.pending != nil }

// Buffered returns the number of received bytes not yet decoded.
func (s *Substream) Buffered() int {
	if s.decoder == nil {
		return 0
	}
	return s.decoder.Buffered()
}

func (s *Substream) transition(target State) error {
	if err := s.state.ValidateTransition(target); err != nil {
		return fmt.Errorf("%s: %w", s.dir, err)
	}
	s.state = target
	return nil
}

// BeginNegotiation moves an idle substream to StateNegotiating.
func (s *Substream) BeginNegotiation() error {
	return s.transition(StateNegotiating)
}

// Open attaches a negotiated stream and moves to StateOpen.
func (s *Substream) Open(stream Stream) error {
	if err := s.transition(StateOpen); err != nil {
		return err
	}
	s.stream = stream
	s.cause = nil
	s.pending = nil
	s.written = 0
	s.decoder = wire.NewDecoder(s.opts.MaxFrameSize)
	if s.readBuf == nil {
		s.readBuf = make([]byte, s.opts.ReadBufferSize)
	}
	return nil
}

// Fail moves the substream to StateErrored with the given cause and
// aborts the underlying stream, if any. Failing an already terminal
// substream keeps the first cause.
func (s *Substream) Fail(cause error) {
	if s.state.IsTerminal() {
		return
	}
	s.state = StateErrored
	s.cause = cause
	s.release(true)
}

// Close moves an open substream to StateClosing and closes the stream.
func (s *Substream) Close() error {
	if err := s.transition(StateClosing); err != nil {
		return err
	}
	return s.release(false)
}

// Reset tears the substream down from any state and returns it to
// StateIdle, ready for a fresh negotiation.
func (s *Substream) Reset() {
	if s.stream != nil {
		_ = s.stream.Reset() // Ignore error - stream is discarded
	}
	s.stream = nil
	s.state = StateIdle
	s.cause = nil
	s.pending = nil
	s.written = 0
	s.decoder = nil
}

// release drops the stream, aborting it when abort is true.
func (s *Substream) release(abort bool) error {
	stream := s.stream
	s.stream = nil
	s.pending = nil
	s.written = 0
	if stream == nil {
		return nil
	}
	if abort {
		return stream.Reset()
	}
	return stream.Close()
}

// WriteMessage makes write progress on m. The first call encodes m; while
// the frame is only partially written, later calls continue that frame
// and the argument is ignored, so callers must keep passing the same
// message until done is true.
//
// A would-block condition returns done=false with a nil error. A write
// failure moves the substream to StateErrored and returns an IoError.
func (s *Substream) WriteMessage(m wire.Message) (done bool, err error) {
	if s.state != StateOpen {
		return false, ErrNotOpen
	}

	if s.pending == nil {
		frame, err := wire.Encode(m)
		if err != nil {
			return false, err
		}
		s.pending = frame
		s.written = 0
	}

	for s.written < len(s.pending) {
		n, werr := s.stream.TryWrite(s.pending[s.written:])
		s.written += n
		if werr != nil {
			if errors.Is(werr, ErrWouldBlock) {
				return false, nil
			}
			ioErr := sigerr.Io("write failed", werr)
			s.Fail(ioErr)
			return false, ioErr
		}
		if n == 0 {
			return false, nil
		}
	}

	s.pending = nil
	s.written = 0
	return true, nil
}

// ReadMessages performs non-blocking reads and returns every complete
// message now available. Partial frames stay buffered for the next call.
// The read budget only applies once a message has been decoded, so a frame
// larger than the budget is always read to completion.
//
// End of stream at a frame boundary moves the substream to StateClosing
// and returns a nil error. End of stream inside a frame, a read failure or
// a malformed frame moves it to StateErrored and returns the error along
// with any messages decoded before the failure.
func (s *Substream) ReadMessages() ([]wire.Message, error) {
	if s.state != StateOpen {
		return nil, ErrNotOpen
	}

	var (
		msgs    []wire.Message
		eof     bool
		readErr error
	)
	for i := 0; i < maxReadsPerPoll || len(msgs) == 0; i++ {
		n, err := s.stream.TryRead(s.readBuf)
		if n > 0 {
			s.decoder.Feed(s.readBuf[:n])
			var decodeErr error
			if msgs, decodeErr = s.decode(msgs); decodeErr != nil {
				s.Fail(decodeErr)
				return msgs, decodeErr
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, ErrWouldBlock):
			case errors.Is(err, io.EOF):
				eof = true
			default:
				readErr = err
			}
			break
		}
		if n == 0 {
			eof = true
			break
		}
	}

	if readErr != nil {
		ioErr := sigerr.Io("read failed", readErr)
		s.Fail(ioErr)
		return msgs, ioErr
	}
	if eof {
		if buffered := s.decoder.Buffered(); buffered > 0 {
			fmtErr := sigerr.Format(
				fmt.Sprintf("stream ended inside a frame with %d bytes buffered", buffered),
				io.ErrUnexpectedEOF,
			)
			s.Fail(fmtErr)
			return msgs, fmtErr
		}
		_ = s.Close() // Ignore error - peer already finished the stream
	}
	return msgs, nil
}

// decode appends every complete message in the decoder to msgs.
func (s *Substream) decode(msgs []wire.Message) ([]wire.Message, error) {
	for {
		m, ok, err := s.decoder.Next()
		if err != nil || !ok {
			return msgs, err
		}
		msgs = append(msgs, m)
	}
}
