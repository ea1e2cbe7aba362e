package wire

import (
	"errors"
	"io"
	"unicode/utf8"

	"github.com/blockberries/sigberry/pkg/sigerr"
	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultMaxFrameSize is the largest encoded message accepted by a Decoder
// unless configured otherwise.
const DefaultMaxFrameSize = 64 * 1024

const (
	fieldType protowire.Number = 1
	fieldData protowire.Number = 2
)

// messageSize returns the encoded size of m without the length prefix.
func messageSize(m Message) int {
	n := 0
	if m.Type != TypeSdpOffer {
		n += protowire.SizeTag(fieldType) + protowire.SizeVarint(uint64(int64(m.Type)))
	}
	if m.Data != nil {
		n += protowire.SizeTag(fieldData) + protowire.SizeBytes(len(*m.Data))
	}
	return n
}

// appendMessage appends the protobuf encoding of m. A zero type is
// omitted, as proto3 does for enum defaults.
func appendMessage(b []byte, m Message) []byte {
	if m.Type != TypeSdpOffer {
		b = protowire.AppendTag(b, fieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(m.Type)))
	}
	if m.Data != nil {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendString(b, *m.Data)
	}
	return b
}

// AppendFrame appends one length-prefixed frame holding m to dst.
func AppendFrame(dst []byte, m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return dst, err
	}
	size := messageSize(m)
	dst = protowire.AppendVarint(dst, uint64(size))
	return appendMessage(dst, m), nil
}

// Encode returns one length-prefixed frame holding m.
func Encode(m Message) ([]byte, error) {
	return AppendFrame(make([]byte, 0, FrameSize(m)), m)
}

// FrameSize returns the number of bytes Encode produces for m.
func FrameSize(m Message) int {
	size := messageSize(m)
	return protowire.SizeVarint(uint64(size)) + size
}

// unmarshal decodes one message body (without length prefix).
func unmarshal(b []byte) (Message, error) {
	var m Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, sigerr.Format("bad field tag", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, sigerr.Format("bad type field", protowire.ParseError(n))
			}
			m.Type = Type(int32(v))
			b = b[n:]

		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, sigerr.Format("bad data field", protowire.ParseError(n))
			}
			if !utf8.Valid(v) {
				return Message{}, sigerr.Formatf("data is not valid UTF-8")
			}
			s := string(v)
			m.Data = &s
			b = b[n:]

		case num == fieldType || num == fieldData:
			return Message{}, sigerr.Formatf("field %d has wire type %d", num, typ)

		default:
			// Unknown fields are skipped so newer peers can add fields.
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, sigerr.Format("bad unknown field", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !m.Type.Valid() {
		return Message{}, sigerr.Formatf("unknown message type %d", int32(m.Type))
	}
	if m.Data == nil {
		return Message{}, sigerr.Formatf("%s missing data", m.Type)
	}
	return m, nil
}

// DecodeFrame decodes exactly one complete frame. Trailing bytes after the
// frame are a format error.
func DecodeFrame(b []byte) (Message, error) {
	d := NewDecoder(0)
	d.Feed(b)
	m, ok, err := d.Next()
	if err != nil {
		return Message{}, err
	}
	if !ok {
		return Message{}, sigerr.Format("truncated frame", io.ErrUnexpectedEOF)
	}
	if d.Buffered() != 0 {
		return Message{}, sigerr.Formatf("%d trailing bytes after frame", d.Buffered())
	}
	return m, nil
}

// Decoder incrementally splits a byte stream into messages. Bytes are
// appended with Feed and complete messages pulled with Next; a partial
// frame stays buffered until the rest of it arrives.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf          []byte
	off          int
	maxFrameSize int
	err          error
}

// NewDecoder returns a decoder that rejects frames larger than
// maxFrameSize bytes. A non-positive limit selects DefaultMaxFrameSize.
func NewDecoder(maxFrameSize int) *Decoder {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Decoder{maxFrameSize: maxFrameSize}
}

// Feed appends p to the accumulation buffer.
func (d *Decoder) Feed(p []byte) {
	if len(p) == 0 {
		return
	}
	d.compact()
	d.buf = append(d.buf, p...)
}

// compact drops consumed bytes once they dominate the buffer.
func (d *Decoder) compact() {
	if d.off == 0 {
		return
	}
	if d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
		return
	}
	if d.off > len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
}

// Next returns the next complete message. It returns ok=false with a nil
// error when more bytes are needed. After a format error the decoder keeps
// returning that error.
func (d *Decoder) Next() (m Message, ok bool, err error) {
	if d.err != nil {
		return Message{}, false, d.err
	}

	pending := d.buf[d.off:]
	if len(pending) == 0 {
		return Message{}, false, nil
	}

	size, n := protowire.ConsumeVarint(pending)
	if n < 0 {
		perr := protowire.ParseError(n)
		if errors.Is(perr, io.ErrUnexpectedEOF) {
			return Message{}, false, nil
		}
		d.err = sigerr.Format("bad length prefix", perr)
		return Message{}, false, d.err
	}
	if size > uint64(d.maxFrameSize) {
		d.err = sigerr.Formatf("frame of %d bytes exceeds limit of %d", size, d.maxFrameSize)
		return Message{}, false, d.err
	}
	if uint64(len(pending)-n) < size {
		return Message{}, false, nil
	}

	body := pending[n : n+int(size)]
	m, err = unmarshal(body)
	if err != nil {
		d.err = err
		return Message{}, false, err
	}
	d.off += n + int(size)
	return m, true, nil
}

// Buffered returns the number of fed bytes not yet consumed by Next.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Reset discards buffered bytes and any sticky error.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
	d.err = nil
}
