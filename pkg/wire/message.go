// Package wire implements the signaling message schema and its
// length-prefixed framing.
//
// A frame is a uvarint byte length followed by one protobuf-encoded
// message:
//
//	message Message {
//	  enum Type { SDP_OFFER = 0; SDP_ANSWER = 1; ICE_CANDIDATE = 2; }
//	  Type type = 1;
//	  optional string data = 2;
//	}
//
// The data field is optional on the wire but required by the protocol:
// decoding a message without it is a format error.
package wire

import (
	"fmt"
	"unicode/utf8"

	"github.com/blockberries/sigberry/pkg/sigerr"
)

// Type identifies the kind of signaling payload.
type Type int32

const (
	// TypeSdpOffer carries an SDP offer.
	TypeSdpOffer Type = 0

	// TypeSdpAnswer carries an SDP answer.
	TypeSdpAnswer Type = 1

	// TypeIceCandidate carries one ICE candidate.
	TypeIceCandidate Type = 2
)

// String returns the schema name of the type.
func (t Type) String() string {
	switch t {
	case TypeSdpOffer:
		return "SdpOffer"
	case TypeSdpAnswer:
		return "SdpAnswer"
	case TypeIceCandidate:
		return "IceCandidate"
	default:
		return fmt.Sprintf("Type(%d)", int32(t))
	}
}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	return t >= TypeSdpOffer && t <= TypeIceCandidate
}

// Message is one signaling message. Data is a pointer so that an absent
// field can be told apart from an empty string.
type Message struct {
	Type Type
	Data *string
}

// NewOffer returns an SDP offer message.
func NewOffer(sdp string) Message {
	return Message{Type: TypeSdpOffer, Data: &sdp}
}

// NewAnswer returns an SDP answer message.
func NewAnswer(sdp string) Message {
	return Message{Type: TypeSdpAnswer, Data: &sdp}
}

// NewIceCandidate returns an ICE candidate message.
func NewIceCandidate(candidate string) Message {
	return Message{Type: TypeIceCandidate, Data: &candidate}
}

// Payload returns the data field and whether it was present.
func (m Message) Payload() (string, bool) {
	if m.Data == nil {
		return "", false
	}
	return *m.Data, true
}

// Equal reports whether two messages carry the same type and data.
func (m Message) Equal(other Message) bool {
	if m.Type != other.Type {
		return false
	}
	a, aok := m.Payload()
	b, bok := other.Payload()
	return aok == bok && a == b
}

// String returns a short description that never includes the payload.
func (m Message) String() string {
	if m.Data == nil {
		return fmt.Sprintf("%s(no data)", m.Type)
	}
	return fmt.Sprintf("%s(%d bytes)", m.Type, len(*m.Data))
}

// Validate checks that the message can be put on the wire and would be
// accepted by a decoder.
func (m Message) Validate() error {
	if !m.Type.Valid() {
		return sigerr.Formatf("unknown message type %d", int32(m.Type))
	}
	if m.Data == nil {
		return sigerr.Formatf("%s missing data", m.Type)
	}
	if !utf8.ValidString(*m.Data) {
		return sigerr.Formatf("%s data is not valid UTF-8", m.Type)
	}
	return nil
}
