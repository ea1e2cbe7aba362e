package protocol

import "testing"

func TestSignalingProtocolID(t *testing.T) {
	if SignalingProtocolID != "/webrtc-signaling/0.0.1" {
		t.Errorf("SignalingProtocolID = %q, want %q", SignalingProtocolID, "/webrtc-signaling/0.0.1")
	}
}

func TestProtocols(t *testing.T) {
	got := Protocols()
	if len(got) != 1 || got[0] != SignalingProtocolID {
		t.Errorf("Protocols() = %v, want [%s]", got, SignalingProtocolID)
	}
}
