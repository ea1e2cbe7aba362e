// Package webrtcsig converts between signaling payloads and pion/webrtc
// values, and applies received signaling events to a PeerConnection.
//
// SDP payloads are the raw session description text. Candidate payloads
// are the JSON encoding of webrtc.ICECandidateInit, the form produced by
// ICECandidate.ToJSON.
package webrtcsig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/blockberries/sigberry/pkg/behaviour"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrWrongSDPType indicates a session description of the wrong type.
	ErrWrongSDPType = errors.New("wrong sdp type")

	// ErrEmptySDP indicates a session description with no SDP text.
	ErrEmptySDP = errors.New("empty sdp")

	// ErrUnexpectedEvent indicates an event that carries no payload of the
	// requested kind.
	ErrUnexpectedEvent = errors.New("unexpected event kind")
)

// Sender is the part of a signaling node used to reply to the peer.
type Sender interface {
	SendAnswer(ctx context.Context, p peer.ID, sdp string) error
	SendIceCandidate(ctx context.Context, p peer.ID, candidate string) error
}

// OfferPayload returns the payload for an SDP offer.
func OfferPayload(desc webrtc.SessionDescription) (string, error) {
	return sdpPayload(desc, webrtc.SDPTypeOffer)
}

// AnswerPayload returns the payload for an SDP answer.
func AnswerPayload(desc webrtc.SessionDescription) (string, error) {
	return sdpPayload(desc, webrtc.SDPTypeAnswer)
}

func sdpPayload(desc webrtc.SessionDescription, want webrtc.SDPType) (string, error) {
	if desc.Type != want {
		return "", fmt.Errorf("%w: got %s, want %s", ErrWrongSDPType, desc.Type, want)
	}
	if desc.SDP == "" {
		return "", ErrEmptySDP
	}
	return desc.SDP, nil
}

// CandidatePayload returns the payload for an ICE candidate.
func CandidatePayload(c webrtc.ICECandidateInit) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode candidate: %w", err)
	}
	return string(data), nil
}

// SessionDescription returns the session description carried by a
// ReceivedSdpOffer or ReceivedSdpAnswer event.
func SessionDescription(evt behaviour.Event) (webrtc.SessionDescription, error) {
	var typ webrtc.SDPType
	switch evt.Kind {
	case behaviour.ReceivedSdpOffer:
		typ = webrtc.SDPTypeOffer
	case behaviour.ReceivedSdpAnswer:
		typ = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s", ErrUnexpectedEvent, evt.Kind)
	}
	if evt.Payload == "" {
		return webrtc.SessionDescription{}, ErrEmptySDP
	}
	return webrtc.SessionDescription{Type: typ, SDP: evt.Payload}, nil
}

// Candidate returns the candidate carried by a ReceivedIceCandidate event.
func Candidate(evt behaviour.Event) (webrtc.ICECandidateInit, error) {
	if evt.Kind != behaviour.ReceivedIceCandidate {
		return webrtc.ICECandidateInit{}, fmt.Errorf("%w: %s", ErrUnexpectedEvent, evt.Kind)
	}
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(evt.Payload), &c); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("failed to decode candidate: %w", err)
	}
	return c, nil
}

// Apply feeds a received event into pc. An offer is answered through s.
// SignalingError events are returned as errors.
//
// Callers offering should likewise send the offer before calling
// SetLocalDescription on it.
func Apply(ctx context.Context, pc *webrtc.PeerConnection, s Sender, evt behaviour.Event) error {
	switch evt.Kind {
	case behaviour.ReceivedSdpOffer:
		desc, err := SessionDescription(evt)
		if err != nil {
			return err
		}
		if err := pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("failed to set remote offer: %w", err)
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("failed to create answer: %w", err)
		}
		payload, err := AnswerPayload(answer)
		if err != nil {
			return err
		}
		// The answer is queued before gathering starts so that it reaches
		// the peer ahead of any trickled candidate.
		if err := s.SendAnswer(ctx, evt.PeerID, payload); err != nil {
			return err
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("failed to set local answer: %w", err)
		}
		return nil

	case behaviour.ReceivedSdpAnswer:
		desc, err := SessionDescription(evt)
		if err != nil {
			return err
		}
		if err := pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("failed to set remote answer: %w", err)
		}
		return nil

	case behaviour.ReceivedIceCandidate:
		c, err := Candidate(evt)
		if err != nil {
			return err
		}
		if err := pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("failed to add candidate: %w", err)
		}
		return nil

	case behaviour.SignalingError:
		return evt.Err

	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedEvent, evt.Kind)
	}
}

// TrickleCandidates sends every local candidate gathered by pc to p.
// Send failures are passed to onError when it is non-nil.
func TrickleCandidates(ctx context.Context, pc *webrtc.PeerConnection, s Sender, p peer.ID, onError func(error)) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		payload, err := CandidatePayload(c.ToJSON())
		if err == nil {
			err = s.SendIceCandidate(ctx, p, payload)
		}
		if err != nil && onError != nil {
			onError(err)
		}
	})
}
