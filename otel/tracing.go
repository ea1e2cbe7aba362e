// Package otel provides OpenTelemetry tracing for sigberry nodes.
//
// # Span Hierarchy
//
// The following spans are created during normal operation:
//
//	sigberry.connect              (Node.Connect)
//	sigberry.negotiate            (one per outbound substream)
//	sigberry.send                 (Node.SendOffer/SendAnswer/SendIceCandidate)
//	sigberry.receive              (one per delivered event)
//	sigberry.disconnect
//
// # Attributes
//
// Common span attributes include:
//   - peer.id: The remote peer's ID
//   - connection.id: The libp2p connection the span relates to
//   - connection.direction: "inbound" or "outbound"
//   - message.type: SdpOffer, SdpAnswer or IceCandidate
//   - message.size: Payload size in bytes
//   - negotiation.result: "success" or "failure"
//
// # Example Usage
//
//	tp := otel.GetTracerProvider()
//	cfg := sigberry.NewConfig(key, addrs, sigberry.WithTracerProvider(tp))
//	node, err := sigberry.New(cfg)
package otel

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the name used for the OpenTelemetry tracer.
	TracerName = "github.com/blockberries/sigberry"

	// Span names
	SpanConnect    = "sigberry.connect"
	SpanNegotiate  = "sigberry.negotiate"
	SpanSend       = "sigberry.send"
	SpanReceive    = "sigberry.receive"
	SpanDisconnect = "sigberry.disconnect"

	// Attribute keys
	AttrPeerID              = "peer.id"
	AttrConnectionID        = "connection.id"
	AttrConnectionDirection = "connection.direction"
	AttrMessageType         = "message.type"
	AttrMessageSize         = "message.size"
	AttrNegotiationResult   = "negotiation.result"
	AttrErrorMessage        = "error.message"
)

// Tracer creates spans for connection setup, substream negotiation and
// message flow.
//
// Tracer is safe for concurrent use.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the given TracerProvider.
// If provider is nil, a no-op tracer is used.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(TracerName)}
	}
	return &Tracer{tracer: provider.Tracer(TracerName)}
}

// StartConnect starts a span for a connection attempt.
func (t *Tracer) StartConnect(ctx context.Context, peerID peer.ID) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanConnect,
		trace.WithAttributes(
			attribute.String(AttrPeerID, peerID.String()),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartNegotiate starts a span for opening and negotiating a substream.
func (t *Tracer) StartNegotiate(ctx context.Context, peerID peer.ID, connID, direction string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanNegotiate,
		trace.WithAttributes(
			attribute.String(AttrPeerID, peerID.String()),
			attribute.String(AttrConnectionID, connID),
			attribute.String(AttrConnectionDirection, direction),
		),
	)
}

// StartSend starts a span for queueing a message to a peer.
func (t *Tracer) StartSend(ctx context.Context, peerID peer.ID, msgType string, size int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanSend,
		trace.WithAttributes(
			attribute.String(AttrPeerID, peerID.String()),
			attribute.String(AttrMessageType, msgType),
			attribute.Int(AttrMessageSize, size),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// StartReceive starts a span for delivering a received message.
func (t *Tracer) StartReceive(ctx context.Context, peerID peer.ID, msgType string, size int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanReceive,
		trace.WithAttributes(
			attribute.String(AttrPeerID, peerID.String()),
			attribute.String(AttrMessageType, msgType),
			attribute.Int(AttrMessageSize, size),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// StartDisconnect starts a span for disconnection.
func (t *Tracer) StartDisconnect(ctx context.Context, peerID peer.ID) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanDisconnect,
		trace.WithAttributes(
			attribute.String(AttrPeerID, peerID.String()),
		),
	)
}

// RecordNegotiationResult records the outcome of a negotiation on span.
func (t *Tracer) RecordNegotiationResult(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(
			attribute.String(AttrNegotiationResult, "failure"),
			attribute.String(AttrErrorMessage, err.Error()),
		)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(attribute.String(AttrNegotiationResult, "success"))
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error on the given span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// EndSpan ends a span, optionally recording an error.
func (t *Tracer) EndSpan(span trace.Span, err error) {
	t.RecordError(span, err)
	span.End()
}
