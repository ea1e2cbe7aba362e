package sigberry

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/blockberries/sigberry/internal/flow"
	"github.com/blockberries/sigberry/pkg/connection"
	"github.com/blockberries/sigberry/pkg/protocol"
	"github.com/blockberries/sigberry/pkg/substream"
	"github.com/blockberries/sigberry/pkg/wire"
	"github.com/multiformats/go-multiaddr"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultMaxOutboundQueue     = connection.DefaultMaxOutboundQueue
	DefaultMaxFrameSize         = wire.DefaultMaxFrameSize
	DefaultMaxPayloadSize       = 32 * 1024
	DefaultReadBufferSize       = substream.DefaultReadBufferSize
	DefaultEventBufferSize      = 1000
	DefaultCommandHighWatermark = flow.DefaultHighWatermark
	DefaultCommandLowWatermark  = flow.DefaultLowWatermark
	DefaultNegotiationTimeout   = 10 * time.Second
	DefaultIdleTimeout          = 30 * time.Second
	DefaultConnMgrLowWater      = 100
	DefaultConnMgrHighWater     = 400
)

// Config holds the configuration for a sigberry node.
type Config struct {
	// PrivateKey is the Ed25519 private key for this node's identity.
	// This is required and must be provided by the application.
	PrivateKey ed25519.PrivateKey

	// ListenAddrs are the multiaddresses this node will listen on.
	// At least one address is required.
	ListenAddrs []multiaddr.Multiaddr

	// MaxOutboundQueue bounds the messages queued per connection while
	// the outbound substream is negotiated or busy. Negative means
	// unbounded.
	MaxOutboundQueue int

	// MaxFrameSize is the largest inbound frame accepted.
	MaxFrameSize int

	// MaxPayloadSize is the largest SDP or candidate string accepted by
	// the Send methods. It must fit in MaxFrameSize.
	MaxPayloadSize int

	// ReadBufferSize is the scratch buffer size for each stream read.
	ReadBufferSize int

	// EventBufferSize is the buffer size for the events channel.
	EventBufferSize int

	// CommandHighWatermark and CommandLowWatermark bound the number of
	// application calls waiting for the node's driver. Send calls block
	// above the high watermark until the backlog falls to the low one.
	CommandHighWatermark int
	CommandLowWatermark  int

	// NegotiationTimeout bounds opening and negotiating one outbound
	// signaling stream.
	NegotiationTimeout time.Duration

	// IdleTimeout is how long a connection whose outbound signaling
	// failed stays open without activity. Negative disables reaping.
	IdleTimeout time.Duration

	// ConnMgrLowWater and ConnMgrHighWater configure libp2p's connection
	// manager.
	ConnMgrLowWater  int
	ConnMgrHighWater int

	// EnableNAT turns on NAT traversal in the libp2p host.
	EnableNAT bool

	// Denylist refuses connections to the peers it contains. Optional.
	Denylist *protocol.Denylist

	// Logger is the logger for the node. If nil, a NopLogger is used.
	// The logger must be safe for concurrent use.
	Logger Logger

	// Metrics is the metrics collector for the node. If nil, a NopMetrics is used.
	// The metrics collector must be safe for concurrent use.
	Metrics Metrics

	// TracerProvider supplies OpenTelemetry tracers. If nil, tracing is
	// disabled.
	TracerProvider trace.TracerProvider
}

// Validate checks that the configuration is valid and returns an error
// describing any problems found.
func (c *Config) Validate() error {
	if c.PrivateKey == nil {
		return ErrMissingPrivateKey
	}
	if len(c.PrivateKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidPrivateKey, ed25519.PrivateKeySize, len(c.PrivateKey))
	}
	if len(c.ListenAddrs) == 0 {
		return ErrMissingListenAddrs
	}
	if c.MaxFrameSize < 0 {
		return fmt.Errorf("%w: max frame size cannot be negative", ErrInvalidConfig)
	}
	if c.MaxPayloadSize < 0 {
		return fmt.Errorf("%w: max payload size cannot be negative", ErrInvalidConfig)
	}
	if c.MaxFrameSize > 0 && c.MaxPayloadSize > 0 && c.MaxPayloadSize+frameOverhead > c.MaxFrameSize {
		return fmt.Errorf("%w: max payload size %d does not fit in max frame size %d",
			ErrInvalidConfig, c.MaxPayloadSize, c.MaxFrameSize)
	}
	if c.ReadBufferSize < 0 {
		return fmt.Errorf("%w: read buffer size cannot be negative", ErrInvalidConfig)
	}
	if c.EventBufferSize < 0 {
		return fmt.Errorf("%w: event buffer size cannot be negative", ErrInvalidConfig)
	}
	if c.CommandHighWatermark < 0 || c.CommandLowWatermark < 0 {
		return fmt.Errorf("%w: command watermarks cannot be negative", ErrInvalidConfig)
	}
	if c.CommandHighWatermark > 0 && c.CommandLowWatermark >= c.CommandHighWatermark {
		return fmt.Errorf("%w: command low watermark must be below the high watermark", ErrInvalidConfig)
	}
	if c.NegotiationTimeout < 0 {
		return fmt.Errorf("%w: negotiation timeout cannot be negative", ErrInvalidConfig)
	}
	if c.ConnMgrLowWater < 0 || c.ConnMgrHighWater < 0 {
		return fmt.Errorf("%w: connection manager watermarks cannot be negative", ErrInvalidConfig)
	}
	if c.ConnMgrHighWater > 0 && c.ConnMgrHighWater < c.ConnMgrLowWater {
		return fmt.Errorf("%w: connection manager high water cannot be less than low water", ErrInvalidConfig)
	}
	return nil
}

// frameOverhead is the most bytes framing adds around a payload: two
// varint lengths, two field tags and the type.
const frameOverhead = 5 + 5 + 1 + 1 + 1

// applyDefaults sets default values for any unset optional fields.
func (c *Config) applyDefaults() {
	if c.MaxOutboundQueue == 0 {
		c.MaxOutboundQueue = DefaultMaxOutboundQueue
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = min(DefaultMaxPayloadSize, c.MaxFrameSize-frameOverhead)
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.EventBufferSize == 0 {
		c.EventBufferSize = DefaultEventBufferSize
	}
	if c.CommandHighWatermark == 0 {
		c.CommandHighWatermark = DefaultCommandHighWatermark
	}
	if c.CommandLowWatermark == 0 {
		c.CommandLowWatermark = min(DefaultCommandLowWatermark, c.CommandHighWatermark/2)
	}
	if c.NegotiationTimeout == 0 {
		c.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ConnMgrLowWater == 0 {
		c.ConnMgrLowWater = DefaultConnMgrLowWater
	}
	if c.ConnMgrHighWater == 0 {
		c.ConnMgrHighWater = DefaultConnMgrHighWater
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
}

// ConfigOption is a functional option for configuring a Node.
type ConfigOption func(*Config)

// WithMaxOutboundQueue sets the per-connection outbound queue bound.
// A negative value leaves the queue unbounded.
func WithMaxOutboundQueue(n int) ConfigOption {
	return func(c *Config) {
		c.MaxOutboundQueue = n
	}
}

// WithMaxFrameSize sets the largest accepted inbound frame.
func WithMaxFrameSize(size int) ConfigOption {
	return func(c *Config) {
		c.MaxFrameSize = size
	}
}

// WithMaxPayloadSize sets the largest payload the Send methods accept.
func WithMaxPayloadSize(size int) ConfigOption {
	return func(c *Config) {
		c.MaxPayloadSize = size
	}
}

// WithReadBufferSize sets the scratch buffer size for stream reads.
func WithReadBufferSize(size int) ConfigOption {
	return func(c *Config) {
		c.ReadBufferSize = size
	}
}

// WithEventBufferSize sets the buffer size for the events channel.
func WithEventBufferSize(size int) ConfigOption {
	return func(c *Config) {
		c.EventBufferSize = size
	}
}

// WithCommandWatermarks sets the high and low watermarks of the command
// backlog.
func WithCommandWatermarks(high, low int) ConfigOption {
	return func(c *Config) {
		c.CommandHighWatermark = high
		c.CommandLowWatermark = low
	}
}

// WithNegotiationTimeout sets the outbound negotiation timeout.
func WithNegotiationTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.NegotiationTimeout = d
	}
}

// WithIdleTimeout sets how long an unneeded connection may stay idle.
// A negative duration disables reaping.
func WithIdleTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.IdleTimeout = d
	}
}

// WithConnMgrWatermarks sets libp2p's connection manager watermarks.
func WithConnMgrWatermarks(low, high int) ConfigOption {
	return func(c *Config) {
		c.ConnMgrLowWater = low
		c.ConnMgrHighWater = high
	}
}

// WithNAT enables NAT traversal.
func WithNAT() ConfigOption {
	return func(c *Config) {
		c.EnableNAT = true
	}
}

// WithDenylist refuses connections to peers in d.
func WithDenylist(d *protocol.Denylist) ConfigOption {
	return func(c *Config) {
		c.Denylist = d
	}
}

// WithLogger sets the logger for the node.
// The logger must be safe for concurrent use.
func WithLogger(l Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics sets the metrics collector for the node.
// The metrics collector must be safe for concurrent use.
func WithMetrics(m Metrics) ConfigOption {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithTracerProvider enables OpenTelemetry tracing.
func WithTracerProvider(tp trace.TracerProvider) ConfigOption {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}

// NewConfig creates a new Config with the required fields and applies
// any provided options. It applies defaults for unset optional fields
// but does not validate the configuration.
func NewConfig(
	privateKey ed25519.PrivateKey,
	listenAddrs []multiaddr.Multiaddr,
	opts ...ConfigOption,
) *Config {
	c := &Config{
		PrivateKey:  privateKey,
		ListenAddrs: listenAddrs,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.applyDefaults()
	return c
}
