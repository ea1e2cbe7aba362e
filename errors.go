package sigberry

import (
	"errors"

	"github.com/blockberries/sigberry/pkg/behaviour"
	"github.com/blockberries/sigberry/pkg/connection"
	"github.com/blockberries/sigberry/pkg/sigerr"
)

// Error is the classified error carried by SignalingError events.
type Error = sigerr.Error

// ErrorCode classifies an Error.
type ErrorCode = sigerr.Code

// Error codes carried by SignalingError events.
const (
	ErrCodeIo       = sigerr.IoError
	ErrCodeUpgrade  = sigerr.UpgradeError
	ErrCodeFormat   = sigerr.FormatError
	ErrCodeProtocol = sigerr.ProtocolError
)

// Sentinels matching a class of Error with errors.Is.
var (
	ErrIo       = sigerr.ErrIo
	ErrUpgrade  = sigerr.ErrUpgrade
	ErrFormat   = sigerr.ErrFormat
	ErrProtocol = sigerr.ErrProtocol
)

// ErrorCodeOf returns the code of the first Error in err's chain.
func ErrorCodeOf(err error) (ErrorCode, bool) {
	return sigerr.CodeOf(err)
}

// Sentinel errors for sending.
var (
	// ErrNotConnected indicates there is no connection to the peer.
	ErrNotConnected = behaviour.ErrNotConnected

	// ErrQueueFull indicates the connection's outbound queue is full.
	ErrQueueFull = connection.ErrQueueFull

	// ErrPayloadTooLarge indicates a payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrInvalidPayload indicates a payload is empty or not valid UTF-8.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Sentinel errors for configuration.
var (
	// ErrInvalidConfig indicates the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingPrivateKey indicates the private key was not provided.
	ErrMissingPrivateKey = errors.New("private key is required")

	// ErrInvalidPrivateKey indicates the private key has the wrong size.
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrMissingListenAddrs indicates no listen addresses were provided.
	ErrMissingListenAddrs = errors.New("at least one listen address is required")
)

// Sentinel errors for node lifecycle.
var (
	// ErrNodeNotStarted indicates the node has not been started.
	ErrNodeNotStarted = errors.New("node not started")

	// ErrNodeAlreadyStarted indicates the node is already running.
	ErrNodeAlreadyStarted = errors.New("node already started")

	// ErrNodeStopped indicates the node has been stopped.
	ErrNodeStopped = errors.New("node stopped")
)
