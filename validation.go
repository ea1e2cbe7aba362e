package sigberry

import (
	"fmt"
	"unicode/utf8"
)

// ValidatePayload checks an SDP or ICE candidate string before it is
// queued. Payloads must:
//   - Be non-empty
//   - Be valid UTF-8
//   - Not exceed maxSize bytes (if maxSize > 0)
//
// Returns nil if valid, or an error describing the validation failure.
func ValidatePayload(payload string, maxSize int) error {
	if payload == "" {
		return fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}

	if maxSize > 0 && len(payload) > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum of %d bytes",
			ErrPayloadTooLarge, len(payload), maxSize)
	}

	if !utf8.ValidString(payload) {
		return fmt.Errorf("%w: payload is not valid UTF-8", ErrInvalidPayload)
	}

	return nil
}
