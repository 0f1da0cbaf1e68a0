// Package protoerr defines the error-kind taxonomy used across the
// AppleMIDI session engine. Every per-datagram or per-session failure is
// classified as exactly one of these kinds so callers can branch on
// errors.Is without parsing error strings.
package protoerr

import "errors"

// Kind-sentinel errors. Wrap a kind with fmt.Errorf("...: %w", kind) to
// attach context while preserving errors.Is(err, KindX) classification.
var (
	// ErrProtocolFraming marks a malformed datagram: short read, bad
	// signature, or a name that is not null-terminated. The datagram is
	// dropped and the error is logged.
	ErrProtocolFraming = errors.New("protocol framing error")

	// ErrUnknownEndpoint marks an inbound datagram whose EID has no
	// registered session. The datagram is dropped.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrHandshakeMismatch marks an OK whose initiator-token field
	// disagrees with the session's current EID. The session is
	// terminated.
	ErrHandshakeMismatch = errors.New("handshake mismatch")

	// ErrEventTooLarge marks an outbound MIDI event exceeding 16 bytes.
	// Surfaced to the caller; the session is not terminated.
	ErrEventTooLarge = errors.New("midi event too large")

	// ErrUnsupportedCommand marks a recognized 0xFFFF-prefixed datagram
	// whose 2-byte command id is not one of IN/OK/NO/BY/CK.
	ErrUnsupportedCommand = errors.New("unsupported applemidi command")

	// ErrCodecWarning marks an unknown MIDI status byte or an event kind
	// the codec does not transduce. The event is dropped.
	ErrCodecWarning = errors.New("midi codec warning")

	// ErrTaskFailure marks a panic/error recovered from a deferred task.
	// The event loop continues.
	ErrTaskFailure = errors.New("deferred task failure")

	// ErrDuplicateEID marks a registry insert/rebind that collides with
	// an EID already in use.
	ErrDuplicateEID = errors.New("duplicate endpoint identifier")
)
