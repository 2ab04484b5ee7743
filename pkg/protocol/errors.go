package protocol

import (
	"errors"
	"fmt"
)

// Kind categorizes protocol errors so callers can decide what is fatal to a
// connection and what is reported to the peer.
type Kind uint8

const (
	KindIo Kind = iota + 1
	KindSerialization
	KindFrameTooLarge
	KindInvalidMessageType
	KindAuthFailed
	KindReplayDetected
	KindSequenceViolation
	KindTimestampOutOfBounds
	KindInvalidSignature
	KindSessionNotFound
)

// String returns a stable snake_case name for the kind, suitable for log
// fields and metric labels.
func (k Kind) String() string {
	switch k {
	case KindIo:
		return "io"
	case KindSerialization:
		return "serialization"
	case KindFrameTooLarge:
		return "frame_too_large"
	case KindInvalidMessageType:
		return "invalid_message_type"
	case KindAuthFailed:
		return "auth_failed"
	case KindReplayDetected:
		return "replay_detected"
	case KindSequenceViolation:
		return "sequence_violation"
	case KindTimestampOutOfBounds:
		return "timestamp_out_of_bounds"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindSessionNotFound:
		return "session_not_found"
	}
	return "unknown"
}

// Error is the protocol error type. Floor and Got are populated for
// KindSequenceViolation only.
type Error struct {
	Kind  Kind
	Msg   string
	Inner error
	Floor uint64
	Got   uint64
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindIo:
		if e.Inner != nil {
			return "io error: " + e.Inner.Error()
		}
		return "io error"
	case KindSerialization:
		if e.Inner != nil {
			return "serialization error: " + e.Inner.Error()
		}
		return "serialization error"
	case KindFrameTooLarge:
		return e.Msg
	case KindInvalidMessageType:
		return "invalid message type: " + e.Msg
	case KindAuthFailed:
		return "authentication failed: " + e.Msg
	case KindReplayDetected:
		return "replay attack detected"
	case KindSequenceViolation:
		return fmt.Sprintf("sequence violation: expected > %d, got %d", e.Floor, e.Got)
	case KindTimestampOutOfBounds:
		return "timestamp out of bounds: " + e.Msg
	case KindInvalidSignature:
		return "invalid signature"
	case KindSessionNotFound:
		return "session not found: " + e.Msg
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Inner }

// IsKind reports whether err is (or wraps) a protocol Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// ErrKind returns the protocol error kind of err, or 0 when err is not a
// protocol Error.
func ErrKind(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// IoErr wraps a transport failure, including deadline expiries.
func IoErr(inner error) *Error {
	return &Error{Kind: KindIo, Inner: inner}
}

// SerializationErr wraps a malformed frame payload.
func SerializationErr(inner error) *Error {
	return &Error{Kind: KindSerialization, Inner: inner}
}

// FrameTooLargeErr reports a declared frame length beyond the receiver's limit.
func FrameTooLargeErr(size, max uint32) *Error {
	return &Error{
		Kind: KindFrameTooLarge,
		Msg:  fmt.Sprintf("frame too large: %d bytes (max %d)", size, max),
	}
}

// InvalidMessageErr reports a message whose shape does not fit the current
// protocol state.
func InvalidMessageErr(detail string) *Error {
	return &Error{Kind: KindInvalidMessageType, Msg: detail}
}

// AuthFailedErr reports a rejected handshake.
func AuthFailedErr(detail string) *Error {
	return &Error{Kind: KindAuthFailed, Msg: detail}
}

// ReplayDetectedErr reports a reused handshake nonce.
func ReplayDetectedErr() *Error {
	return &Error{Kind: KindReplayDetected}
}

// SequenceViolationErr reports a command sequence at or below the session's
// cursor.
func SequenceViolationErr(floor, got uint64) *Error {
	return &Error{Kind: KindSequenceViolation, Floor: floor, Got: got}
}

// TimestampErr reports a message timestamp outside the allowed skew.
func TimestampErr(ts int64) *Error {
	return &Error{Kind: KindTimestampOutOfBounds, Msg: fmt.Sprintf("%d", ts)}
}

// InvalidSignatureErr reports a failed HMAC check.
func InvalidSignatureErr() *Error {
	return &Error{Kind: KindInvalidSignature}
}

// SessionNotFoundErr reports an unknown or removed session id.
func SessionNotFoundErr(sessionID string) *Error {
	return &Error{Kind: KindSessionNotFound, Msg: sessionID}
}
