// Package protocol defines the NNP wire protocol for distributed neural
// network communication.
package protocol

// Message type constants
const (
	// Session messages
	MsgHandshake    uint8 = 0x01 // Identity/capability announcement
	MsgHandshakeAck uint8 = 0x02 // Handshake acceptance with effective capabilities

	// Data messages
	MsgForwardData  uint8 = 0x10 // Layer activations for a forward pass
	MsgBackwardData uint8 = 0x11 // Gradients for a backward pass
	MsgHebbianData  uint8 = 0x12 // Correlation values for Hebbian learning
	MsgWeightSync   uint8 = 0x13 // Weight/bias snapshot for a layer

	// Control messages
	MsgHeartbeat  uint8 = 0x20 // Liveness signal
	MsgDisconnect uint8 = 0x21 // Graceful teardown with reason

	// Error message
	MsgError uint8 = 0xFF // Error report with code and detail
)

// Error codes carried in ERROR messages
const (
	ErrCodeProtocolViolation        uint16 = 1 // Malformed or out-of-order message
	ErrCodeUnsupportedVersion       uint16 = 2 // Peer protocol version not accepted
	ErrCodeInsufficientCapabilities uint16 = 3 // Message type not granted to sender
	ErrCodeIdentityMismatch         uint16 = 4 // Declared ID does not match certificate
	ErrCodeRateLimited              uint16 = 5 // Peer exceeded the error threshold
	ErrCodeInternal                 uint16 = 6 // Receiver-side failure
)

// Protocol constants
const (
	// ProtocolVersion is the current NNP protocol version
	ProtocolVersion uint8 = 1

	// HeaderSize is the size of a frame header in bytes
	HeaderSize = 22

	// MaxPayloadSize is the maximum frame payload size (1 MB)
	MaxPayloadSize = 1 << 20

	// MaxFrameSize is the maximum total frame size
	MaxFrameSize = HeaderSize + MaxPayloadSize

	// ALPN is the TLS application protocol identifier for NNP links.
	ALPN = "nnp/1"
)

// Magic is the 4-byte constant opening every NNP frame ("NNP\0").
var Magic = [4]byte{0x4E, 0x4E, 0x50, 0x00}

// MessageTypeName returns a human-readable name for a message type.
func MessageTypeName(t uint8) string {
	switch t {
	case MsgHandshake:
		return "HANDSHAKE"
	case MsgHandshakeAck:
		return "HANDSHAKE_ACK"
	case MsgForwardData:
		return "FORWARD_DATA"
	case MsgBackwardData:
		return "BACKWARD_DATA"
	case MsgHebbianData:
		return "HEBBIAN_DATA"
	case MsgWeightSync:
		return "WEIGHT_SYNC"
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgDisconnect:
		return "DISCONNECT"
	case MsgError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrorCodeName returns a human-readable name for an error code.
func ErrorCodeName(code uint16) string {
	switch code {
	case ErrCodeProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case ErrCodeUnsupportedVersion:
		return "UNSUPPORTED_VERSION"
	case ErrCodeInsufficientCapabilities:
		return "INSUFFICIENT_CAPABILITIES"
	case ErrCodeIdentityMismatch:
		return "IDENTITY_MISMATCH"
	case ErrCodeRateLimited:
		return "RATE_LIMITED"
	case ErrCodeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// IsSessionMessage returns true for handshake-phase message types.
func IsSessionMessage(t uint8) bool {
	return t == MsgHandshake || t == MsgHandshakeAck
}

// IsDataMessage returns true for message types that carry neural data and
// therefore require a granted capability and an established session.
func IsDataMessage(t uint8) bool {
	return t >= MsgForwardData && t <= MsgWeightSync
}

// IsControlMessage returns true for liveness/teardown message types.
func IsControlMessage(t uint8) bool {
	return t == MsgHeartbeat || t == MsgDisconnect || t == MsgError
}

// KnownMessageType returns true if t is a defined NNP message type.
func KnownMessageType(t uint8) bool {
	return IsSessionMessage(t) || IsDataMessage(t) || IsControlMessage(t)
}
