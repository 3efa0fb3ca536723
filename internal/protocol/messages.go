package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/axonlab/axond/internal/identity"
)

var (
	// ErrInvalidMessage is returned when a message payload is malformed
	ErrInvalidMessage = errors.New("invalid message payload")

	// ErrUnknownMessageType is returned for unrecognized message type tags
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Message is implemented by every NNP payload type. The dispatcher and the
// authorization gate switch exhaustively over the concrete types.
type Message interface {
	// MessageType returns the wire tag for this message.
	MessageType() uint8

	// Encode serializes the payload to bytes.
	Encode() []byte
}

// DecodePayload deserializes a frame payload according to its type tag.
func DecodePayload(msgType uint8, buf []byte) (Message, error) {
	switch msgType {
	case MsgHandshake:
		return DecodeHandshake(buf)
	case MsgHandshakeAck:
		return DecodeHandshakeAck(buf)
	case MsgForwardData:
		return DecodeForwardData(buf)
	case MsgBackwardData:
		return DecodeBackwardData(buf)
	case MsgHebbianData:
		return DecodeHebbianData(buf)
	case MsgWeightSync:
		return DecodeWeightSync(buf)
	case MsgHeartbeat:
		return DecodeHeartbeat(buf)
	case MsgDisconnect:
		return DecodeDisconnect(buf)
	case MsgError:
		return DecodeErrorMessage(buf)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownMessageType, msgType)
	}
}

// putFloats writes values as IEEE-754 bit patterns in big-endian u32 slots
// starting at offset, returning the next offset.
func putFloats(buf []byte, offset int, vals []float32) int {
	for _, v := range vals {
		binary.BigEndian.PutUint32(buf[offset:], math.Float32bits(v))
		offset += 4
	}
	return offset
}

// readFloats reads count big-endian f32 values starting at offset, returning
// the values and the next offset.
func readFloats(buf []byte, offset, count int, what string) ([]float32, int, error) {
	if offset+count*4 > len(buf) {
		return nil, 0, fmt.Errorf("%w: %s values truncated", ErrInvalidMessage, what)
	}
	vals := make([]float32, count)
	for i := 0; i < count; i++ {
		vals[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[offset:]))
		offset += 4
	}
	return vals, offset, nil
}

// truncateString caps a string at 255 bytes for 1-byte length prefixes.
func truncateString(s string) []byte {
	b := []byte(s)
	if len(b) > 255 {
		b = b[:255]
	}
	return b
}

// Handshake is the payload for HANDSHAKE messages. Each side announces its
// stable network identity, display name, layer topology, declared
// capabilities, and protocol version before any data message is accepted.
type Handshake struct {
	NetworkID       identity.NetworkID
	Name            string
	LayerSizes      []uint16
	Capabilities    Capability
	ProtocolVersion uint8
}

// MessageType returns the wire tag.
func (h *Handshake) MessageType() uint8 { return MsgHandshake }

// Encode serializes Handshake to bytes.
func (h *Handshake) Encode() []byte {
	name := truncateString(h.Name)
	layers := h.LayerSizes
	if len(layers) > 255 {
		layers = layers[:255]
	}

	size := 16 + 1 + len(name) + 1 + 2*len(layers) + 4 + 1
	buf := make([]byte, size)
	offset := 0

	copy(buf[offset:], h.NetworkID[:])
	offset += 16

	buf[offset] = uint8(len(name))
	offset++
	copy(buf[offset:], name)
	offset += len(name)

	buf[offset] = uint8(len(layers))
	offset++
	for _, l := range layers {
		binary.BigEndian.PutUint16(buf[offset:], l)
		offset += 2
	}

	binary.BigEndian.PutUint32(buf[offset:], uint32(h.Capabilities))
	offset += 4

	buf[offset] = h.ProtocolVersion

	return buf
}

// DecodeHandshake deserializes Handshake from bytes.
func DecodeHandshake(buf []byte) (*Handshake, error) {
	if len(buf) < 23 { // 16 + 1 + 1 + 4 + 1 minimum
		return nil, fmt.Errorf("%w: Handshake too short", ErrInvalidMessage)
	}

	h := &Handshake{}
	offset := 0

	copy(h.NetworkID[:], buf[offset:offset+16])
	offset += 16

	nameLen := int(buf[offset])
	offset++
	if offset+nameLen > len(buf) {
		return nil, fmt.Errorf("%w: Handshake name truncated", ErrInvalidMessage)
	}
	h.Name = string(buf[offset : offset+nameLen])
	offset += nameLen

	if offset >= len(buf) {
		return nil, fmt.Errorf("%w: Handshake layer count missing", ErrInvalidMessage)
	}
	layerCount := int(buf[offset])
	offset++
	if offset+layerCount*2 > len(buf) {
		return nil, fmt.Errorf("%w: Handshake layers truncated", ErrInvalidMessage)
	}
	h.LayerSizes = make([]uint16, layerCount)
	for i := 0; i < layerCount; i++ {
		h.LayerSizes[i] = binary.BigEndian.Uint16(buf[offset:])
		offset += 2
	}

	if offset+5 > len(buf) {
		return nil, fmt.Errorf("%w: Handshake capabilities truncated", ErrInvalidMessage)
	}
	h.Capabilities = Capability(binary.BigEndian.Uint32(buf[offset:]))
	offset += 4

	h.ProtocolVersion = buf[offset]

	return h, nil
}

// HandshakeAck is the payload for HANDSHAKE_ACK messages. The responder
// echoes its network identity and the effective capability set it grants:
// the intersection of its own support, the peer's declared set, and (with
// TLS) the certificate-granted set.
type HandshakeAck struct {
	NetworkID            identity.NetworkID
	AcceptedCapabilities Capability
}

// MessageType returns the wire tag.
func (a *HandshakeAck) MessageType() uint8 { return MsgHandshakeAck }

// Encode serializes HandshakeAck to bytes.
func (a *HandshakeAck) Encode() []byte {
	buf := make([]byte, 20)
	copy(buf[0:16], a.NetworkID[:])
	binary.BigEndian.PutUint32(buf[16:20], uint32(a.AcceptedCapabilities))
	return buf
}

// DecodeHandshakeAck deserializes HandshakeAck from bytes.
func DecodeHandshakeAck(buf []byte) (*HandshakeAck, error) {
	if len(buf) < 20 {
		return nil, fmt.Errorf("%w: HandshakeAck too short", ErrInvalidMessage)
	}

	a := &HandshakeAck{}
	copy(a.NetworkID[:], buf[0:16])
	a.AcceptedCapabilities = Capability(binary.BigEndian.Uint32(buf[16:20]))
	return a, nil
}

// ForwardData is the payload for FORWARD_DATA messages: activations entering
// a forward pass for one layer.
type ForwardData struct {
	LayerID uint8
	Values  []float32
}

// MessageType returns the wire tag.
func (d *ForwardData) MessageType() uint8 { return MsgForwardData }

// Encode serializes ForwardData to bytes.
func (d *ForwardData) Encode() []byte {
	buf := make([]byte, 1+4+4*len(d.Values))
	buf[0] = d.LayerID
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(d.Values)))
	putFloats(buf, 5, d.Values)
	return buf
}

// DecodeForwardData deserializes ForwardData from bytes.
func DecodeForwardData(buf []byte) (*ForwardData, error) {
	if len(buf) < 5 {
		return nil, fmt.Errorf("%w: ForwardData too short", ErrInvalidMessage)
	}

	d := &ForwardData{LayerID: buf[0]}
	count := int(binary.BigEndian.Uint32(buf[1:5]))

	vals, _, err := readFloats(buf, 5, count, "ForwardData")
	if err != nil {
		return nil, err
	}
	d.Values = vals
	return d, nil
}

// BackwardData is the payload for BACKWARD_DATA messages: gradients flowing
// back through one layer.
type BackwardData struct {
	LayerID   uint8
	Gradients []float32
}

// MessageType returns the wire tag.
func (d *BackwardData) MessageType() uint8 { return MsgBackwardData }

// Encode serializes BackwardData to bytes.
func (d *BackwardData) Encode() []byte {
	buf := make([]byte, 1+4+4*len(d.Gradients))
	buf[0] = d.LayerID
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(d.Gradients)))
	putFloats(buf, 5, d.Gradients)
	return buf
}

// DecodeBackwardData deserializes BackwardData from bytes.
func DecodeBackwardData(buf []byte) (*BackwardData, error) {
	if len(buf) < 5 {
		return nil, fmt.Errorf("%w: BackwardData too short", ErrInvalidMessage)
	}

	d := &BackwardData{LayerID: buf[0]}
	count := int(binary.BigEndian.Uint32(buf[1:5]))

	vals, _, err := readFloats(buf, 5, count, "BackwardData")
	if err != nil {
		return nil, err
	}
	d.Gradients = vals
	return d, nil
}

// HebbianData is the payload for HEBBIAN_DATA messages: correlation values
// and a learning rate for a Hebbian update of one layer.
type HebbianData struct {
	LayerID      uint8
	LearningRate float32
	Correlations []float32
}

// MessageType returns the wire tag.
func (d *HebbianData) MessageType() uint8 { return MsgHebbianData }

// Encode serializes HebbianData to bytes.
func (d *HebbianData) Encode() []byte {
	buf := make([]byte, 1+4+4+4*len(d.Correlations))
	buf[0] = d.LayerID
	binary.BigEndian.PutUint32(buf[1:5], math.Float32bits(d.LearningRate))
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(d.Correlations)))
	putFloats(buf, 9, d.Correlations)
	return buf
}

// DecodeHebbianData deserializes HebbianData from bytes.
func DecodeHebbianData(buf []byte) (*HebbianData, error) {
	if len(buf) < 9 {
		return nil, fmt.Errorf("%w: HebbianData too short", ErrInvalidMessage)
	}

	d := &HebbianData{LayerID: buf[0]}
	d.LearningRate = math.Float32frombits(binary.BigEndian.Uint32(buf[1:5]))
	count := int(binary.BigEndian.Uint32(buf[5:9]))

	vals, _, err := readFloats(buf, 9, count, "HebbianData")
	if err != nil {
		return nil, err
	}
	d.Correlations = vals
	return d, nil
}

// WeightSync is the payload for WEIGHT_SYNC messages: a weight/bias snapshot
// for one layer.
type WeightSync struct {
	LayerID uint8
	Weights []float32
	Biases  []float32
}

// MessageType returns the wire tag.
func (w *WeightSync) MessageType() uint8 { return MsgWeightSync }

// Encode serializes WeightSync to bytes.
func (w *WeightSync) Encode() []byte {
	buf := make([]byte, 1+4+4*len(w.Weights)+4+4*len(w.Biases))
	buf[0] = w.LayerID

	offset := 1
	binary.BigEndian.PutUint32(buf[offset:], uint32(len(w.Weights)))
	offset += 4
	offset = putFloats(buf, offset, w.Weights)

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(w.Biases)))
	offset += 4
	putFloats(buf, offset, w.Biases)

	return buf
}

// DecodeWeightSync deserializes WeightSync from bytes.
func DecodeWeightSync(buf []byte) (*WeightSync, error) {
	if len(buf) < 9 { // 1 + 4 + 4 minimum (empty weights and biases)
		return nil, fmt.Errorf("%w: WeightSync too short", ErrInvalidMessage)
	}

	w := &WeightSync{LayerID: buf[0]}
	offset := 1

	weightCount := int(binary.BigEndian.Uint32(buf[offset:]))
	offset += 4
	weights, offset, err := readFloats(buf, offset, weightCount, "WeightSync weight")
	if err != nil {
		return nil, err
	}
	w.Weights = weights

	if offset+4 > len(buf) {
		return nil, fmt.Errorf("%w: WeightSync bias count missing", ErrInvalidMessage)
	}
	biasCount := int(binary.BigEndian.Uint32(buf[offset:]))
	offset += 4
	biases, _, err := readFloats(buf, offset, biasCount, "WeightSync bias")
	if err != nil {
		return nil, err
	}
	w.Biases = biases

	return w, nil
}

// Heartbeat is the payload for HEARTBEAT messages. It is the only liveness
// signal; there is no separate ping/pong exchange.
type Heartbeat struct {
	Timestamp uint64 // unix milliseconds
}

// NewHeartbeat returns a Heartbeat stamped with the current time.
func NewHeartbeat() *Heartbeat {
	return &Heartbeat{Timestamp: uint64(time.Now().UnixMilli())}
}

// MessageType returns the wire tag.
func (h *Heartbeat) MessageType() uint8 { return MsgHeartbeat }

// Encode serializes Heartbeat to bytes.
func (h *Heartbeat) Encode() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, h.Timestamp)
	return buf
}

// DecodeHeartbeat deserializes Heartbeat from bytes.
func DecodeHeartbeat(buf []byte) (*Heartbeat, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("%w: Heartbeat too short", ErrInvalidMessage)
	}
	return &Heartbeat{
		Timestamp: binary.BigEndian.Uint64(buf),
	}, nil
}

// Disconnect is the payload for DISCONNECT messages.
type Disconnect struct {
	Reason string
}

// MessageType returns the wire tag.
func (d *Disconnect) MessageType() uint8 { return MsgDisconnect }

// Encode serializes Disconnect to bytes.
func (d *Disconnect) Encode() []byte {
	reason := truncateString(d.Reason)
	buf := make([]byte, 1+len(reason))
	buf[0] = uint8(len(reason))
	copy(buf[1:], reason)
	return buf
}

// DecodeDisconnect deserializes Disconnect from bytes.
func DecodeDisconnect(buf []byte) (*Disconnect, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("%w: Disconnect too short", ErrInvalidMessage)
	}

	reasonLen := int(buf[0])
	if 1+reasonLen > len(buf) {
		return nil, fmt.Errorf("%w: Disconnect reason truncated", ErrInvalidMessage)
	}
	return &Disconnect{
		Reason: string(buf[1 : 1+reasonLen]),
	}, nil
}

// ErrorMessage is the payload for ERROR messages.
type ErrorMessage struct {
	Code   uint16
	Detail string
}

// MessageType returns the wire tag.
func (e *ErrorMessage) MessageType() uint8 { return MsgError }

// Encode serializes ErrorMessage to bytes.
func (e *ErrorMessage) Encode() []byte {
	detail := truncateString(e.Detail)
	buf := make([]byte, 2+1+len(detail))
	binary.BigEndian.PutUint16(buf[0:2], e.Code)
	buf[2] = uint8(len(detail))
	copy(buf[3:], detail)
	return buf
}

// DecodeErrorMessage deserializes ErrorMessage from bytes.
func DecodeErrorMessage(buf []byte) (*ErrorMessage, error) {
	if len(buf) < 3 {
		return nil, fmt.Errorf("%w: ErrorMessage too short", ErrInvalidMessage)
	}

	e := &ErrorMessage{
		Code: binary.BigEndian.Uint16(buf[0:2]),
	}

	detailLen := int(buf[2])
	if 3+detailLen > len(buf) {
		return nil, fmt.Errorf("%w: ErrorMessage detail truncated", ErrInvalidMessage)
	}
	e.Detail = string(buf[3 : 3+detailLen])

	return e, nil
}
