package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeHandshake_Fields(t *testing.T) {
	h := &Handshake{
		NetworkID:       testNetworkID(t),
		Name:            "motor-cortex",
		LayerSizes:      []uint16{128, 64},
		Capabilities:    CapForwardPropagation | CapWeightSync,
		ProtocolVersion: 1,
	}

	decoded, err := DecodeHandshake(h.Encode())
	if err != nil {
		t.Fatalf("DecodeHandshake() error = %v", err)
	}

	if !decoded.NetworkID.Equal(h.NetworkID) {
		t.Errorf("NetworkID = %s, want %s", decoded.NetworkID, h.NetworkID)
	}
	if decoded.Name != h.Name {
		t.Errorf("Name = %q, want %q", decoded.Name, h.Name)
	}
	if len(decoded.LayerSizes) != 2 || decoded.LayerSizes[0] != 128 || decoded.LayerSizes[1] != 64 {
		t.Errorf("LayerSizes = %v, want [128 64]", decoded.LayerSizes)
	}
	if decoded.Capabilities != h.Capabilities {
		t.Errorf("Capabilities = %s, want %s", decoded.Capabilities, h.Capabilities)
	}
	if decoded.ProtocolVersion != 1 {
		t.Errorf("ProtocolVersion = %d, want 1", decoded.ProtocolVersion)
	}
}

func TestHandshake_EncodeTruncatesLongName(t *testing.T) {
	h := &Handshake{
		NetworkID:       testNetworkID(t),
		Name:            strings.Repeat("n", 300),
		ProtocolVersion: 1,
	}

	decoded, err := DecodeHandshake(h.Encode())
	if err != nil {
		t.Fatalf("DecodeHandshake() error = %v", err)
	}
	if len(decoded.Name) != 255 {
		t.Errorf("Name length = %d, want 255", len(decoded.Name))
	}
}

func TestDecodeHandshake_Truncated(t *testing.T) {
	full := (&Handshake{
		NetworkID:       testNetworkID(t),
		Name:            "node",
		LayerSizes:      []uint16{8},
		Capabilities:    CapForwardPropagation,
		ProtocolVersion: 1,
	}).Encode()

	// Every proper prefix must fail cleanly, never panic.
	for cut := 0; cut < len(full); cut++ {
		if _, err := DecodeHandshake(full[:cut]); err == nil {
			t.Fatalf("DecodeHandshake() with %d/%d bytes, want error", cut, len(full))
		}
	}
}

func TestDecodeForwardData_CountMismatch(t *testing.T) {
	d := &ForwardData{LayerID: 1, Values: []float32{1, 2, 3}}
	buf := d.Encode()

	// Declared count exceeds the available bytes
	if _, err := DecodeForwardData(buf[:len(buf)-4]); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("DecodeForwardData() error = %v, want ErrInvalidMessage", err)
	}
}

func TestDecodeHebbianData_Fields(t *testing.T) {
	d := &HebbianData{LayerID: 7, LearningRate: 0.125, Correlations: []float32{0.5, -0.5}}

	decoded, err := DecodeHebbianData(d.Encode())
	if err != nil {
		t.Fatalf("DecodeHebbianData() error = %v", err)
	}

	if decoded.LayerID != 7 {
		t.Errorf("LayerID = %d, want 7", decoded.LayerID)
	}
	if decoded.LearningRate != 0.125 {
		t.Errorf("LearningRate = %v, want 0.125", decoded.LearningRate)
	}
	if len(decoded.Correlations) != 2 || decoded.Correlations[0] != 0.5 || decoded.Correlations[1] != -0.5 {
		t.Errorf("Correlations = %v, want [0.5 -0.5]", decoded.Correlations)
	}
}

func TestDecodeWeightSync_EmptyVectors(t *testing.T) {
	w := &WeightSync{LayerID: 0}

	decoded, err := DecodeWeightSync(w.Encode())
	if err != nil {
		t.Fatalf("DecodeWeightSync() error = %v", err)
	}
	if len(decoded.Weights) != 0 || len(decoded.Biases) != 0 {
		t.Errorf("Weights/Biases = %v/%v, want empty", decoded.Weights, decoded.Biases)
	}
}

func TestDecodeWeightSync_BiasCountMissing(t *testing.T) {
	w := &WeightSync{LayerID: 0, Weights: []float32{1}}
	buf := w.Encode()

	if _, err := DecodeWeightSync(buf[:9]); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("DecodeWeightSync() error = %v, want ErrInvalidMessage", err)
	}
}

func TestDecodeDisconnect_EmptyReason(t *testing.T) {
	d := &Disconnect{}

	decoded, err := DecodeDisconnect(d.Encode())
	if err != nil {
		t.Fatalf("DecodeDisconnect() error = %v", err)
	}
	if decoded.Reason != "" {
		t.Errorf("Reason = %q, want empty", decoded.Reason)
	}
}

func TestDecodeErrorMessage_Fields(t *testing.T) {
	e := &ErrorMessage{Code: ErrCodeRateLimited, Detail: "too many protocol errors"}

	decoded, err := DecodeErrorMessage(e.Encode())
	if err != nil {
		t.Fatalf("DecodeErrorMessage() error = %v", err)
	}
	if decoded.Code != ErrCodeRateLimited {
		t.Errorf("Code = %d, want %d", decoded.Code, ErrCodeRateLimited)
	}
	if decoded.Detail != e.Detail {
		t.Errorf("Detail = %q, want %q", decoded.Detail, e.Detail)
	}
}

func TestDecodePayload_UnknownType(t *testing.T) {
	if _, err := DecodePayload(0x77, nil); !errors.Is(err, ErrUnknownMessageType) {
		t.Errorf("DecodePayload() error = %v, want ErrUnknownMessageType", err)
	}
}

func TestDecodePayload_ShortPayloads(t *testing.T) {
	tests := []struct {
		name    string
		msgType uint8
	}{
		{"handshake", MsgHandshake},
		{"handshake ack", MsgHandshakeAck},
		{"forward data", MsgForwardData},
		{"backward data", MsgBackwardData},
		{"hebbian data", MsgHebbianData},
		{"weight sync", MsgWeightSync},
		{"heartbeat", MsgHeartbeat},
		{"disconnect", MsgDisconnect},
		{"error", MsgError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePayload(tt.msgType, []byte{}); !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("DecodePayload() error = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestMessageTypeName(t *testing.T) {
	tests := []struct {
		msgType uint8
		want    string
	}{
		{MsgHandshake, "HANDSHAKE"},
		{MsgHandshakeAck, "HANDSHAKE_ACK"},
		{MsgForwardData, "FORWARD_DATA"},
		{MsgBackwardData, "BACKWARD_DATA"},
		{MsgHebbianData, "HEBBIAN_DATA"},
		{MsgWeightSync, "WEIGHT_SYNC"},
		{MsgHeartbeat, "HEARTBEAT"},
		{MsgDisconnect, "DISCONNECT"},
		{MsgError, "ERROR"},
		{0x99, "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := MessageTypeName(tt.msgType); got != tt.want {
			t.Errorf("MessageTypeName(0x%02x) = %s, want %s", tt.msgType, got, tt.want)
		}
	}
}

func TestMessageClassifiers(t *testing.T) {
	if !IsDataMessage(MsgForwardData) || !IsDataMessage(MsgWeightSync) {
		t.Error("IsDataMessage() false for data types")
	}
	if IsDataMessage(MsgHandshake) || IsDataMessage(MsgHeartbeat) {
		t.Error("IsDataMessage() true for non-data types")
	}
	if !IsSessionMessage(MsgHandshake) || !IsSessionMessage(MsgHandshakeAck) {
		t.Error("IsSessionMessage() false for session types")
	}
	if !IsControlMessage(MsgHeartbeat) || !IsControlMessage(MsgDisconnect) || !IsControlMessage(MsgError) {
		t.Error("IsControlMessage() false for control types")
	}
	if KnownMessageType(0x99) {
		t.Error("KnownMessageType(0x99) = true")
	}
}
