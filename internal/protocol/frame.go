package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var (
	// ErrBadMagic is returned when a frame does not start with the NNP magic
	ErrBadMagic = errors.New("bad magic bytes")

	// ErrUnsupportedVersion is returned for protocol versions outside the supported set
	ErrUnsupportedVersion = errors.New("unsupported protocol version")

	// ErrChecksumMismatch is returned when the payload CRC32 does not match the header
	ErrChecksumMismatch = errors.New("payload checksum mismatch")

	// ErrTruncated is returned when the payload length does not match the header
	ErrTruncated = errors.New("truncated frame")

	// ErrSequenceReplay is returned when a frame's sequence number does not
	// exceed the highest previously accepted value on its connection
	ErrSequenceReplay = errors.New("sequence number replayed")

	// ErrFrameTooLarge is returned when a frame exceeds the maximum payload size
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum size")
)

// Frame represents one NNP wire frame.
// Header format (22 bytes):
//
//	Magic    [4 bytes] - fixed constant "NNP\x00"
//	Version  [1 byte]  - protocol version
//	Type     [1 byte]  - message type tag
//	Length   [4 bytes] - payload length (big-endian)
//	Sequence [8 bytes] - per-sender frame counter (big-endian)
//	Checksum [4 bytes] - CRC32 of payload (big-endian)
//
// The checksum covers the payload only; Length and Checksum are derived
// fields computed during Encode.
type Frame struct {
	Version  uint8
	Type     uint8
	Sequence uint64
	Payload  []byte
}

// MessageFrame builds a frame carrying the given message at the current
// protocol version. The sequence number is the sender's next counter value.
func MessageFrame(msg Message, sequence uint64) *Frame {
	return &Frame{
		Version:  ProtocolVersion,
		Type:     msg.MessageType(),
		Sequence: sequence,
		Payload:  msg.Encode(),
	}
}

// Encode serializes the frame to bytes.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, HeaderSize+len(f.Payload))

	// Header
	copy(buf[0:4], Magic[:])
	buf[4] = f.Version
	buf[5] = f.Type
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(f.Payload)))
	binary.BigEndian.PutUint64(buf[10:18], f.Sequence)
	binary.BigEndian.PutUint32(buf[18:22], crc32.ChecksumIEEE(f.Payload))

	// Payload
	copy(buf[HeaderSize:], f.Payload)

	return buf, nil
}

// DecodeHeader decodes and validates a frame header from bytes.
// It checks the magic constant, protocol version, and payload size bound;
// the payload checksum is verified separately once the payload is read.
func DecodeHeader(buf []byte) (version uint8, msgType uint8, length uint32, sequence uint64, checksum uint32, err error) {
	if len(buf) < HeaderSize {
		return 0, 0, 0, 0, 0, fmt.Errorf("%w: header too short", ErrTruncated)
	}

	if !bytes.Equal(buf[0:4], Magic[:]) {
		return 0, 0, 0, 0, 0, fmt.Errorf("%w: got % x", ErrBadMagic, buf[0:4])
	}

	version = buf[4]
	if version != ProtocolVersion {
		return 0, 0, 0, 0, 0, fmt.Errorf("%w: got %d, supported %d", ErrUnsupportedVersion, version, ProtocolVersion)
	}

	msgType = buf[5]
	length = binary.BigEndian.Uint32(buf[6:10])
	sequence = binary.BigEndian.Uint64(buf[10:18])
	checksum = binary.BigEndian.Uint32(buf[18:22])

	if length > MaxPayloadSize {
		return 0, 0, 0, 0, 0, ErrFrameTooLarge
	}

	return
}

// Decode deserializes and validates a complete frame from bytes.
// The buffer must contain exactly the header plus the declared payload.
// Decoding is pure: it performs no I/O and touches no counters.
func Decode(buf []byte) (*Frame, error) {
	version, msgType, length, sequence, checksum, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}

	if len(buf) != HeaderSize+int(length) {
		return nil, fmt.Errorf("%w: declared %d payload bytes, have %d",
			ErrTruncated, length, len(buf)-HeaderSize)
	}

	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:])

	if actual := crc32.ChecksumIEEE(payload); actual != checksum {
		return nil, fmt.Errorf("%w: header %08x, computed %08x", ErrChecksumMismatch, checksum, actual)
	}

	return &Frame{
		Version:  version,
		Type:     msgType,
		Sequence: sequence,
		Payload:  payload,
	}, nil
}

// String returns a debug representation of the frame.
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Type=%s, Seq=%d, PayloadLen=%d}",
		MessageTypeName(f.Type), f.Sequence, len(f.Payload))
}

// ============================================================================
// Frame Reader/Writer
// ============================================================================

// FrameReader reads frames from a byte stream, looping over partial reads
// until each header and payload is complete.
type FrameReader struct {
	r      io.Reader
	header [HeaderSize]byte
}

// NewFrameReader creates a new FrameReader.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Read reads the next frame. I/O errors from the underlying stream are
// returned as-is; framing violations carry the protocol error sentinels.
func (fr *FrameReader) Read() (*Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		return nil, err
	}

	version, msgType, length, sequence, checksum, err := DecodeHeader(fr.header[:])
	if err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return nil, err
		}
	}

	if actual := crc32.ChecksumIEEE(payload); actual != checksum {
		return nil, fmt.Errorf("%w: header %08x, computed %08x", ErrChecksumMismatch, checksum, actual)
	}

	return &Frame{
		Version:  version,
		Type:     msgType,
		Sequence: sequence,
		Payload:  payload,
	}, nil
}

// FrameWriter writes frames to an io.Writer.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter creates a new FrameWriter.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// Write writes a frame.
func (fw *FrameWriter) Write(f *Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	_, err = fw.w.Write(data)
	return err
}

// WriteMessage is a convenience method to write a message with the given
// sequence number at the current protocol version.
func (fw *FrameWriter) WriteMessage(msg Message, sequence uint64) error {
	return fw.Write(MessageFrame(msg, sequence))
}
