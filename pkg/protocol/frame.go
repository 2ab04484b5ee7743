package protocol

import (
	"encoding/binary"
	"encoding/json"
	"io"
)

const (
	// DefaultMaxFrameSize is the frame limit for typical deployments.
	DefaultMaxFrameSize uint32 = 1024 * 1024

	// MaxFrameSize is the hard upper bound any configuration may set.
	MaxFrameSize uint32 = 10 * 1024 * 1024
)

// frameHeaderSize is the 4-byte big-endian length prefix.
const frameHeaderSize = 4

// Encode serializes msg into one complete frame: a 4-byte big-endian length
// prefix followed by the JSON payload.
func Encode(msg *Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, SerializationErr(err)
	}
	frame := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame[:frameHeaderSize], uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)
	return frame, nil
}

// Decode extracts one frame from the front of buf, returning the message and
// the number of bytes consumed. When buf does not yet hold a complete frame it
// returns (nil, 0, nil); callers append more bytes and call again, no partial
// state is kept in between. The declared length is checked against max before
// the payload is touched.
func Decode(buf []byte, max uint32) (*Message, int, error) {
	if len(buf) < frameHeaderSize {
		return nil, 0, nil
	}
	length := binary.BigEndian.Uint32(buf[:frameHeaderSize])
	if length > max {
		return nil, 0, FrameTooLargeErr(length, max)
	}
	total := frameHeaderSize + int(length)
	if len(buf) < total {
		return nil, 0, nil
	}
	var msg Message
	if err := json.Unmarshal(buf[frameHeaderSize:total], &msg); err != nil {
		return nil, 0, SerializationErr(err)
	}
	return &msg, total, nil
}

// ReadFrame reads exactly one frame from r. The declared length is checked
// against max before any payload byte is read or allocated.
func ReadFrame(r io.Reader, max uint32) (*Message, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, IoErr(err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > max {
		return nil, FrameTooLargeErr(length, max)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, IoErr(err)
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, SerializationErr(err)
	}
	return &msg, nil
}

// WriteFrame writes msg as one frame to w. Size limits are enforced by the
// receiving side only.
func WriteFrame(w io.Writer, msg *Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return IoErr(err)
	}
	return nil
}
