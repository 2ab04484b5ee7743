package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := NewCmd("sess", 3, "nonce", "ECHO", map[string]any{"text": "hi"}, "sig")

	if err := WriteFrame(&buf, msg); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	got, err := ReadFrame(&buf, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if got.Type != TypeCmd || got.SessionID != "sess" || got.SeqValue() != 3 || got.Nonce != "nonce" {
		t.Fatalf("frame mangled envelope: %+v", got)
	}
	cmd, ok := got.Payload.(*Cmd)
	if !ok {
		t.Fatalf("expected *Cmd, got %T", got.Payload)
	}
	if cmd.Cmd != "ECHO" || cmd.Args["text"] != "hi" || cmd.Sig != "sig" {
		t.Fatalf("frame mangled payload: %+v", cmd)
	}
}

func TestReadFrame_OversizedRejectedBeforePayloadRead(t *testing.T) {
	for _, max := range []uint32{0, 1, DefaultMaxFrameSize} {
		// Header only, declaring one byte over the limit. If the reader
		// attempted the payload it would see EOF and report an io error
		// instead of the size violation.
		header := make([]byte, 4)
		binary.BigEndian.PutUint32(header, max+1)

		_, err := ReadFrame(bytes.NewReader(header), max)
		if !IsKind(err, KindFrameTooLarge) {
			t.Fatalf("max=%d: expected frame-too-large, got %v", max, err)
		}
	}
}

func TestReadFrame_MalformedPayload(t *testing.T) {
	payload := []byte(`{"type":`)
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	_, err := ReadFrame(bytes.NewReader(frame), DefaultMaxFrameSize)
	if !IsKind(err, KindSerialization) {
		t.Fatalf("expected serialization error, got %v", err)
	}
}

func TestReadFrame_ShortStream(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0}), DefaultMaxFrameSize)
	if !IsKind(err, KindIo) {
		t.Fatalf("expected io error on truncated header, got %v", err)
	}

	frame := make([]byte, 4)
	binary.BigEndian.PutUint32(frame, 100)
	_, err = ReadFrame(bytes.NewReader(frame), DefaultMaxFrameSize)
	if !IsKind(err, KindIo) {
		t.Fatalf("expected io error on truncated payload, got %v", err)
	}
}

func TestDecode_IncrementalRestart(t *testing.T) {
	frame, err := Encode(NewHello("c1"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Feed the frame one byte at a time; every prefix short of the full
	// frame must report incomplete without consuming anything.
	for i := 0; i < len(frame); i++ {
		msg, n, err := Decode(frame[:i], DefaultMaxFrameSize)
		if err != nil {
			t.Fatalf("partial %d bytes: unexpected error %v", i, err)
		}
		if msg != nil || n != 0 {
			t.Fatalf("partial %d bytes: expected incomplete, got msg=%v n=%d", i, msg, n)
		}
	}

	msg, n, err := Decode(frame, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("full frame: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("expected %d bytes consumed, got %d", len(frame), n)
	}
	if msg == nil || msg.Type != TypeHello {
		t.Fatalf("decoded wrong message: %+v", msg)
	}
}

func TestDecode_ConsumesExactlyOneFrame(t *testing.T) {
	first, err := Encode(NewPing())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := Encode(NewPong())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	buf := append(append([]byte{}, first...), second...)

	msg, n, err := Decode(buf, DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if msg.Type != TypePing || n != len(first) {
		t.Fatalf("first decode wrong: type=%s n=%d want %d", msg.Type, n, len(first))
	}

	msg, n, err = Decode(buf[n:], DefaultMaxFrameSize)
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if msg.Type != TypePong || n != len(second) {
		t.Fatalf("second decode wrong: type=%s n=%d want %d", msg.Type, n, len(second))
	}
}

func TestDecode_OversizedRejected(t *testing.T) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, DefaultMaxFrameSize+1)

	_, _, err := Decode(buf, DefaultMaxFrameSize)
	if !IsKind(err, KindFrameTooLarge) {
		t.Fatalf("expected frame-too-large, got %v", err)
	}
}
