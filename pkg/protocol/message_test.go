package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMessage_RoundTripVariants(t *testing.T) {
	msgs := []*Message{
		NewHello("client-1"),
		NewChallenge("aabbccdd"),
		NewAuth("client-1", "server-nonce", "client-nonce", "sig-hex"),
		NewAuthOk("11112222333344445555666677778888"),
		NewCmd("sess", 7, "nonce-hex", "ECHO", map[string]any{"text": "hi"}, "sig-hex"),
		NewResp("sess", 7, map[string]any{"echo": "hi"}),
		NewRespError("sess", 7, "invalid signature"),
		NewPing(),
		NewPong(),
		NewErr("authentication failed: bad", "auth_failed"),
	}

	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal %s: %v", msg.Type, err)
		}

		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", msg.Type, err)
		}

		if got.Type != msg.Type {
			t.Fatalf("type mismatch: want %s, got %s", msg.Type, got.Type)
		}
		if got.TS != msg.TS {
			t.Fatalf("%s: ts mismatch: want %d, got %d", msg.Type, msg.TS, got.TS)
		}
		if got.Nonce != msg.Nonce || got.SessionID != msg.SessionID {
			t.Fatalf("%s: envelope mismatch: %+v vs %+v", msg.Type, got, msg)
		}
		if got.SeqValue() != msg.SeqValue() {
			t.Fatalf("%s: seq mismatch: want %d, got %d", msg.Type, msg.SeqValue(), got.SeqValue())
		}
		if got.Payload == nil {
			t.Fatalf("%s: payload did not survive round trip", msg.Type)
		}
	}
}

func TestMessage_RoundTripFields(t *testing.T) {
	msg := NewAuth("c1", "sn", "cn", "deadbeef")
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	auth, ok := got.Payload.(*Auth)
	if !ok {
		t.Fatalf("expected *Auth payload, got %T", got.Payload)
	}
	if auth.ClientID != "c1" || auth.ServerNonce != "sn" || auth.ClientNonce != "cn" || auth.Sig != "deadbeef" {
		t.Fatalf("auth fields mangled: %+v", auth)
	}
}

func TestMessage_AuthOkCarriesSeqZero(t *testing.T) {
	msg := NewAuthOk("11112222333344445555666677778888")
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if !strings.Contains(string(data), `"seq":0`) {
		t.Fatalf("auth_ok must serialize seq 0, got: %s", data)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Seq == nil || *got.Seq != 0 {
		t.Fatalf("auth_ok seq should decode as explicit 0, got %v", got.Seq)
	}
}

func TestMessage_OptionalEnvelopeFieldsOmitted(t *testing.T) {
	data, err := json.Marshal(NewHello("c1"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	for _, key := range []string{"nonce", "session_id", "seq"} {
		if _, present := raw[key]; present {
			t.Fatalf("hello must omit %q, got: %s", key, data)
		}
	}
}

func TestMessage_CmdArgsAlwaysSerialized(t *testing.T) {
	data, err := json.Marshal(NewCmd("sess", 1, "n", "PING", nil, "sig"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"args":{}`) {
		t.Fatalf("cmd with no args must carry an empty args object, got: %s", data)
	}
}

func TestMessage_DecodeUnknownType(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"type":"bogus","ts":1700000000}`), &msg)
	if err != nil {
		t.Fatalf("unknown type must still decode: %v", err)
	}
	if msg.Type != "bogus" || msg.Payload != nil {
		t.Fatalf("unknown type should keep envelope and nil payload: %+v", msg)
	}
}

func TestMessage_DecodeShapeMismatch(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"hello missing client_id", `{"type":"hello","ts":1700000000}`},
		{"challenge missing nonce", `{"type":"challenge","ts":1700000000}`},
		{"auth missing sig", `{"type":"auth","ts":1700000000,"client_id":"c","server_nonce":"s","client_nonce":"n"}`},
		{"cmd missing sig", `{"type":"cmd","ts":1700000000,"seq":1,"nonce":"n","cmd":"PING","args":{}}`},
		{"resp missing status", `{"type":"resp","ts":1700000000,"seq":1}`},
	}

	for _, tc := range cases {
		var msg Message
		if err := json.Unmarshal([]byte(tc.data), &msg); err != nil {
			t.Fatalf("%s: envelope should decode: %v", tc.name, err)
		}
		if msg.Payload != nil {
			t.Fatalf("%s: expected nil payload, got %T", tc.name, msg.Payload)
		}
	}
}

func TestMessage_DecodeRejectsMissingEnvelope(t *testing.T) {
	for _, data := range []string{
		`{"ts":1700000000,"client_id":"c"}`,
		`{"type":"hello","client_id":"c"}`,
	} {
		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err == nil {
			t.Fatalf("expected decode failure for %s", data)
		}
	}
}

func TestMessage_CmdArgsKeepNumberLexemes(t *testing.T) {
	data := `{"type":"cmd","ts":1700000000,"session_id":"s","seq":1,"nonce":"n","cmd":"X","args":{"big":123456789012345678901,"sci":1e21},"sig":"sig"}`

	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cmd, ok := msg.Payload.(*Cmd)
	if !ok {
		t.Fatalf("expected *Cmd payload, got %T", msg.Payload)
	}

	canonical := CanonicalJSON(cmd.Args)
	if !strings.Contains(canonical, "123456789012345678901") {
		t.Fatalf("integer lexeme not preserved: %s", canonical)
	}
	if !strings.Contains(canonical, "1e21") {
		t.Fatalf("scientific lexeme not preserved: %s", canonical)
	}
}

func TestMessage_CmdDefaultsMissingArgs(t *testing.T) {
	data := `{"type":"cmd","ts":1700000000,"session_id":"s","seq":1,"nonce":"n","cmd":"PING","sig":"sig"}`

	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cmd, ok := msg.Payload.(*Cmd)
	if !ok {
		t.Fatalf("expected *Cmd payload, got %T", msg.Payload)
	}
	if cmd.Args == nil {
		t.Fatal("missing args should default to an empty map")
	}
}

func TestMessage_RespResultVariants(t *testing.T) {
	// result false must be serialized, absent result must be omitted
	withFalse, err := json.Marshal(NewResp("s", 1, false))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(withFalse), `"result":false`) {
		t.Fatalf("false result must survive: %s", withFalse)
	}

	without, err := json.Marshal(NewRespError("s", 1, "boom"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(without), `"result"`) {
		t.Fatalf("error resp must omit result: %s", without)
	}
	if !strings.Contains(string(without), `"error":"boom"`) {
		t.Fatalf("error resp must carry error text: %s", without)
	}
}
