package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MsgType discriminates the payload variant carried by a Message.
type MsgType string

const (
	TypeHello     MsgType = "hello"
	TypeChallenge MsgType = "challenge"
	TypeAuth      MsgType = "auth"
	TypeAuthOk    MsgType = "auth_ok"
	TypeCmd       MsgType = "cmd"
	TypeResp      MsgType = "resp"
	TypePing      MsgType = "ping"
	TypePong      MsgType = "pong"
	TypeErr       MsgType = "err"
)

// Status values carried by Resp payloads.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AuthOkInfo is the fixed info text carried by auth_ok messages.
const AuthOkInfo = "Authentication successful"

// Message is the wire envelope. On the wire the payload fields are flattened
// into the same JSON object as the envelope fields; Type selects which shape
// the remaining keys decode as.
type Message struct {
	Type      MsgType
	TS        int64
	Nonce     string
	SessionID string
	Seq       *uint64

	// Payload is one of *Hello, *Challenge, *Auth, *AuthOk, *Cmd, *Resp,
	// *Ping, *Pong, *Err. It is nil when Type is unknown or the object did
	// not match the declared variant's shape; handlers treat the latter as
	// an invalid message, never as a different variant.
	Payload any
}

// Hello opens the handshake and names the client.
type Hello struct {
	ClientID string `json:"client_id"`
}

// Challenge carries the server's nonce for the client to sign over.
type Challenge struct {
	ServerNonce string `json:"server_nonce"`
}

// Auth answers a Challenge with the client's proof of PSK possession.
type Auth struct {
	ClientID    string `json:"client_id"`
	ServerNonce string `json:"server_nonce"`
	ClientNonce string `json:"client_nonce"`
	Sig         string `json:"sig"`
}

// AuthOk confirms authentication; the envelope carries session_id and seq 0.
type AuthOk struct {
	Info string `json:"message"`
}

// Cmd is a signed command request. Args is always present on the wire, as an
// empty object when the command takes none.
type Cmd struct {
	Cmd  string         `json:"cmd"`
	Args map[string]any `json:"args"`
	Sig  string         `json:"sig"`
}

// Resp answers a Cmd, correlated by the envelope seq.
type Resp struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Ping is a heartbeat request; no authentication required.
type Ping struct{}

// Pong answers a Ping.
type Pong struct{}

// Err is a best-effort server notification sent before closing a connection.
type Err struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// New constructs a message of the given type, timestamped now.
func New(t MsgType, payload any) *Message {
	return &Message{Type: t, TS: time.Now().Unix(), Payload: payload}
}

// WithNonce attaches a nonce to the envelope.
func (m *Message) WithNonce(nonce string) *Message {
	m.Nonce = nonce
	return m
}

// WithSession attaches a session id and sequence number to the envelope.
func (m *Message) WithSession(sessionID string, seq uint64) *Message {
	m.SessionID = sessionID
	m.Seq = &seq
	return m
}

// SeqValue returns the envelope sequence number, or 0 when absent.
func (m *Message) SeqValue() uint64 {
	if m.Seq == nil {
		return 0
	}
	return *m.Seq
}

// NewHello builds the handshake opener.
func NewHello(clientID string) *Message {
	return New(TypeHello, &Hello{ClientID: clientID})
}

// NewChallenge builds the server's nonce challenge.
func NewChallenge(serverNonce string) *Message {
	return New(TypeChallenge, &Challenge{ServerNonce: serverNonce})
}

// NewAuth builds the client's handshake proof.
func NewAuth(clientID, serverNonce, clientNonce, sig string) *Message {
	return New(TypeAuth, &Auth{
		ClientID:    clientID,
		ServerNonce: serverNonce,
		ClientNonce: clientNonce,
		Sig:         sig,
	})
}

// NewAuthOk builds the handshake confirmation for a freshly created session.
func NewAuthOk(sessionID string) *Message {
	return New(TypeAuthOk, &AuthOk{Info: AuthOkInfo}).WithSession(sessionID, 0)
}

// NewCmd builds a signed command request.
func NewCmd(sessionID string, seq uint64, nonce, cmd string, args map[string]any, sig string) *Message {
	if args == nil {
		args = map[string]any{}
	}
	return New(TypeCmd, &Cmd{Cmd: cmd, Args: args, Sig: sig}).
		WithSession(sessionID, seq).
		WithNonce(nonce)
}

// NewResp builds a success response for the command at seq.
func NewResp(sessionID string, seq uint64, result any) *Message {
	return New(TypeResp, &Resp{Status: StatusSuccess, Result: result}).
		WithSession(sessionID, seq)
}

// NewRespError builds an error response for the command at seq.
func NewRespError(sessionID string, seq uint64, errText string) *Message {
	return New(TypeResp, &Resp{Status: StatusError, Error: errText}).
		WithSession(sessionID, seq)
}

// NewPing builds a heartbeat request.
func NewPing() *Message {
	return New(TypePing, &Ping{})
}

// NewPong builds a heartbeat answer.
func NewPong() *Message {
	return New(TypePong, &Pong{})
}

// NewErr builds a best-effort error notification. code may be empty.
func NewErr(errText, code string) *Message {
	return New(TypeErr, &Err{Error: errText, Code: code})
}

// MarshalJSON flattens the envelope and payload into a single object.
func (m *Message) MarshalJSON() ([]byte, error) {
	obj := map[string]any{
		"type": m.Type,
		"ts":   m.TS,
	}
	if m.Nonce != "" {
		obj["nonce"] = m.Nonce
	}
	if m.SessionID != "" {
		obj["session_id"] = m.SessionID
	}
	if m.Seq != nil {
		obj["seq"] = *m.Seq
	}

	switch p := m.Payload.(type) {
	case nil:
	case *Hello:
		obj["client_id"] = p.ClientID
	case *Challenge:
		obj["server_nonce"] = p.ServerNonce
	case *Auth:
		obj["client_id"] = p.ClientID
		obj["server_nonce"] = p.ServerNonce
		obj["client_nonce"] = p.ClientNonce
		obj["sig"] = p.Sig
	case *AuthOk:
		obj["message"] = p.Info
	case *Cmd:
		obj["cmd"] = p.Cmd
		if p.Args != nil {
			obj["args"] = p.Args
		} else {
			obj["args"] = map[string]any{}
		}
		obj["sig"] = p.Sig
	case *Resp:
		obj["status"] = p.Status
		if p.Result != nil {
			obj["result"] = p.Result
		}
		if p.Error != "" {
			obj["error"] = p.Error
		}
	case *Ping, *Pong:
	case *Err:
		obj["error"] = p.Error
		if p.Code != "" {
			obj["code"] = p.Code
		}
	default:
		return nil, fmt.Errorf("unsupported payload type %T", m.Payload)
	}

	return json.Marshal(obj)
}

// UnmarshalJSON decodes the envelope, then decodes the payload shape selected
// by the type field. Missing type or ts fails the whole decode; a known type
// whose payload shape does not match leaves Payload nil for the handler to
// reject.
func (m *Message) UnmarshalJSON(data []byte) error {
	var env struct {
		Type      MsgType `json:"type"`
		TS        *int64  `json:"ts"`
		Nonce     string  `json:"nonce"`
		SessionID string  `json:"session_id"`
		Seq       *uint64 `json:"seq"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.Type == "" {
		return fmt.Errorf("message missing type")
	}
	if env.TS == nil {
		return fmt.Errorf("message missing ts")
	}

	m.Type = env.Type
	m.TS = *env.TS
	m.Nonce = env.Nonce
	m.SessionID = env.SessionID
	m.Seq = env.Seq
	m.Payload = decodePayload(env.Type, data)
	return nil
}

func decodePayload(t MsgType, data []byte) any {
	switch t {
	case TypeHello:
		var p Hello
		if json.Unmarshal(data, &p) != nil || p.ClientID == "" {
			return nil
		}
		return &p
	case TypeChallenge:
		var p Challenge
		if json.Unmarshal(data, &p) != nil || p.ServerNonce == "" {
			return nil
		}
		return &p
	case TypeAuth:
		var p Auth
		if json.Unmarshal(data, &p) != nil ||
			p.ClientID == "" || p.ServerNonce == "" || p.ClientNonce == "" || p.Sig == "" {
			return nil
		}
		return &p
	case TypeAuthOk:
		var p AuthOk
		if json.Unmarshal(data, &p) != nil || p.Info == "" {
			return nil
		}
		return &p
	case TypeCmd:
		var p Cmd
		// UseNumber keeps argument number lexemes intact so the signature
		// recomputation sees exactly what the signer serialized.
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if dec.Decode(&p) != nil || p.Cmd == "" || p.Sig == "" {
			return nil
		}
		if p.Args == nil {
			p.Args = map[string]any{}
		}
		return &p
	case TypeResp:
		var p Resp
		if json.Unmarshal(data, &p) != nil || p.Status == "" {
			return nil
		}
		return &p
	case TypePing:
		return &Ping{}
	case TypePong:
		return &Pong{}
	case TypeErr:
		var p Err
		if json.Unmarshal(data, &p) != nil || p.Error == "" {
			return nil
		}
		return &p
	default:
		return nil
	}
}
