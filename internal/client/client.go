package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/portcullis/portcullis/internal/logging"
	"github.com/portcullis/portcullis/pkg/protocol"
)

const (
	// DefaultServerAddr matches the server's default listen address.
	DefaultServerAddr = "127.0.0.1:5000"

	// DefaultClientID identifies a client that was never configured.
	DefaultClientID = "client-001"

	// DefaultConnectTimeout bounds the TCP dial.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultReadTimeout bounds a single frame read.
	DefaultReadTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 30 * time.Second
)

// Config holds the client settings. Zero values fall back to the package
// defaults in New.
type Config struct {
	ServerAddr     string
	ClientID       string
	PSK            []byte
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxFrameBytes  uint32
}

// Client speaks the command protocol with one server over one connection.
// The session cursor (id, key, sequence) belongs to this client alone and
// is never shared across connections. Safe for concurrent use; commands
// are serialized on the connection.
type Client struct {
	cfg Config

	mu   sync.Mutex
	conn net.Conn

	sessionID  string
	sessionKey []byte
	seq        uint64
}

// New creates a disconnected client. Zero-valued Config fields take the
// package defaults.
func New(cfg Config) *Client {
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = DefaultServerAddr
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = protocol.DefaultMaxFrameSize
	}
	return &Client{cfg: cfg}
}

// Dial creates a client and connects it.
func Dial(cfg Config) (*Client, error) {
	c := New(cfg)
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect establishes the TCP connection under the connect timeout.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := net.DialTimeout("tcp", c.cfg.ServerAddr, c.cfg.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.cfg.ServerAddr, err)
	}
	c.conn = conn

	logging.Debug("connected",
		logging.RemoteAddr(c.cfg.ServerAddr),
		logging.ClientID(c.cfg.ClientID),
		logging.Component("client"))
	return nil
}

// Close closes the connection. Safe to call repeatedly.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// SessionID returns the authenticated session id, empty before
// Authenticate.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Seq returns the last sequence number sent.
func (c *Client) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Authenticate runs the handshake: hello, challenge, auth, auth_ok. On
// success the session key is derived locally and the sequence counter
// resets to zero.
func (c *Client) Authenticate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	if len(c.cfg.PSK) == 0 {
		return fmt.Errorf("no PSK configured")
	}

	if err := c.writeLocked(protocol.NewHello(c.cfg.ClientID)); err != nil {
		return err
	}

	msg, err := c.readLocked()
	if err != nil {
		return err
	}
	if msg.Type == protocol.TypeErr {
		return remoteErr(msg)
	}
	if msg.Type != protocol.TypeChallenge {
		return protocol.InvalidMessageErr("expected challenge")
	}
	ch, ok := msg.Payload.(*protocol.Challenge)
	if !ok {
		return protocol.InvalidMessageErr("malformed challenge")
	}

	clientNonce := protocol.GenerateNonce()
	sig := protocol.AuthSignature(c.cfg.PSK, c.cfg.ClientID, ch.ServerNonce, clientNonce)
	if err := c.writeLocked(protocol.NewAuth(c.cfg.ClientID, ch.ServerNonce, clientNonce, sig)); err != nil {
		return err
	}

	msg, err = c.readLocked()
	if err != nil {
		return err
	}
	if msg.Type == protocol.TypeErr {
		return remoteErr(msg)
	}
	if msg.Type != protocol.TypeAuthOk {
		return protocol.InvalidMessageErr("expected auth_ok")
	}
	if msg.SessionID == "" {
		return protocol.AuthFailedErr("no session_id in auth_ok")
	}

	c.sessionID = msg.SessionID
	c.sessionKey = protocol.DeriveSessionKey(c.cfg.PSK, msg.SessionID, ch.ServerNonce, clientNonce)
	c.seq = 0

	logging.Debug("authenticated",
		logging.SessionID(c.sessionID),
		logging.ClientID(c.cfg.ClientID),
		logging.Component("client"))
	return nil
}

// SendCommand signs and sends one command and reads its response. The
// sequence counter increments before the send and is never rewound, even
// when the command fails. A response status of "error" surfaces the
// server's error text as the returned error.
func (c *Client) SendCommand(cmd string, args map[string]any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	if c.sessionID == "" {
		return nil, fmt.Errorf("not authenticated")
	}

	c.seq++
	seq := c.seq
	nonce := protocol.GenerateNonce()
	sig := protocol.CommandSignature(c.sessionKey, c.sessionID, seq, nonce, cmd, args)

	if err := c.writeLocked(protocol.NewCmd(c.sessionID, seq, nonce, cmd, args, sig)); err != nil {
		return nil, err
	}

	msg, err := c.readLocked()
	if err != nil {
		return nil, err
	}
	if msg.Type == protocol.TypeErr {
		return nil, remoteErr(msg)
	}
	if msg.Type != protocol.TypeResp {
		return nil, protocol.InvalidMessageErr("expected resp")
	}
	resp, ok := msg.Payload.(*protocol.Resp)
	if !ok {
		return nil, protocol.InvalidMessageErr("malformed resp")
	}

	if msg.SeqValue() != seq {
		logging.Warn("response seq mismatch",
			"sent", seq,
			"got", msg.SeqValue(),
			logging.SessionID(c.sessionID),
			logging.Component("client"))
	}

	if resp.Status == protocol.StatusError {
		return nil, errors.New(resp.Error)
	}
	return resp.Result, nil
}

// Ping measures a transport round trip. No authentication or sequence
// number involved.
func (c *Client) Ping() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return 0, fmt.Errorf("not connected")
	}

	start := time.Now()
	if err := c.writeLocked(protocol.NewPing()); err != nil {
		return 0, err
	}
	msg, err := c.readLocked()
	if err != nil {
		return 0, err
	}
	if msg.Type == protocol.TypeErr {
		return 0, remoteErr(msg)
	}
	if msg.Type != protocol.TypePong {
		return 0, protocol.InvalidMessageErr("expected pong")
	}
	return time.Since(start), nil
}

func (c *Client) writeLocked(msg *protocol.Message) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return protocol.IoErr(err)
	}
	return protocol.WriteFrame(c.conn, msg)
}

func (c *Client) readLocked() (*protocol.Message, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return nil, protocol.IoErr(err)
	}
	return protocol.ReadFrame(c.conn, c.cfg.MaxFrameBytes)
}

// remoteErr converts a server err notification into a plain error carrying
// the server's text.
func remoteErr(msg *protocol.Message) error {
	if e, ok := msg.Payload.(*protocol.Err); ok {
		return errors.New(e.Error)
	}
	return protocol.InvalidMessageErr("malformed err message")
}
