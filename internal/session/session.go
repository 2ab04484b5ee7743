package session

import (
	"sync"
	"time"

	"github.com/portcullis/portcullis/internal/logging"
	"github.com/portcullis/portcullis/pkg/protocol"
)

const (
	// DefaultTimestampSkew is the maximum clock difference tolerated on
	// signed messages, in either direction
	DefaultTimestampSkew = 120 * time.Second
)

// Session is the server-side record of one authenticated connection.
type Session struct {
	ID        string
	ClientID  string
	Key       []byte // derived per session, never the PSK itself
	LastSeq   uint64
	CreatedAt time.Time
}

// Config carries the security material a Manager needs. The PSK is raw key
// bytes, already decoded from its config representation.
type Config struct {
	PSK              []byte
	AllowedClientIDs []string
	TimestampSkew    time.Duration
	NonceTTL         time.Duration
}

// Manager owns all live sessions and the handshake nonce ledger. All methods
// are safe for concurrent use from connection handlers.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	allowMu sync.RWMutex
	allowed map[string]struct{} // nil admits every client id

	ledger  *Ledger
	psk     []byte
	skew    time.Duration
	nowFunc func() time.Time
}

// NewManager creates a manager from cfg. Zero skew and TTL fall back to the
// package defaults.
func NewManager(cfg Config) *Manager {
	skew := cfg.TimestampSkew
	if skew <= 0 {
		skew = DefaultTimestampSkew
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		ledger:   NewLedger(cfg.NonceTTL),
		psk:      cfg.PSK,
		skew:     skew,
		nowFunc:  time.Now,
	}
	m.SetAllowlist(cfg.AllowedClientIDs)
	return m
}

// SetAllowlist replaces the client id allowlist. An empty list admits all
// clients. Safe to call while connections are being handled.
func (m *Manager) SetAllowlist(ids []string) {
	var allowed map[string]struct{}
	if len(ids) > 0 {
		allowed = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			allowed[id] = struct{}{}
		}
	}

	m.allowMu.Lock()
	m.allowed = allowed
	m.allowMu.Unlock()
}

// ValidateTimestamp rejects a message timestamp outside the skew window.
// A timestamp exactly at the boundary is accepted.
func (m *Manager) ValidateTimestamp(ts int64) error {
	now := m.nowFunc().Unix()
	diff := now - ts
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(m.skew/time.Second) {
		logging.Warn("timestamp outside skew window",
			"ts", ts,
			"now", now,
			logging.Component("session"))
		return protocol.TimestampErr(ts)
	}
	return nil
}

// ValidateClientID rejects ids excluded by the allowlist. With no allowlist
// configured every id is admitted.
func (m *Manager) ValidateClientID(clientID string) error {
	m.allowMu.RLock()
	allowed := m.allowed
	m.allowMu.RUnlock()

	if allowed == nil {
		return nil
	}
	if _, ok := allowed[clientID]; !ok {
		logging.Warn("client id not in allowlist",
			logging.ClientID(clientID),
			logging.Component("session"))
		return protocol.AuthFailedErr("client not allowed")
	}
	return nil
}

// NonceKey builds the replay ledger key for one handshake attempt.
func NonceKey(clientID, serverNonce, clientNonce string) string {
	return clientID + ":" + serverNonce + ":" + clientNonce
}

// CheckAndRecordNonce records a handshake nonce composite, rejecting reuse
// within the ledger TTL.
func (m *Manager) CheckAndRecordNonce(key string) error {
	if err := m.ledger.CheckAndRecord(key); err != nil {
		logging.Warn("handshake nonce reused",
			"nonce_key", key,
			logging.Component("session"))
		return err
	}
	return nil
}

// ValidateAuth verifies a handshake signature against the PSK.
func (m *Manager) ValidateAuth(clientID, serverNonce, clientNonce, sig string) error {
	if !protocol.VerifyAuthSignature(m.psk, clientID, serverNonce, clientNonce, sig) {
		logging.Warn("handshake signature mismatch",
			logging.ClientID(clientID),
			logging.Component("session"))
		return protocol.InvalidSignatureErr()
	}
	return nil
}

// CreateSession allocates a session with a fresh random id and a key derived
// from the PSK and both handshake nonces. The returned value is a copy.
func (m *Manager) CreateSession(clientID, serverNonce, clientNonce string) *Session {
	id := protocol.GenerateNonce()
	sess := &Session{
		ID:        id,
		ClientID:  clientID,
		Key:       protocol.DeriveSessionKey(m.psk, id, serverNonce, clientNonce),
		LastSeq:   0,
		CreatedAt: m.nowFunc(),
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	logging.Info("session created",
		logging.SessionID(id),
		logging.ClientID(clientID),
		logging.Component("session"))

	cp := *sess
	return &cp
}

// GetSession returns a copy of the session record, or SessionNotFound.
func (m *Manager) GetSession(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, protocol.SessionNotFoundErr(sessionID)
	}
	cp := *sess
	return &cp, nil
}

// ValidateAndUpdateSeq admits seq only if strictly above the session's cursor
// and advances the cursor before releasing the lock. Two concurrent calls with
// the same seq cannot both succeed.
func (m *Manager) ValidateAndUpdateSeq(sessionID string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return protocol.SessionNotFoundErr(sessionID)
	}
	if seq <= sess.LastSeq {
		logging.Warn("sequence violation",
			logging.SessionID(sessionID),
			"last_seq", sess.LastSeq,
			"got", seq,
			logging.Component("session"))
		return protocol.SequenceViolationErr(sess.LastSeq, seq)
	}
	sess.LastSeq = seq
	return nil
}

// RemoveSession deletes the record. Removing an unknown id is a no-op.
func (m *Manager) RemoveSession(sessionID string) {
	m.mu.Lock()
	_, existed := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if existed {
		logging.Info("session removed",
			logging.SessionID(sessionID),
			logging.Component("session"))
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
