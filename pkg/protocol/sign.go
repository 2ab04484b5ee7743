package protocol

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// NonceSize is the number of random bytes in a nonce; hex encoding doubles it
// on the wire.
const NonceSize = 16

// GenerateNonce returns NonceSize bytes from the system CSPRNG, hex encoded.
func GenerateNonce() string {
	b := make([]byte, NonceSize)
	if _, err := rand.Read(b); err != nil {
		panic("protocol: rand.Read: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// ComputeHMAC returns the HMAC-SHA256 of data under key, hex encoded.
// Deterministic for fixed inputs.
func ComputeHMAC(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC recomputes the HMAC of data and compares it to sig in constant
// time. Mismatched lengths may short-circuit; content comparison never does.
func VerifyHMAC(key, data []byte, sig string) bool {
	computed := ComputeHMAC(key, data)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(sig)) == 1
}

// AuthSignature binds a handshake attempt to the PSK:
// HMAC(psk, client_id || server_nonce || client_nonce).
func AuthSignature(psk []byte, clientID, serverNonce, clientNonce string) string {
	return ComputeHMAC(psk, []byte(clientID+serverNonce+clientNonce))
}

// VerifyAuthSignature checks a handshake signature in constant time.
func VerifyAuthSignature(psk []byte, clientID, serverNonce, clientNonce, sig string) bool {
	return VerifyHMAC(psk, []byte(clientID+serverNonce+clientNonce), sig)
}

// DeriveSessionKey derives the per-session signing key:
// HMAC(psk, session_id || server_nonce || client_nonce), hex-decoded to its
// 32 raw bytes. Both sides derive it independently; it never crosses the wire.
func DeriveSessionKey(psk []byte, sessionID, serverNonce, clientNonce string) []byte {
	sum := ComputeHMAC(psk, []byte(sessionID+serverNonce+clientNonce))
	key, _ := hex.DecodeString(sum)
	return key
}

// CanonicalJSON renders command arguments deterministically: object keys
// sorted lexicographically at every nesting level, no insignificant
// whitespace. nil and empty maps both canonicalize to {}. Client and server
// must share this exact form or command signatures cannot match.
func CanonicalJSON(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// CommandSignature binds a command to its session, position, and payload:
// HMAC(session_key, session_id || seq || nonce || cmd || canonical args),
// with seq rendered in decimal.
func CommandSignature(sessionKey []byte, sessionID string, seq uint64, nonce, cmd string, args map[string]any) string {
	data := sessionID + strconv.FormatUint(seq, 10) + nonce + cmd + CanonicalJSON(args)
	return ComputeHMAC(sessionKey, []byte(data))
}

// VerifyCommandSignature checks a command signature in constant time.
func VerifyCommandSignature(sessionKey []byte, sessionID string, seq uint64, nonce, cmd string, args map[string]any, sig string) bool {
	data := sessionID + strconv.FormatUint(seq, 10) + nonce + cmd + CanonicalJSON(args)
	return VerifyHMAC(sessionKey, []byte(data), sig)
}
