package session

import (
	"sync"
	"time"

	"github.com/portcullis/portcullis/internal/logging"
	"github.com/portcullis/portcullis/pkg/protocol"
)

const (
	// DefaultNonceTTL is how long handshake nonce composites are retained
	DefaultNonceTTL = 5 * time.Minute
)

// Ledger remembers handshake nonce composites so a captured handshake cannot
// be replayed while its entry is live. Expired entries are evicted inside
// CheckAndRecord itself rather than by a background sweeper, so the map never
// outlives handshake traffic by more than one TTL window.
type Ledger struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewLedger creates a ledger that retains entries for ttl.
func NewLedger(ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &Ledger{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// CheckAndRecord rejects key if a live entry exists, otherwise records it.
// Eviction, lookup, and insert share one lock scope, so two concurrent calls
// with the same key cannot both succeed.
func (l *Ledger) CheckAndRecord(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	removed := 0
	for k, seenAt := range l.seen {
		if now.Sub(seenAt) >= l.ttl {
			delete(l.seen, k)
			removed++
		}
	}
	if removed > 0 {
		logging.Debug("evicted expired handshake nonces",
			"removed", removed,
			"remaining", len(l.seen),
			logging.Component("session"))
	}

	if _, exists := l.seen[key]; exists {
		return protocol.ReplayDetectedErr()
	}

	l.seen[key] = now
	return nil
}

// Len returns the number of live entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
