package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/portcullis/portcullis/internal/command"
	"github.com/portcullis/portcullis/internal/logging"
	"github.com/portcullis/portcullis/internal/metrics"
	"github.com/portcullis/portcullis/internal/session"
	"github.com/portcullis/portcullis/internal/util"
	"github.com/portcullis/portcullis/pkg/protocol"
)

const (
	// DefaultListenAddr binds to loopback; exposure beyond the host is an
	// explicit configuration choice.
	DefaultListenAddr = "127.0.0.1:5000"

	// DefaultMaxConns caps concurrently served connections.
	DefaultMaxConns = 100

	// DefaultReadTimeout bounds a single frame read in the command phase.
	DefaultReadTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 30 * time.Second

	// DefaultAuthTimeout bounds the whole handshake, hello through auth_ok.
	DefaultAuthTimeout = 60 * time.Second

	// DefaultHandshakeBurst is the per-IP burst allowance when handshake
	// rate limiting is enabled.
	DefaultHandshakeBurst = 5
)

// Limiter bookkeeping intervals.
const (
	limiterCleanupInterval = 5 * time.Minute
	limiterStaleAfter      = 10 * time.Minute
)

// Config holds the orchestrator settings. Zero values fall back to the
// package defaults in New.
type Config struct {
	ListenAddr    string
	MaxConns      int
	MaxFrameBytes uint32
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	AuthTimeout   time.Duration

	// HandshakeRate is the per-IP handshake admission rate in handshakes
	// per second. Zero disables rate limiting.
	HandshakeRate  float64
	HandshakeBurst int
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    DefaultListenAddr,
		MaxConns:      DefaultMaxConns,
		MaxFrameBytes: protocol.DefaultMaxFrameSize,
		ReadTimeout:   DefaultReadTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		AuthTimeout:   DefaultAuthTimeout,
		HandshakeRate: 0,
	}
}

// Server accepts connections, authenticates clients and dispatches their
// signed commands. One goroutine serves each connection.
type Server struct {
	cfg      Config
	sessions *session.Manager
	registry *command.Registry
	metrics  *metrics.Collector

	mu       sync.Mutex
	running  bool
	listener net.Listener
	cancel   context.CancelFunc

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	// Per-IP handshake rate limiters.
	limiters sync.Map

	wg sync.WaitGroup
}

// limiterEntry holds a rate limiter and the last time it was used.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanoseconds
}

// New creates a Server. Zero-valued Config fields take the package defaults;
// a nil collector gets a fresh registry.
func New(cfg Config, sessions *session.Manager, registry *command.Registry, collector *metrics.Collector) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = protocol.DefaultMaxFrameSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.HandshakeRate > 0 && cfg.HandshakeBurst < 1 {
		cfg.HandshakeBurst = DefaultHandshakeBurst
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}

	return &Server{
		cfg:      cfg,
		sessions: sessions,
		registry: registry,
		metrics:  collector,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Metrics returns the server's metrics collector, for exposing its registry.
func (s *Server) Metrics() *metrics.Collector {
	return s.metrics
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listener and begins accepting connections. It returns
// once the listener is bound; serving continues in the background until
// Stop or ctx cancellation.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	// The admission gate: a connection holds a slot from accept until its
	// Close, so MaxConns bounds concurrently served clients.
	ln = netutil.LimitListener(ln, s.cfg.MaxConns)

	ctx, cancel := context.WithCancel(ctx)
	s.listener = ln
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	logging.Info("server listening",
		"addr", ln.Addr().String(),
		"max_conns", s.cfg.MaxConns,
		logging.Component("server"))

	if s.cfg.HandshakeRate > 0 {
		s.wg.Add(1)
		util.SafeGoWithName("limiter-cleanup", func() {
			s.limiterCleanupLoop(ctx)
		})
	}

	s.wg.Add(1)
	util.SafeGoWithName("accept-loop", func() {
		s.acceptLoop(ctx, ln)
	})

	return nil
}

// Stop closes the listener and all live connections, then waits for the
// connection handlers to drain. Waiting is bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	ln := s.listener
	s.mu.Unlock()

	cancel()
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logging.Warn("listener close", logging.Err(err), logging.Component("server"))
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("server stopped", logging.Component("server"))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acceptLoop accepts connections until the listener closes or ctx is
// cancelled.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Error("accept failed", logging.Err(err), logging.Component("server"))
			continue
		}

		s.trackConn(conn)
		s.wg.Add(1)
		util.SafeGoWithName("connection-handler", func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		})
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

// allowHandshake applies the per-IP pre-auth rate limit. Always true when
// rate limiting is disabled.
func (s *Server) allowHandshake(remote string) bool {
	if s.cfg.HandshakeRate <= 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	return s.getLimiter(host).Allow()
}

// getLimiter returns the rate limiter for the given IP address, creating
// one if it does not already exist.
func (s *Server) getLimiter(ip string) *rate.Limiter {
	now := time.Now().UnixNano()

	if val, ok := s.limiters.Load(ip); ok {
		entry := val.(*limiterEntry)
		entry.lastSeen.Store(now)
		return entry.limiter
	}

	entry := &limiterEntry{
		limiter: rate.NewLimiter(rate.Limit(s.cfg.HandshakeRate), s.cfg.HandshakeBurst),
	}
	entry.lastSeen.Store(now)
	actual, _ := s.limiters.LoadOrStore(ip, entry)
	return actual.(*limiterEntry).limiter
}

// limiterCleanupLoop periodically removes limiters for remotes that have
// not connected recently.
func (s *Server) limiterCleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupLimiters()
		}
	}
}

func (s *Server) cleanupLimiters() {
	stale := time.Now().Add(-limiterStaleAfter).UnixNano()
	var cleaned int

	s.limiters.Range(func(key, value any) bool {
		if value.(*limiterEntry).lastSeen.Load() < stale {
			s.limiters.Delete(key)
			cleaned++
		}
		return true
	})

	if cleaned > 0 {
		logging.Debug("removed stale handshake limiters",
			"count", cleaned,
			logging.Component("server"))
	}
}
