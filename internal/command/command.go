package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/portcullis/portcullis/internal/logging"
)

// Handler executes one named command against its decoded argument map.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Runtime is the read-only view of the running daemon that built-in commands
// report from. Sessions may be nil when no session store is attached.
type Runtime struct {
	Start    time.Time
	Version  string
	Sessions func() int
}

// Registry dispatches commands by exact name. Command names are matched
// case-sensitively; clients send them uppercased.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	rt       Runtime
}

// NewRegistry creates a registry with the built-in command set registered.
func NewRegistry(rt Runtime) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		rt:       rt,
	}
	r.Register("PING", r.handlePing)
	r.Register("ECHO", r.handleEcho)
	r.Register("TIME", r.handleTime)
	r.Register("STATUS", r.handleStatus)
	return r
}

// Register adds or replaces a handler.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// Execute runs the named command. Unknown names produce the exact error text
// clients display.
func (r *Registry) Execute(ctx context.Context, cmd string, args map[string]any) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[cmd]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("Unknown command: %s", cmd)
	}

	logging.Debug("executing command", "cmd", cmd, logging.Component("command"))
	return h(ctx, args)
}

// handlePing handles PING commands
func (r *Registry) handlePing(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{"message": "PONG"}, nil
}

// handleEcho handles ECHO commands
func (r *Registry) handleEcho(ctx context.Context, args map[string]any) (any, error) {
	text, ok := args["text"].(string)
	if !ok {
		return nil, errors.New("ECHO requires 'text' argument")
	}
	return map[string]any{"echo": text}, nil
}

// handleTime handles TIME commands
func (r *Registry) handleTime(ctx context.Context, args map[string]any) (any, error) {
	now := time.Now()
	return map[string]any{
		"timestamp": now.Unix(),
		"iso8601":   now.UTC().Format(time.RFC3339),
	}, nil
}

// handleStatus handles STATUS commands
func (r *Registry) handleStatus(ctx context.Context, args map[string]any) (any, error) {
	sessions := 0
	if r.rt.Sessions != nil {
		sessions = r.rt.Sessions()
	}
	return map[string]any{
		"version":     r.rt.Version,
		"uptime_secs": int64(time.Since(r.rt.Start).Seconds()),
		"status":      "running",
		"sessions":    sessions,
	}, nil
}
