package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/portcullis/portcullis/internal/client"
	"github.com/portcullis/portcullis/internal/config"
	"github.com/portcullis/portcullis/internal/keystore"
)

// clockOffsetWarn is the local/daemon clock offset above which signed
// requests start living dangerously close to the daemon's skew window.
const clockOffsetWarn = 30 * time.Second

// ConfigChecker verifies the client config file parses and validates.
type ConfigChecker struct {
	path string
}

func NewConfigChecker(path string) *ConfigChecker {
	return &ConfigChecker{path: path}
}

func (c *ConfigChecker) Name() string       { return "config file" }
func (c *ConfigChecker) Category() Category { return CategoryConfig }

func (c *ConfigChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	if _, err := os.Stat(c.path); os.IsNotExist(err) {
		result.Status = StatusWarning
		result.Message = "no config file, using defaults"
		result.Details = c.path
		result.FixCommand = "portcullis init"
		return result
	}

	if _, err := config.LoadClient(c.path); err != nil {
		result.Status = StatusError
		result.Message = "config file is invalid"
		result.Details = err.Error()
		result.FixCommand = "portcullis init"
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("%s is valid", c.path)
	return result
}

// KeyChecker verifies a pre-shared key can be resolved from the configured
// sources.
type KeyChecker struct {
	cfg *config.ClientConfig
}

func NewKeyChecker(cfg *config.ClientConfig) *KeyChecker {
	return &KeyChecker{cfg: cfg}
}

func (c *KeyChecker) Name() string       { return "pre-shared key" }
func (c *KeyChecker) Category() Category { return CategorySecurity }

func (c *KeyChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	psk, source, err := keystore.ResolvePSK(
		c.cfg.Security.PSK,
		c.cfg.Security.PSKFile,
		os.Getenv(keystore.PassphraseEnv),
	)
	if err != nil {
		result.Status = StatusError
		result.Message = "pre-shared key unavailable"
		result.Details = err.Error()
		result.FixCommand = "portcullis psk set --generate"
		return result
	}

	if len(psk) < 32 {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("key from %s is only %d bytes", source, len(psk))
		result.Details = "32 bytes or more recommended"
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("key available from %s", source)
	return result
}

// ReachabilityChecker verifies a TCP connection to the daemon address can
// be opened.
type ReachabilityChecker struct {
	addr string
}

func NewReachabilityChecker(addr string) *ReachabilityChecker {
	return &ReachabilityChecker{addr: addr}
}

func (c *ReachabilityChecker) Name() string       { return "daemon reachability" }
func (c *ReachabilityChecker) Category() Category { return CategoryNetwork }

func (c *ReachabilityChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		result.Status = StatusError
		result.Message = fmt.Sprintf("cannot reach daemon at %s", c.addr)
		result.Details = err.Error()
		result.FixCommand = "portcullisd -listen " + c.addr
		return result
	}
	conn.Close()

	result.Status = StatusOK
	result.Message = fmt.Sprintf("daemon reachable at %s", c.addr)
	return result
}

// HandshakeChecker runs the full challenge/response handshake and a signed
// ping against the daemon.
type HandshakeChecker struct {
	cfg *config.ClientConfig
}

func NewHandshakeChecker(cfg *config.ClientConfig) *HandshakeChecker {
	return &HandshakeChecker{cfg: cfg}
}

func (c *HandshakeChecker) Name() string       { return "authenticated handshake" }
func (c *HandshakeChecker) Category() Category { return CategoryNetwork }

func (c *HandshakeChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	psk, _, err := keystore.ResolvePSK(
		c.cfg.Security.PSK,
		c.cfg.Security.PSKFile,
		os.Getenv(keystore.PassphraseEnv),
	)
	if err != nil {
		result.Status = StatusSkipped
		result.Message = "skipped: no pre-shared key available"
		return result
	}

	cl := newCheckerClient(c.cfg, psk)
	if err := cl.Connect(); err != nil {
		result.Status = StatusSkipped
		result.Message = "skipped: daemon not reachable"
		return result
	}
	defer cl.Close()

	if err := cl.Authenticate(); err != nil {
		result.Status = StatusError
		result.Message = "handshake rejected"
		result.Details = err.Error()
		result.FixCommand = "portcullis psk set"
		return result
	}

	rtt, err := cl.Ping()
	if err != nil {
		result.Status = StatusError
		result.Message = "authenticated but signed ping failed"
		result.Details = err.Error()
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("authenticated, signed round trip in %s", rtt.Round(time.Microsecond))
	return result
}

// ClockChecker compares the local clock against the daemon's TIME reply.
// Timestamp validation rejects signed requests once the clocks drift past
// the daemon's skew window.
type ClockChecker struct {
	cfg *config.ClientConfig
}

func NewClockChecker(cfg *config.ClientConfig) *ClockChecker {
	return &ClockChecker{cfg: cfg}
}

func (c *ClockChecker) Name() string       { return "clock agreement" }
func (c *ClockChecker) Category() Category { return CategorySystem }

func (c *ClockChecker) Check(ctx context.Context) CheckResult {
	result := CheckResult{Name: c.Name(), Category: c.Category()}

	psk, _, err := keystore.ResolvePSK(
		c.cfg.Security.PSK,
		c.cfg.Security.PSKFile,
		os.Getenv(keystore.PassphraseEnv),
	)
	if err != nil {
		result.Status = StatusSkipped
		result.Message = "skipped: no pre-shared key available"
		return result
	}

	cl := newCheckerClient(c.cfg, psk)
	if err := cl.Connect(); err != nil {
		result.Status = StatusSkipped
		result.Message = "skipped: daemon not reachable"
		return result
	}
	defer cl.Close()

	if err := cl.Authenticate(); err != nil {
		result.Status = StatusSkipped
		result.Message = "skipped: handshake failed"
		return result
	}

	res, err := cl.SendCommand("TIME", nil)
	local := time.Now()
	if err != nil {
		result.Status = StatusError
		result.Message = "TIME command failed"
		result.Details = err.Error()
		return result
	}

	m, ok := res.(map[string]any)
	ts, tsOK := float64(0), false
	if ok {
		ts, tsOK = m["timestamp"].(float64)
	}
	if !tsOK {
		result.Status = StatusError
		result.Message = "TIME reply had no timestamp"
		return result
	}

	offset := local.Sub(time.Unix(int64(ts), 0))
	if offset < 0 {
		offset = -offset
	}

	if offset > clockOffsetWarn {
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("local clock is %s off the daemon's", offset.Round(time.Millisecond))
		result.Details = "sync the system clock before the offset exceeds the daemon's timestamp skew"
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("clock offset %s", offset.Round(time.Millisecond))
	return result
}

// newCheckerClient builds a protocol client from the client config with
// short check-friendly timeouts.
func newCheckerClient(cfg *config.ClientConfig, psk []byte) *client.Client {
	return client.New(client.Config{
		ServerAddr:     cfg.Client.ServerAddr,
		ClientID:       cfg.Client.ClientID,
		PSK:            psk,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	})
}
