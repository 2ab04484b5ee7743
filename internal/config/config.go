package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/portcullis/portcullis/internal/logging"
)

// ServerConfig represents the complete daemon configuration
type ServerConfig struct {
	Server   ServerSection   `yaml:"server"`
	Security SecuritySection `yaml:"security"`
	Limits   LimitsSection   `yaml:"limits"`
	Logging  LoggingSection  `yaml:"logging"`
}

// ServerSection contains listener settings
type ServerSection struct {
	ListenAddr  string `yaml:"listen_addr"`  // host:port the protocol listener binds
	MetricsAddr string `yaml:"metrics_addr"` // host:port for /metrics; empty disables it
}

// SecuritySection contains authentication settings
type SecuritySection struct {
	PSK              string   `yaml:"psk"`                // hex-encoded pre-shared key
	PSKFile          string   `yaml:"psk_file"`           // sealed PSK file; passphrase from PORTCULLIS_PSK_PASSPHRASE
	AllowedClientIDs []string `yaml:"allowed_client_ids"` // empty admits all
	TimestampSkew    int      `yaml:"timestamp_skew_secs"`
	NonceTTL         int      `yaml:"nonce_ttl_secs"`
	HandshakeRate    float64  `yaml:"handshake_rate"`  // per-IP handshakes/sec before auth, 0 = unlimited
	HandshakeBurst   int      `yaml:"handshake_burst"` // burst allowance when handshake_rate is set
}

// LimitsSection contains connection and frame limits
type LimitsSection struct {
	MaxConns      int `yaml:"max_conns"`
	MaxFrameBytes int `yaml:"max_frame_bytes"`
	ReadTimeout   int `yaml:"read_timeout_secs"`
	WriteTimeout  int `yaml:"write_timeout_secs"`
	AuthTimeout   int `yaml:"auth_timeout_secs"` // budget for the whole handshake
}

// LoggingSection contains log output settings
type LoggingSection struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// ClientConfig represents the CLI client configuration
type ClientConfig struct {
	Client   ClientSection         `yaml:"client"`
	Security ClientSecuritySection `yaml:"security"`
	Timeouts TimeoutsSection       `yaml:"timeouts"`
	Logging  LoggingSection        `yaml:"logging"`
}

// ClientSection contains client identity and target settings
type ClientSection struct {
	ClientID   string `yaml:"client_id"`
	ServerAddr string `yaml:"server_addr"`
}

// ClientSecuritySection contains the client's PSK sources
type ClientSecuritySection struct {
	PSK     string `yaml:"psk"`      // hex-encoded pre-shared key
	PSKFile string `yaml:"psk_file"` // sealed PSK file
}

// TimeoutsSection contains client-side timeouts
type TimeoutsSection struct {
	Connect int `yaml:"connect_secs"`
	Read    int `yaml:"read_secs"`
	Write   int `yaml:"write_secs"`
}

// DefaultServerConfig returns the default daemon configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			ListenAddr:  "127.0.0.1:5000",
			MetricsAddr: "",
		},
		Security: SecuritySection{
			PSK:              "",
			PSKFile:          "",
			AllowedClientIDs: []string{},
			TimestampSkew:    120,
			NonceTTL:         300,
			HandshakeRate:    0,
			HandshakeBurst:   5,
		},
		Limits: LimitsSection{
			MaxConns:      100,
			MaxFrameBytes: 1024 * 1024, // 1MB
			ReadTimeout:   30,
			WriteTimeout:  30,
			AuthTimeout:   60,
		},
		Logging: LoggingSection{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultClientConfig returns the default CLI configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Client: ClientSection{
			ClientID:   "client-001",
			ServerAddr: "127.0.0.1:5000",
		},
		Security: ClientSecuritySection{},
		Timeouts: TimeoutsSection{
			Connect: 10,
			Read:    30,
			Write:   30,
		},
		Logging: LoggingSection{
			Level: "info",
			JSON:  false,
		},
	}
}

// LoadServer loads the daemon configuration from file. A missing file yields
// the defaults; the result is always validated.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Security.PSKFile = expandPath(cfg.Security.PSKFile)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadClient loads the CLI configuration from file. A missing file yields the
// defaults; the result is always validated.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Security.PSKFile = expandPath(cfg.Security.PSKFile)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to file
func (c *ServerConfig) Save(path string) error {
	return saveYAML(path, c)
}

// Save writes the configuration to file
func (c *ClientConfig) Save(path string) error {
	return saveYAML(path, c)
}

func saveYAML(path string, v any) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the daemon configuration
func (c *ServerConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen_addr %q: %w", c.Server.ListenAddr, err)
	}
	if c.Server.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.Server.MetricsAddr); err != nil {
			return fmt.Errorf("invalid metrics_addr %q: %w", c.Server.MetricsAddr, err)
		}
	}

	if c.Security.PSK == "" && c.Security.PSKFile == "" {
		return fmt.Errorf("psk or psk_file must be configured")
	}
	if c.Security.PSK != "" {
		if _, err := hex.DecodeString(strings.TrimSpace(c.Security.PSK)); err != nil {
			return fmt.Errorf("psk is not valid hex: %w", err)
		}
	}
	if c.Security.TimestampSkew <= 0 {
		return fmt.Errorf("timestamp_skew_secs must be positive")
	}
	if c.Security.NonceTTL <= 0 {
		return fmt.Errorf("nonce_ttl_secs must be positive")
	}
	if c.Security.HandshakeRate < 0 {
		return fmt.Errorf("handshake_rate must not be negative")
	}
	if c.Security.HandshakeRate > 0 && c.Security.HandshakeBurst < 1 {
		return fmt.Errorf("handshake_burst must be at least 1 when handshake_rate is set")
	}

	if c.Limits.MaxConns < 1 {
		return fmt.Errorf("max_conns must be at least 1")
	}
	if c.Limits.MaxFrameBytes < 1 {
		return fmt.Errorf("max_frame_bytes must be at least 1")
	}
	if c.Limits.ReadTimeout < 1 || c.Limits.WriteTimeout < 1 || c.Limits.AuthTimeout < 1 {
		return fmt.Errorf("timeouts must be at least 1 second")
	}

	return nil
}

// Validate validates the CLI configuration
func (c *ClientConfig) Validate() error {
	if c.Client.ClientID == "" {
		return fmt.Errorf("client_id must be configured")
	}
	if _, _, err := net.SplitHostPort(c.Client.ServerAddr); err != nil {
		return fmt.Errorf("invalid server_addr %q: %w", c.Client.ServerAddr, err)
	}

	// The PSK may also come from the sealed file or the OS keyring, so only
	// an inline value is checked here
	if c.Security.PSK != "" {
		if _, err := hex.DecodeString(strings.TrimSpace(c.Security.PSK)); err != nil {
			return fmt.Errorf("psk is not valid hex: %w", err)
		}
	}

	if c.Timeouts.Connect < 1 || c.Timeouts.Read < 1 || c.Timeouts.Write < 1 {
		return fmt.Errorf("timeouts must be at least 1 second")
	}

	return nil
}

// PSKBytes decodes a hex PSK string into raw key bytes. Short keys are
// admitted with a warning.
func PSKBytes(pskHex string) ([]byte, error) {
	pskHex = strings.TrimSpace(pskHex)
	if pskHex == "" {
		return nil, nil
	}

	key, err := hex.DecodeString(pskHex)
	if err != nil {
		return nil, fmt.Errorf("psk is not valid hex: %w", err)
	}
	if len(key) < 32 {
		logging.Warn("PSK is shorter than 32 bytes; consider using a longer key",
			"bytes", len(key),
			logging.Component("config"))
	}
	return key, nil
}

// DefaultConfigDir returns the directory holding portcullis state
func DefaultConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".portcullis")
}

// DefaultServerConfigPath returns the default daemon config file path
func DefaultServerConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "server.yaml")
}

// DefaultClientConfigPath returns the default CLI config file path
func DefaultClientConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "client.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
