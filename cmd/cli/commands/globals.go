package commands

import (
	"runtime"
	"runtime/debug"

	"github.com/portcullis/portcullis/internal/config"
)

// Global CLI flags
var (
	// ConfigPath is the path to the client config file
	ConfigPath string

	// ServerAddr overrides the configured server address
	ServerAddr string

	// ClientID overrides the configured client id
	ClientID string
)

// loadClientConfig loads the client configuration and applies flag overrides.
func loadClientConfig() (*config.ClientConfig, error) {
	path := ConfigPath
	if path == "" {
		path = config.DefaultClientConfigPath()
	}
	cfg, err := config.LoadClient(path)
	if err != nil {
		return nil, err
	}
	if ServerAddr != "" {
		cfg.Client.ServerAddr = ServerAddr
	}
	if ClientID != "" {
		cfg.Client.ClientID = ClientID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go version
func GetGoVersion() string {
	return runtime.Version()
}
