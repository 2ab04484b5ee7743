package commands

import (
	"context"
	"os"
	"time"

	"github.com/portcullis/portcullis/internal/client"
	"github.com/portcullis/portcullis/internal/config"
	"github.com/portcullis/portcullis/internal/keystore"
	"github.com/portcullis/portcullis/internal/util"
)

// GetClient dials the daemon and runs the authentication handshake using the
// current CLI globals. The caller owns the returned client and must Close it.
func GetClient() (*client.Client, error) {
	cfg, err := loadClientConfig()
	if err != nil {
		return nil, err
	}
	return connectAndAuth(cfg)
}

func connectAndAuth(cfg *config.ClientConfig) (*client.Client, error) {
	psk, _, err := keystore.ResolvePSK(
		cfg.Security.PSK,
		cfg.Security.PSKFile,
		os.Getenv(keystore.PassphraseEnv),
	)
	if err != nil {
		return nil, err
	}

	c := client.New(client.Config{
		ServerAddr:     cfg.Client.ServerAddr,
		ClientID:       cfg.Client.ClientID,
		PSK:            psk,
		ConnectTimeout: time.Duration(cfg.Timeouts.Connect) * time.Second,
		ReadTimeout:    time.Duration(cfg.Timeouts.Read) * time.Second,
		WriteTimeout:   time.Duration(cfg.Timeouts.Write) * time.Second,
	})

	// Dial failures get a couple of retries to ride out a daemon restart.
	// A rejected handshake is final; retrying would hammer the daemon with
	// a key it already refused.
	retryCfg := &util.RetryConfig{
		MaxRetries: 2,
		BaseDelay:  300 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
		RetryIf:    util.DefaultRetryIf(),
	}
	result := util.Retry(context.Background(), retryCfg, func() error {
		if err := c.Connect(); err != nil {
			return err
		}
		if err := c.Authenticate(); err != nil {
			c.Close()
			return util.MarkNonRetryable(err)
		}
		return nil
	})
	if result.LastError != nil {
		return nil, result.LastError
	}
	return c, nil
}
