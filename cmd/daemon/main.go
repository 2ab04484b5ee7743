package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portcullis/portcullis/internal/command"
	"github.com/portcullis/portcullis/internal/config"
	"github.com/portcullis/portcullis/internal/keystore"
	"github.com/portcullis/portcullis/internal/logging"
	"github.com/portcullis/portcullis/internal/metrics"
	"github.com/portcullis/portcullis/internal/server"
	"github.com/portcullis/portcullis/internal/session"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", config.DefaultServerConfigPath(), "Path to config file")
	listenAddr := flag.String("listen", "", "Listen address override (host:port)")
	watchConfig := flag.Bool("watch-config", false, "Reload the allowlist when the config file changes")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("portcullisd %s\n", version)
		return
	}

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid listen address: %v\n", err)
			os.Exit(1)
		}
	}

	logging.Setup(os.Stdout, cfg.Logging.Level, cfg.Logging.JSON)
	logging.EnableRedaction()

	psk, pskSource, err := keystore.ResolvePSK(
		cfg.Security.PSK,
		cfg.Security.PSKFile,
		os.Getenv(keystore.PassphraseEnv),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving PSK: %v\n", err)
		os.Exit(1)
	}

	sessions := session.NewManager(session.Config{
		PSK:              psk,
		AllowedClientIDs: cfg.Security.AllowedClientIDs,
		TimestampSkew:    time.Duration(cfg.Security.TimestampSkew) * time.Second,
		NonceTTL:         time.Duration(cfg.Security.NonceTTL) * time.Second,
	})
	registry := command.NewRegistry(command.Runtime{
		Start:    time.Now(),
		Version:  version,
		Sessions: sessions.Count,
	})
	collector := metrics.NewCollector()

	srv := server.New(server.Config{
		ListenAddr:     cfg.Server.ListenAddr,
		MaxConns:       cfg.Limits.MaxConns,
		MaxFrameBytes:  uint32(cfg.Limits.MaxFrameBytes),
		ReadTimeout:    time.Duration(cfg.Limits.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Limits.WriteTimeout) * time.Second,
		AuthTimeout:    time.Duration(cfg.Limits.AuthTimeout) * time.Second,
		HandshakeRate:  cfg.Security.HandshakeRate,
		HandshakeBurst: cfg.Security.HandshakeBurst,
	}, sessions, registry, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := srv.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
		os.Exit(1)
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Server.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("Metrics endpoint failed",
					logging.Err(err),
					logging.Component("daemon"))
			}
		}()
	}

	if *watchConfig {
		_, err := config.Watch(ctx, *configPath, func(newCfg *config.ServerConfig) {
			sessions.SetAllowlist(newCfg.Security.AllowedClientIDs)
			logging.Info("Allowlist reloaded",
				"allowed_client_ids", len(newCfg.Security.AllowedClientIDs),
				logging.Component("daemon"))
		})
		if err != nil {
			logging.Error("Failed to watch config file",
				logging.Err(err),
				logging.Component("daemon"))
		}
	}

	logging.Info("Portcullis daemon started",
		"version", version,
		"listen_addr", srv.Addr().String(),
		"metrics_addr", cfg.Server.MetricsAddr,
		"psk_source", pskSource,
		"allowed_client_ids", len(cfg.Security.AllowedClientIDs),
		logging.Component("daemon"))

	<-sigCh
	logging.Info("Shutting down...", logging.Component("daemon"))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logging.Error("Error stopping metrics endpoint",
				logging.Err(err),
				logging.Component("daemon"))
		}
	}
	if err := srv.Stop(shutdownCtx); err != nil {
		logging.Error("Error during shutdown",
			logging.Err(err),
			logging.Component("daemon"))
	}

	logging.Info("Shutdown complete", logging.Component("daemon"))
}
