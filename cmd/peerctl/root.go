package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/danmuck/peerlink/internal/auth"
	"github.com/danmuck/peerlink/internal/config"
	"github.com/danmuck/peerlink/internal/logging"
	"github.com/danmuck/peerlink/internal/observability"
	"github.com/danmuck/peerlink/internal/peer"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath, listen string
	cmd := &cobra.Command{
		Use:          "peerctl",
		Short:        "Run a demo peer that answers host triggers",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadPeerConfig(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.ListenAddr = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "peer config TOML path")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func loadPeerConfig(path string) (config.PeerConfig, error) {
	if path == "" {
		return config.DefaultPeerConfig(), nil
	}
	return config.LoadPeerConfig(path)
}

func newServer(cfg config.PeerConfig, quit context.CancelFunc) (*peer.Server, error) {
	logger := observability.InitLogger("peerctl", cfg.PeerID)
	srv, err := peer.NewServer(peer.Config{
		PeerID:     cfg.PeerID,
		ListenAddr: cfg.ListenAddr,
		Path:       cfg.Path,
		Logger:     logging.NewZerologSink(logger),
		AcceptHost: auth.Hook(auth.Policy(cfg.AuthToken, cfg.AllowedHosts)),
	})
	if err != nil {
		return nil, err
	}
	registerDemoHandlers(srv, newFileStore(), quit)
	return srv, nil
}

func run(ctx context.Context, cfg config.PeerConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv, err := newServer(cfg, cancel)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}
