package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/danmuck/peerlink/internal/bridge"
	"github.com/danmuck/peerlink/internal/config"
	"github.com/joho/godotenv"
)

// loadEnv applies a dotenv file. A missing file is only an error when the
// path was given explicitly.
func loadEnv(path string, explicit bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func loadHostConfig(opts *options) (config.HostConfig, error) {
	cfg := config.DefaultHostConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadHostConfig(opts.configPath)
		if err != nil {
			return config.HostConfig{}, err
		}
		cfg = loaded
	}
	if opts.debug {
		cfg.Debug = true
	}
	if opts.timeout > 0 {
		cfg.CallTimeout = opts.timeout
	}
	return cfg, nil
}

func openBridge(opts *options) (*bridge.Bridge, config.HostConfig, error) {
	cfg, err := loadHostConfig(opts)
	if err != nil {
		return nil, config.HostConfig{}, err
	}
	resolve := bridge.EnvAddress(cfg.PeerAddress)
	if opts.peer != "" {
		resolve = bridge.StaticAddress(opts.peer)
	}
	b := bridge.New(bridge.Config{
		HostID:         cfg.HostID,
		Token:          cfg.AuthToken,
		Debug:          cfg.Debug,
		CallTimeout:    cfg.CallTimeout,
		MaxCallRetries: cfg.MaxCallRetries,
		Session:        cfg.SessionConfig(),
		Resolve:        resolve,
	})
	return b, cfg, nil
}
