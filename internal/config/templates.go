package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	KindHost = "host"
	KindPeer = "peer"
)

// Template renders the default config for kind as TOML.
func Template(kind string) (string, error) {
	var doc any
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindHost:
		doc = hostFileFrom(DefaultHostConfig())
	case KindPeer:
		doc = peerFileFrom(DefaultPeerConfig())
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	out, err := toml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return string(out), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as kind and reports the first problem.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindHost:
		_, err := LoadHostConfig(path)
		return err
	case KindPeer:
		_, err := LoadPeerConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

func hostFileFrom(c HostConfig) hostFile {
	return hostFile{
		PeerAddress:    c.PeerAddress,
		HostID:         c.HostID,
		AuthToken:      c.AuthToken,
		Debug:          c.Debug,
		CallTimeout:    c.CallTimeout.String(),
		MaxCallRetries: c.MaxCallRetries,
		Reconnect: reconnectFile{
			BaseDelay:      c.Reconnect.BaseDelay.String(),
			MaxDelay:       c.Reconnect.MaxDelay.String(),
			Jitter:         c.Reconnect.Jitter,
			ConnectTimeout: c.Reconnect.ConnectTimeout.String(),
			MaxAttempts:    c.Reconnect.MaxAttempts,
		},
	}
}

func peerFileFrom(c PeerConfig) peerFile {
	hosts := c.AllowedHosts
	if hosts == nil {
		hosts = []string{}
	}
	return peerFile{
		PeerID:       c.PeerID,
		ListenAddr:   c.ListenAddr,
		Path:         c.Path,
		AuthToken:    c.AuthToken,
		AllowedHosts: hosts,
	}
}
