package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/peerlink/internal/protocol/session"
	"github.com/google/uuid"
)

// HostConfig configures a host process and its bridge.
type HostConfig struct {
	// PeerAddress may be empty; PEERLINK_PEER_ADDR can supply it at first use.
	PeerAddress    string
	HostID         string
	AuthToken      string
	Debug          bool
	CallTimeout    time.Duration
	MaxCallRetries int
	Reconnect      ReconnectConfig
}

type ReconnectConfig struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Jitter         float64
	ConnectTimeout time.Duration
	// MaxAttempts <= 0 retries forever.
	MaxAttempts int
}

type PeerConfig struct {
	PeerID     string
	ListenAddr string
	Path       string
	// AuthToken and AllowedHosts, when set, gate host admission.
	AuthToken    string
	AllowedHosts []string
}

type hostFile struct {
	PeerAddress    string        `toml:"peer_address" comment:"ws://host:port/socket; PEERLINK_PEER_ADDR overrides"`
	HostID         string        `toml:"host_id"`
	AuthToken      string        `toml:"auth_token" comment:"presented to peers that require admission"`
	Debug          bool          `toml:"debug"`
	CallTimeout    string        `toml:"call_timeout" comment:"0s waits for the completion indefinitely"`
	MaxCallRetries int           `toml:"max_call_retries" comment:"0 retries forever"`
	Reconnect      reconnectFile `toml:"reconnect"`
}

type reconnectFile struct {
	BaseDelay      string  `toml:"base_delay"`
	MaxDelay       string  `toml:"max_delay"`
	Jitter         float64 `toml:"jitter"`
	ConnectTimeout string  `toml:"connect_timeout"`
	MaxAttempts    int     `toml:"max_attempts" comment:"0 retries forever"`
}

type peerFile struct {
	PeerID       string   `toml:"peer_id"`
	ListenAddr   string   `toml:"listen_addr"`
	Path         string   `toml:"path"`
	AuthToken    string   `toml:"auth_token" comment:"empty admits any host"`
	AllowedHosts []string `toml:"allowed_hosts"`
}

func DefaultHostConfig() HostConfig {
	return HostConfig{
		HostID: "host." + strings.SplitN(uuid.NewString(), "-", 2)[0],
		Reconnect: ReconnectConfig{
			BaseDelay:      time.Second,
			MaxDelay:       5 * time.Second,
			Jitter:         0.5,
			ConnectTimeout: 20 * time.Second,
		},
	}
}

func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		PeerID:     "peer.local",
		ListenAddr: "127.0.0.1:8000",
		Path:       "/socket",
	}
}

func LoadHostConfig(path string) (HostConfig, error) {
	cfg := DefaultHostConfig()

	var raw hostFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return HostConfig{}, fmt.Errorf("load host config: %w", err)
	}

	if meta.IsDefined("peer_address") {
		cfg.PeerAddress = strings.TrimSpace(raw.PeerAddress)
	}
	if meta.IsDefined("host_id") {
		if id := strings.TrimSpace(raw.HostID); id != "" {
			cfg.HostID = id
		}
	}
	if meta.IsDefined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if meta.IsDefined("debug") {
		cfg.Debug = raw.Debug
	}
	if meta.IsDefined("call_timeout") {
		if cfg.CallTimeout, err = parseDuration("call_timeout", raw.CallTimeout); err != nil {
			return HostConfig{}, err
		}
	}
	if meta.IsDefined("max_call_retries") {
		cfg.MaxCallRetries = raw.MaxCallRetries
	}
	if meta.IsDefined("reconnect", "base_delay") {
		if cfg.Reconnect.BaseDelay, err = parseDuration("reconnect.base_delay", raw.Reconnect.BaseDelay); err != nil {
			return HostConfig{}, err
		}
	}
	if meta.IsDefined("reconnect", "max_delay") {
		if cfg.Reconnect.MaxDelay, err = parseDuration("reconnect.max_delay", raw.Reconnect.MaxDelay); err != nil {
			return HostConfig{}, err
		}
	}
	if meta.IsDefined("reconnect", "jitter") {
		cfg.Reconnect.Jitter = raw.Reconnect.Jitter
	}
	if meta.IsDefined("reconnect", "connect_timeout") {
		if cfg.Reconnect.ConnectTimeout, err = parseDuration("reconnect.connect_timeout", raw.Reconnect.ConnectTimeout); err != nil {
			return HostConfig{}, err
		}
	}
	if meta.IsDefined("reconnect", "max_attempts") {
		cfg.Reconnect.MaxAttempts = raw.Reconnect.MaxAttempts
	}

	if err := ValidateHostConfig(cfg); err != nil {
		return HostConfig{}, err
	}
	return cfg, nil
}

func LoadPeerConfig(path string) (PeerConfig, error) {
	cfg := DefaultPeerConfig()

	var raw peerFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return PeerConfig{}, fmt.Errorf("load peer config: %w", err)
	}
	if meta.IsDefined("peer_id") {
		cfg.PeerID = strings.TrimSpace(raw.PeerID)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("path") {
		cfg.Path = strings.TrimSpace(raw.Path)
	}
	if meta.IsDefined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if meta.IsDefined("allowed_hosts") {
		cfg.AllowedHosts = normalizeHosts(raw.AllowedHosts)
	}

	if err := ValidatePeerConfig(cfg); err != nil {
		return PeerConfig{}, err
	}
	return cfg, nil
}

func ValidateHostConfig(cfg HostConfig) error {
	if strings.TrimSpace(cfg.HostID) == "" {
		return fmt.Errorf("host config missing host_id")
	}
	if cfg.CallTimeout < 0 {
		return fmt.Errorf("host config call_timeout must be >= 0")
	}
	if cfg.MaxCallRetries < 0 {
		return fmt.Errorf("host config max_call_retries must be >= 0")
	}
	r := cfg.Reconnect
	if r.BaseDelay <= 0 {
		return fmt.Errorf("reconnect base_delay must be > 0")
	}
	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("reconnect max_delay %v below base_delay %v", r.MaxDelay, r.BaseDelay)
	}
	if r.Jitter < 0 || r.Jitter >= 1 {
		return fmt.Errorf("reconnect jitter %v outside [0,1)", r.Jitter)
	}
	if r.ConnectTimeout <= 0 {
		return fmt.Errorf("reconnect connect_timeout must be > 0")
	}
	return nil
}

func ValidatePeerConfig(cfg PeerConfig) error {
	if strings.TrimSpace(cfg.PeerID) == "" {
		return fmt.Errorf("peer config missing peer_id")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("peer config missing listen_addr")
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("peer config path %q must start with /", cfg.Path)
	}
	return nil
}

// SessionConfig maps reconnect settings onto transport session timings.
func (c HostConfig) SessionConfig() session.Config {
	s := session.DefaultConfig()
	s.ConnectTimeout = c.Reconnect.ConnectTimeout
	s.MaxReconnectAttempts = c.Reconnect.MaxAttempts
	s.Backoff.InitialDelay = c.Reconnect.BaseDelay
	s.Backoff.MaxDelay = c.Reconnect.MaxDelay
	s.Backoff.JitterFactor = c.Reconnect.Jitter
	return s
}

func normalizeHosts(in []string) []string {
	out := make([]string, 0, len(in))
	for _, h := range in {
		if v := strings.TrimSpace(h); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
