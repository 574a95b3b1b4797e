package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig carries everything the binaries need at startup.
// Values come from the environment; VEIL_CONFIG may point at a YAML
// file whose values act as defaults below the environment.
type AppConfig struct {
	RelayURL string `yaml:"relay_url"`

	// Session policy.
	AutoAcceptDraw bool `yaml:"auto_accept_draw"`
	AllowPlaintext bool `yaml:"allow_plaintext"`

	// Optional finished-game persistence.
	DatabaseURL string `yaml:"database_url"`

	// Relay binary.
	ListenAddr string `yaml:"listen_addr"`
	RedisURL   string `yaml:"redis_url"`

	// Invite codes.
	InviteTTLSec int `yaml:"invite_ttl_sec"`

	// Board snapshot export.
	SnapshotDir  string `yaml:"snapshot_dir"`
	SnapshotSize int    `yaml:"snapshot_size"`
}

func defaults() *AppConfig {
	return &AppConfig{
		AutoAcceptDraw: true,
		AllowPlaintext: false,
		ListenAddr:     ":8474",
		InviteTTLSec:   900,
		SnapshotSize:   640,
	}
}

// Load builds the config from the optional YAML file and the environment.
func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("VEIL_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.InviteTTLSec <= 0 {
		cfg.InviteTTLSec = 900
	}
	if cfg.SnapshotSize <= 0 {
		cfg.SnapshotSize = 640
	}
	return cfg, nil
}

// LoadClient is Load plus the validation the player binary needs.
func LoadClient() (*AppConfig, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.RelayURL) == "" {
		return nil, errors.New("VEIL_RELAY_URL is required")
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("VEIL_RELAY_URL")); v != "" {
		cfg.RelayURL = v
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_AUTO_ACCEPT_DRAW")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoAcceptDraw = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_ALLOW_PLAINTEXT")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AllowPlaintext = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_INVITE_TTL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.InviteTTLSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_SNAPSHOT_DIR")); v != "" {
		cfg.SnapshotDir = v
	}
	if v := strings.TrimSpace(os.Getenv("VEIL_SNAPSHOT_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SnapshotSize = n
		}
	}
}
