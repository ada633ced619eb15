// Package config holds the launch-time configuration of a ring node:
// identity, storage location, quorum parameters, and the two network
// addresses a node exposes (client API, peer wire). Adapted from the
// teacher's config.Config — same struct + Validate + LoadFromFile/SaveToFile
// shape, trimmed to the parameters this node actually uses: no
// gossip/virtual-node/hinted-handoff fields, since membership here is
// push-based rather than gossiped, and the ring is keyed by integer node
// ids directly rather than virtual nodes on a hashed string.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ringkv/ringkv/pkg/types"
)

// Config holds all configuration for a ring node.
type Config struct {
	// Node identity
	NodeID      types.NodeID `json:"node_id"`
	Address     string       `json:"address"`      // client-facing API bind address
	PeerAddress string       `json:"peer_address"` // peer-wire bind address, advertised to other nodes

	// Storage
	DataDir string `json:"data_dir"`

	// Quorum parameters
	N int `json:"n"`
	R int `json:"r"`
	W int `json:"w"`

	// Startup
	Mode          types.StartupMode `json:"mode"`
	RemoteAddress string            `json:"remote_address,omitempty"` // contact point for join/recover

	// Timeouts
	RequestTimeout time.Duration `json:"request_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults for a
// standalone bootstrap node.
func DefaultConfig() *Config {
	return &Config{
		NodeID:         0,
		Address:        "127.0.0.1:8080",
		PeerAddress:    "127.0.0.1:9090",
		DataDir:        "./data",
		N:              3,
		R:              2,
		W:              2,
		Mode:           types.ModeBootstrap,
		RequestTimeout: 5 * time.Second,
	}
}

// Validate checks if the configuration is valid: N >= 1, R and W between 1
// and N, and a non-negative node id.
func (c *Config) Validate() error {
	if c.NodeID < 0 {
		return fmt.Errorf("node_id must be non-negative")
	}
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.PeerAddress == "" {
		return fmt.Errorf("peer_address is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.N < 1 {
		return fmt.Errorf("n must be at least 1")
	}
	if c.R < 1 || c.R > c.N {
		return fmt.Errorf("r must be between 1 and n")
	}
	if c.W < 1 || c.W > c.N {
		return fmt.Errorf("w must be between 1 and n")
	}
	if c.R+c.W <= c.N {
		return fmt.Errorf("r(%d) + w(%d) must exceed n(%d), otherwise reads are not guaranteed to see the latest write", c.R, c.W, c.N)
	}
	if c.Mode != types.ModeBootstrap && c.RemoteAddress == "" {
		return fmt.Errorf("remote_address is required for mode %s", c.Mode)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a JSON file, overlaying it on
// DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
