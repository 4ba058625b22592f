// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for sessionsync
// processes.
//
// Configuration is loaded from a single YAML file specified by:
//   - SESSIONSYNC_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery; the file is the
// single source of truth and environment variables never override its
// values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for a sessionsync process.
type Config struct {
	// Site is the replica identifier. Empty means mint a random one
	// at startup.
	Site string `yaml:"site"`

	Congestion  CongestionConfig  `yaml:"congestion"`
	Reliability ReliabilityConfig `yaml:"reliability"`
	History     HistoryConfig     `yaml:"history"`
	Journal     JournalConfig     `yaml:"journal"`
	Transport   TransportConfig   `yaml:"transport"`
}

// CongestionConfig tunes the congestion controller.
type CongestionConfig struct {
	// Terminal selects the terminal-optimized gain profile.
	Terminal bool `yaml:"terminal"`

	// MinWindowBytes is the hard window floor. Zero means the
	// controller default.
	MinWindowBytes int `yaml:"min_window_bytes"`

	// InitialWindowBytes is the window before any acknowledgment.
	// Zero means the controller default.
	InitialWindowBytes int `yaml:"initial_window_bytes"`

	// MaxWindowBytes caps the window. Zero means the controller
	// default.
	MaxWindowBytes int `yaml:"max_window_bytes"`
}

// ReliabilityConfig tunes critical-packet delivery.
type ReliabilityConfig struct {
	// Fanout is redundant copies per transmission. Zero means the
	// layer default of 3.
	Fanout int `yaml:"fanout"`

	// MaxRetries is the retransmission budget. Zero means the layer
	// default of 5.
	MaxRetries int `yaml:"max_retries"`

	// TargetLatency seeds the retransmission schedule, for example
	// "50ms". Empty means the layer default.
	TargetLatency string `yaml:"target_latency"`
}

// HistoryConfig tunes output retention.
type HistoryConfig struct {
	// CapacityBytes bounds retained output. Zero means 1 MB.
	CapacityBytes int `yaml:"capacity_bytes"`
}

// JournalConfig enables session recording.
type JournalConfig struct {
	// Path is the journal file. Empty disables recording.
	Path string `yaml:"path"`
}

// TransportConfig lists the peer routes to establish.
type TransportConfig struct {
	// TCPPeers are host:port addresses to dial.
	TCPPeers []string `yaml:"tcp_peers"`

	// WebSocketPeers are ws:// or wss:// URLs to dial.
	WebSocketPeers []string `yaml:"websocket_peers"`
}

// Default returns the default configuration: terminal congestion
// profile, standard reliability tuning, 1 MB history, no journal, no
// peers.
func Default() *Config {
	return &Config{
		Congestion: CongestionConfig{Terminal: true},
		Reliability: ReliabilityConfig{
			Fanout:        3,
			MaxRetries:    5,
			TargetLatency: "50ms",
		},
		History: HistoryConfig{CapacityBytes: 1024 * 1024},
	}
}

// Load loads configuration from the SESSIONSYNC_CONFIG environment
// variable. Fails when the variable is unset; use the --config flag
// or LoadFile for an explicit path.
func Load() (*Config, error) {
	path := os.Getenv("SESSIONSYNC_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("SESSIONSYNC_CONFIG environment variable not set; " +
			"set it to the path of your sessionsync.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, applying
// defaults for unset fields and validating the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

// Validate checks field ranges and formats.
func (c *Config) Validate() error {
	if c.Reliability.Fanout < 0 {
		return fmt.Errorf("reliability.fanout must not be negative, got %d", c.Reliability.Fanout)
	}
	if c.Reliability.MaxRetries < 0 {
		return fmt.Errorf("reliability.max_retries must not be negative, got %d", c.Reliability.MaxRetries)
	}
	if _, err := c.TargetLatency(); err != nil {
		return err
	}
	if c.History.CapacityBytes < 0 {
		return fmt.Errorf("history.capacity_bytes must not be negative, got %d", c.History.CapacityBytes)
	}
	if min, max := c.Congestion.MinWindowBytes, c.Congestion.MaxWindowBytes; min > 0 && max > 0 && min > max {
		return fmt.Errorf("congestion.min_window_bytes %d exceeds max_window_bytes %d", min, max)
	}
	return nil
}

// TargetLatency parses the reliability target latency. Zero duration
// means "use the layer default".
func (c *Config) TargetLatency() (time.Duration, error) {
	if c.Reliability.TargetLatency == "" {
		return 0, nil
	}
	latency, err := time.ParseDuration(c.Reliability.TargetLatency)
	if err != nil {
		return 0, fmt.Errorf("reliability.target_latency: %w", err)
	}
	if latency < 0 {
		return 0, fmt.Errorf("reliability.target_latency must not be negative, got %s", latency)
	}
	return latency, nil
}
