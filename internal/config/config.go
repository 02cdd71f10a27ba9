// Package config handles loading and validating the node
// configuration from a pds.json file.
//
// The file is read once at startup; changes require a restart. Only
// the hostname is mandatory — everything else has a working default,
// including an in-memory store when no Postgres URL is configured.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds all node configuration loaded from pds.json.
type Config struct {
	// Hostname is the public host (with optional port) this node is
	// reachable at. It determines the node's did:web identifier.
	Hostname string `json:"hostname"`

	// ListenAddr is the HTTP listen address (default ":3000").
	ListenAddr string `json:"listenAddr"`

	// Handle is the account handle announced in the DID document.
	// Defaults to the hostname without any port.
	Handle string `json:"handle,omitempty"`

	// PostgresURL is the Postgres connection string. Empty selects the
	// in-memory store (nothing survives a restart).
	PostgresURL string `json:"postgresUrl,omitempty"`

	// DataDir is where the signing keypair lives (default ".").
	DataDir string `json:"dataDir,omitempty"`

	// AccessToken is the static bearer token authorizing write calls.
	AccessToken string `json:"accessToken"`

	// AdminSecret protects the management endpoints. Clients send it
	// as "Authorization: Bearer <adminSecret>".
	AdminSecret string `json:"adminSecret,omitempty"`

	// JWTSecret, when set, additionally accepts signed JWT access
	// tokens on write calls alongside the static token.
	JWTSecret string `json:"jwtSecret,omitempty"`

	// MaxBlobSize caps blob uploads in bytes (default 1000000).
	MaxBlobSize int64 `json:"maxBlobSize,omitempty"`

	// PollInterval is the relay poll period as a Go duration string
	// (default "1h").
	PollInterval string `json:"pollInterval,omitempty"`

	// PollWorkers bounds concurrent outbound relay requests
	// (default 4).
	PollWorkers int `json:"pollWorkers,omitempty"`

	// Insecure serves and resolves over plain http, for local
	// development.
	Insecure bool `json:"insecure,omitempty"`
}

// Load reads and parses configuration from the given file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Hostname == "" {
		return fmt.Errorf("config: hostname is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("config: accessToken is required")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":3000"
	}
	if c.Handle == "" {
		c.Handle, _, _ = strings.Cut(c.Hostname, ":")
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.PollInterval == "" {
		c.PollInterval = "1h"
	}
	if _, err := time.ParseDuration(c.PollInterval); err != nil {
		return fmt.Errorf("config: pollInterval: %w", err)
	}
	return nil
}

// DID returns the node's did:web identifier, derived from the
// hostname with any port colon percent-encoded.
func (c *Config) DID() string {
	return "did:web:" + strings.ReplaceAll(c.Hostname, ":", "%3A")
}

// Origin returns the node's public origin URL.
func (c *Config) Origin() string {
	scheme := "https"
	if c.Insecure {
		scheme = "http"
	}
	return scheme + "://" + c.Hostname
}

// PollDuration returns the parsed relay poll period.
func (c *Config) PollDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// Redacted returns a loggable summary with secrets masked.
func (c *Config) Redacted() string {
	pg := "memory"
	if c.PostgresURL != "" {
		if u, err := url.Parse(c.PostgresURL); err == nil {
			u.User = nil
			pg = u.Redacted()
		} else {
			pg = "postgres"
		}
	}
	return fmt.Sprintf("hostname=%s listen=%s handle=%s store=%s", c.Hostname, c.ListenAddr, c.Handle, pg)
}
