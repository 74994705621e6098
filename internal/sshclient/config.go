package sshclient

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Timeout bounds TCP connect plus the SSH handshake.
	Timeout time.Duration
	Port    int

	KeyPath  string
	UseAgent bool

	KnownHostsPath      string
	InsecureSkipHostKey bool
}

// LoadConfig applies the SSH_TIMEOUT_SECONDS and SSH_PORT environment
// overrides on top of base and fills any remaining zero values.
func LoadConfig(base Config) Config {
	cfg := base
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if v := os.Getenv("SSH_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}

	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if v := os.Getenv("SSH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Port = n
		}
	}

	return cfg
}
