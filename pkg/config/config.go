// Package config loads the engine's flags and the environment variables
// named in the spec (HERMES_*, REDIRECT_ALLOWED_*, IPFS_*) into an immutable
// EngineConfig, the way the teacher's pkg/config layers a .env file under
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EngineConfig is the fully resolved configuration for one engine process.
type EngineConfig struct {
	LogLevel  string
	LogFormat string

	HTTPPort int

	AuthActive                bool
	RedirectAllowedHosts      []string
	RedirectAllowedPathPrefix []string

	IPFSBootstrapPeers    []string
	IPFSListenPort        int
	IPFSAnnounceAddress   string
	IPFSRetryInterval     time.Duration
	IPFSMaxRetries        int

	TimeoutMS                int
	Untrusted                bool
	NoParallelEventExecution bool
	SerializeSQLite          bool

	StateDir string
	Workers  int
}

// Default returns the configuration a bare `hermes run` gets before flags
// and the environment are applied.
func Default() EngineConfig {
	return EngineConfig{
		LogLevel:          "info",
		LogFormat:         "text",
		HTTPPort:          8080,
		AuthActive:        true,
		IPFSListenPort:    4001,
		IPFSRetryInterval: 5 * time.Second,
		IPFSMaxRetries:    5,
		TimeoutMS:         5000,
		StateDir:          "./state",
		Workers:           0, // 0 => runtime.NumCPU()
	}
}

// Load applies a .env file (if present) and then the process environment on
// top of Default(). CLI flags are applied by the caller after Load, since
// flags must win over both.
func Load() (EngineConfig, error) {
	_ = godotenv.Load()

	cfg := Default()

	if v := strings.TrimSpace(os.Getenv("HERMES_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("HERMES_LOG_FORMAT")); v != "" {
		cfg.LogFormat = v
	}
	if v := strings.TrimSpace(os.Getenv("HERMES_HTTP_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("HERMES_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}
	if v := strings.TrimSpace(os.Getenv("HERMES_AUTH_ACTIVATE")); v != "" {
		cfg.AuthActive = parseBool(v, cfg.AuthActive)
	}
	if v := strings.TrimSpace(os.Getenv("REDIRECT_ALLOWED_HOSTS")); v != "" {
		cfg.RedirectAllowedHosts = splitCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("REDIRECT_ALLOWED_PATH_PREFIXES")); v != "" {
		cfg.RedirectAllowedPathPrefix = splitCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("IPFS_BOOTSTRAP_PEERS")); v != "" {
		cfg.IPFSBootstrapPeers = splitCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("IPFS_LISTEN_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("IPFS_LISTEN_PORT: %w", err)
		}
		cfg.IPFSListenPort = port
	}
	if v := strings.TrimSpace(os.Getenv("IPFS_ANNOUNCE_ADDRESS")); v != "" {
		cfg.IPFSAnnounceAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("IPFS_RETRY_INTERVAL_SECS")); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("IPFS_RETRY_INTERVAL_SECS: %w", err)
		}
		cfg.IPFSRetryInterval = time.Duration(secs) * time.Second
	}
	if v := strings.TrimSpace(os.Getenv("IPFS_MAX_RETRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("IPFS_MAX_RETRIES: %w", err)
		}
		cfg.IPFSMaxRetries = n
	}

	return cfg, nil
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
