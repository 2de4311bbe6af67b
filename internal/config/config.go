// Package config loads the client configuration from a JSON or YAML file.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for ariachat.
type Config struct {
	General GeneralConfig `json:"general" yaml:"general"`
	Service ServiceConfig `json:"service" yaml:"service"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Chat    ChatConfig    `json:"chat" yaml:"chat"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

// ServiceConfig points at the remote agent chat service.
type ServiceConfig struct {
	URL            string `json:"url" yaml:"url"` // ws:// or wss:// endpoint
	ServiceID      string `json:"serviceId" yaml:"serviceId"`
	Token          string `json:"token,omitempty" yaml:"token,omitempty"`
	UserID         string `json:"userId" yaml:"userId"`
	DialTimeoutSec int    `json:"dialTimeoutSeconds" yaml:"dialTimeoutSeconds"`
}

// StorageConfig selects where saved chats live.
type StorageConfig struct {
	Backend     string `json:"backend" yaml:"backend"` // "sqlite" | "remote"
	DBPath      string `json:"dbPath" yaml:"dbPath"`
	ArtifactURL string `json:"artifactUrl,omitempty" yaml:"artifactUrl,omitempty"`
	TimeoutSec  int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type ChatConfig struct {
	Extensions   []string `json:"extensions" yaml:"extensions"`
	ArtifactTool string   `json:"artifactTool" yaml:"artifactTool"`
	Autosave     bool     `json:"autosave" yaml:"autosave"`
}

// MetricsConfig configures the Prometheus-format metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Listen   string `json:"listen" yaml:"listen"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.ariachat).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ariachat"
	}
	return filepath.Join(home, ".ariachat")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

// applyEnvOverrides lets credentials stay out of the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARIACHAT_TOKEN"); v != "" {
		cfg.Service.Token = v
	}
	if v := os.Getenv("ARIACHAT_USER_ID"); v != "" {
		cfg.Service.UserID = v
	}
	if v := os.Getenv("ARIACHAT_SERVICE_URL"); v != "" {
		cfg.Service.URL = v
	}
}

// Save writes cfg to path, as YAML when the extension says so.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file may hold a service token.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Service.URL == "" {
		errs = append(errs, "service.url is required")
	} else if u, err := url.Parse(cfg.Service.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, "service.url must be a ws:// or wss:// URL")
	}
	if cfg.Service.UserID == "" {
		errs = append(errs, "service.userId is required")
	}
	if cfg.Service.DialTimeoutSec < 1 {
		errs = append(errs, "service.dialTimeoutSeconds must be >= 1")
	}

	switch cfg.Storage.Backend {
	case "sqlite":
		if cfg.Storage.DBPath == "" {
			errs = append(errs, "storage.dbPath is required for the sqlite backend")
		}
	case "remote":
		if u, err := url.Parse(cfg.Storage.ArtifactURL); cfg.Storage.ArtifactURL == "" || err != nil ||
			(u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, "storage.artifactUrl must be an http(s) URL for the remote backend")
		}
	default:
		errs = append(errs, "storage.backend must be one of: sqlite, remote")
	}
	if cfg.Storage.TimeoutSec < 1 {
		errs = append(errs, "storage.timeoutSeconds must be >= 1")
	}

	if cfg.Chat.ArtifactTool == "" {
		errs = append(errs, "chat.artifactTool must not be empty")
	}
	for i, ext := range cfg.Chat.Extensions {
		if strings.TrimSpace(ext) == "" {
			errs = append(errs, fmt.Sprintf("chat.extensions[%d] must not be empty", i))
		}
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required when metrics are enabled")
		}
		if !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
			errs = append(errs, "metrics.endpoint must start with /")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
