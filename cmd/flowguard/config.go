package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/rendis/flowguard/internal/validation"
)

// Config holds all flowguard server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	N8nURL        string                  `json:"n8n_url"`
	N8nAPIKey     string                  `json:"n8n_api_key"`
	DBPath        string                  `json:"db_path"`
	LogLevel      string                  `json:"log_level"`
	DriftSchedule string                  `json:"drift_schedule"`
	HTTPTimeout   string                  `json:"http_timeout"`
	MaxRetries    int                     `json:"max_retries"`
	Policies      []validation.PolicyRule `json:"policies,omitempty"`
}

func defaultConfig() Config {
	return Config{
		DBPath:      filepath.Join(flowguardDir(), "flowguard.db"),
		LogLevel:    "info",
		HTTPTimeout: "30s",
		MaxRetries:  3,
	}
}

func flowguardDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowguard"
	}
	return filepath.Join(home, ".flowguard")
}

func settingsPath() string {
	return filepath.Join(flowguardDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(flowguardDir(), "flowguard.pid")
}

func loadConfig() (Config, error) {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

// loadConfigFrom layers the settings file at path and the environment over the defaults.
// A missing settings file is not an error; a malformed one is.
func loadConfigFrom(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if v := getenv("FLOWGUARD_N8N_URL"); v != "" {
		cfg.N8nURL = v
	}
	if v := getenv("FLOWGUARD_N8N_API_KEY"); v != "" {
		cfg.N8nAPIKey = v
	}
	if v := getenv("FLOWGUARD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("FLOWGUARD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("FLOWGUARD_DRIFT_SCHEDULE"); v != "" {
		cfg.DriftSchedule = v
	}
	if v := getenv("FLOWGUARD_HTTP_TIMEOUT"); v != "" {
		cfg.HTTPTimeout = v
	}
	if v := getenv("FLOWGUARD_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}

	return cfg, nil
}

// httpTimeout parses HTTPTimeout; empty means the client default.
func (c Config) httpTimeout() (time.Duration, error) {
	if c.HTTPTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.HTTPTimeout)
	if err != nil {
		return 0, fmt.Errorf("http_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("http_timeout: must not be negative")
	}
	return d, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	PoliciesChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if !reflect.DeepEqual(old.Policies, new.Policies) {
		d.PoliciesChanged = true
	}
	if old.N8nURL != new.N8nURL {
		d.RestartNeeded = append(d.RestartNeeded, "n8n_url")
	}
	if old.N8nAPIKey != new.N8nAPIKey {
		d.RestartNeeded = append(d.RestartNeeded, "n8n_api_key")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.DriftSchedule != new.DriftSchedule {
		d.RestartNeeded = append(d.RestartNeeded, "drift_schedule")
	}
	if old.HTTPTimeout != new.HTTPTimeout {
		d.RestartNeeded = append(d.RestartNeeded, "http_timeout")
	}
	if old.MaxRetries != new.MaxRetries {
		d.RestartNeeded = append(d.RestartNeeded, "max_retries")
	}
	return d
}

// policySetter is satisfied by the MCP server.
type policySetter interface {
	SetPolicies([]validation.PolicyRule) error
}

// applyReload applies the hot-reloadable fields of next and returns the
// configuration now in effect. Fields that fail to apply keep their old value.
func applyReload(current, next Config, level *slog.LevelVar, policies policySetter, logger *slog.Logger) Config {
	d := diffConfigs(current, next)

	if d.LogLevelChanged {
		if l, err := parseLevel(next.LogLevel); err != nil {
			logger.Error("reload: keeping log level", "error", err)
		} else {
			level.Set(l)
			current.LogLevel = next.LogLevel
			logger.Info("reload: log level changed", "level", next.LogLevel)
		}
	}
	if d.PoliciesChanged {
		if err := policies.SetPolicies(next.Policies); err != nil {
			logger.Error("reload: keeping policies", "error", err)
		} else {
			current.Policies = next.Policies
			logger.Info("reload: policies replaced", "count", len(next.Policies))
		}
	}
	if len(d.RestartNeeded) > 0 {
		logger.Warn("reload: restart required to apply changes", "fields", d.RestartNeeded)
	}
	return current
}
