package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var ErrMissingToken = errors.New("no token in config file")

type Config struct {
	Path                string
	BotToken            string
	TelemetryLogDir     string
	TelemetryLogPattern string
	ZoneInfoDir         string
	TimezoneScript      string
	ElevateCommand      string
	ConnectivityURL     string
	APIBaseURL          string
	PollingInterval     time.Duration
	RequestTimeout      time.Duration
	SessionIdleTimeout  time.Duration
	DatabasePath        string
	HealthPort          int
	LogLevel            string
	LogFilePath         string
	LogMaxSizeMB        int
	LogMaxBackups       int
	LogMaxAgeDays       int
}

// Load reads the INI file at path and derives the typed configuration.
// Relative paths inside the file are resolved against its directory.
func Load(path string) (Config, error) {
	file, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	return FromFile(file, path)
}

func FromFile(file *File, path string) (Config, error) {
	baseDir := filepath.Dir(path)
	get := func(section, key, fallback string) string {
		value, _ := file.Get(section, key)
		return defaultString(value, fallback)
	}

	pollingSeconds, err := parseIntWithDefault(file, "main", "polling_interval_seconds", 2)
	if err != nil {
		return Config{}, err
	}
	requestTimeoutMs, err := parseIntWithDefault(file, "main", "request_timeout_ms", 60000)
	if err != nil {
		return Config{}, err
	}
	idleMinutes, err := parseIntWithDefault(file, "main", "session_idle_minutes", 30)
	if err != nil {
		return Config{}, err
	}
	healthPort, err := parseIntWithDefault(file, "health", "port", 0)
	if err != nil {
		return Config{}, err
	}
	maxSize, err := parseIntWithDefault(file, "logging", "max_size_mb", 10)
	if err != nil {
		return Config{}, err
	}
	maxBackups, err := parseIntWithDefault(file, "logging", "max_backups", 5)
	if err != nil {
		return Config{}, err
	}
	maxAge, err := parseIntWithDefault(file, "logging", "max_age_days", 14)
	if err != nil {
		return Config{}, err
	}

	token, _ := file.Get("main", "token")
	elevate, hasElevate := file.Get("main", "elevate")
	if !hasElevate {
		elevate = "sudo"
	}

	cfg := Config{
		Path:                path,
		BotToken:            strings.TrimSpace(token),
		TelemetryLogDir:     resolvePath(baseDir, get("main", "log_dir", "~/CraftBeerPi/log")),
		TelemetryLogPattern: get("main", "log_pattern", "*.templog"),
		ZoneInfoDir:         resolvePath(baseDir, get("main", "zoneinfo_dir", "/usr/share/zoneinfo")),
		TimezoneScript:      resolvePath(baseDir, get("main", "timezone_script", "set_timezone.sh")),
		ElevateCommand:      strings.TrimSpace(elevate),
		ConnectivityURL:     get("main", "connectivity_url", "https://api.telegram.org"),
		APIBaseURL:          strings.TrimRight(get("main", "api_base_url", "https://api.telegram.org"), "/"),
		PollingInterval:     time.Duration(pollingSeconds) * time.Second,
		RequestTimeout:      time.Duration(requestTimeoutMs) * time.Millisecond,
		SessionIdleTimeout:  time.Duration(idleMinutes) * time.Minute,
		DatabasePath:        resolvePath(baseDir, get("storage", "database", "data/craftbeerpibot.db")),
		HealthPort:          healthPort,
		LogLevel:            strings.ToLower(get("logging", "level", "info")),
		LogFilePath:         resolvePath(baseDir, get("logging", "file", "data/logs/craftbeerpibot.log")),
		LogMaxSizeMB:        maxSize,
		LogMaxBackups:       maxBackups,
		LogMaxAgeDays:       maxAge,
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.BotToken == "" {
		return ErrMissingToken
	}
	if cfg.PollingInterval <= 0 {
		return fmt.Errorf("main.polling_interval_seconds must be > 0: got %s", cfg.PollingInterval)
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("main.request_timeout_ms must be > 0: got %s", cfg.RequestTimeout)
	}
	if cfg.SessionIdleTimeout < 0 {
		return fmt.Errorf("main.session_idle_minutes must be >= 0: got %s", cfg.SessionIdleTimeout)
	}
	if cfg.HealthPort < 0 || cfg.HealthPort > 65535 {
		return fmt.Errorf("health.port out of range: got %d", cfg.HealthPort)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error: got %q", cfg.LogLevel)
	}
	return nil
}

func parseIntWithDefault(file *File, section string, key string, fallback int) (int, error) {
	raw, _ := file.Get(section, key)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s.%s must be integer: %w", section, key, err)
	}
	return v, nil
}

func resolvePath(baseDir string, value string) string {
	if value == "~" || strings.HasPrefix(value, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			value = filepath.Join(home, strings.TrimPrefix(value, "~"))
		}
	}
	if filepath.IsAbs(value) {
		return filepath.Clean(value)
	}
	return filepath.Join(baseDir, value)
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
