package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var (
	ErrConfigValueInvalid  = errors.New("config: invalid value")
	ErrConfigValueRequired = errors.New("config: required value missing")
)

// Source is where raw values come from.
type Source interface {
	Get(key string) (string, bool)
}

// EnvSource reads the process environment.
type EnvSource struct{}

func (EnvSource) Get(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// MapSource serves fixed values. Handy in tests.
type MapSource map[string]string

func (m MapSource) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok && v != ""
}

// LoadDotEnv loads the first of paths that exists. Variables already set in
// the environment win. With no paths it tries ".env".
func LoadDotEnv(paths ...string) (string, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return "", fmt.Errorf("config: load %s: %w", p, err)
		}
		return p, nil
	}
	return "", nil
}

// Manager provides typed access to configuration values. Bad values fall
// back to the default and are logged.
type Manager struct {
	source Source
	logger *zap.Logger
}

func NewManager(source Source, logger *zap.Logger) *Manager {
	if source == nil {
		source = EnvSource{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{source: source, logger: logger.Named("config")}
}

func (m *Manager) lookup(key string) (string, bool) {
	v, ok := m.source.Get(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (m *Manager) GetString(key, def string) string {
	v, ok := m.lookup(key)
	if !ok {
		return def
	}
	return v
}

func (m *Manager) GetStringRequired(key string) (string, error) {
	v, ok := m.lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrConfigValueRequired, key)
	}
	return v, nil
}

func (m *Manager) GetInt(key string, def int) int {
	v, ok := m.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		m.invalid(key, err)
		return def
	}
	return n
}

// GetIntRange returns def when the value lies outside [lo, hi].
func (m *Manager) GetIntRange(key string, def, lo, hi int) int {
	n := m.GetInt(key, def)
	if n < lo || n > hi {
		m.logger.Warn("config value out of range, using default",
			zap.String("key", key), zap.Int("value", n),
			zap.Int("min", lo), zap.Int("max", hi), zap.Int("default", def))
		return def
	}
	return n
}

func (m *Manager) GetBool(key string, def bool) bool {
	v, ok := m.lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on", "enabled":
		return true
	case "0", "false", "f", "no", "n", "off", "disabled":
		return false
	}
	m.invalid(key, fmt.Errorf("invalid boolean: %s", v))
	return def
}

// GetDuration accepts Go durations or a bare number of seconds.
func (m *Manager) GetDuration(key string, def time.Duration) time.Duration {
	v, ok := m.lookup(key)
	if !ok {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Second
	}
	m.invalid(key, fmt.Errorf("invalid duration: %s", v))
	return def
}

// GetStringSlice splits a comma-separated value.
func (m *Manager) GetStringSlice(key string, def []string) []string {
	v, ok := m.lookup(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func (m *Manager) invalid(key string, err error) {
	m.logger.Warn("invalid config value, using default", zap.String("key", key), zap.Error(err))
}
