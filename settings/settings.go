// Package settings loads server settings with viper. Values come from
// defaults, an optional lidardrive.json in the config directory and
// LIDARDRIVE_* environment variables, later sources winning.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the settings file looked up in the config directory.
const FileName = "lidardrive.json"

// EnvPrefix prefixes every environment override, e.g. LIDARDRIVE_PORT or
// LIDARDRIVE_NGROK_DOMAIN.
const EnvPrefix = "LIDARDRIVE"

// Settings holds the server configuration
type Settings struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	TracksDir       string        `mapstructure:"tracksDir"`
	SessionsDir     string        `mapstructure:"sessionsDir"`
	StaticDir       string        `mapstructure:"staticDir"`
	LogLevel        string        `mapstructure:"logLevel"`
	PrettyLogs      bool          `mapstructure:"prettyLogs"`
	VerboseSensors  bool          `mapstructure:"verboseSensors"`
	SessionTTL      time.Duration `mapstructure:"sessionTTL"`
	CleanupInterval time.Duration `mapstructure:"cleanupInterval"`
	Ngrok           Ngrok         `mapstructure:"ngrok"`
	Metrics         Metrics       `mapstructure:"metrics"`
}

// Metrics configures periodic export of engine counters. An empty File
// writes to stderr.
type Metrics struct {
	Enabled  bool          `mapstructure:"enabled"`
	File     string        `mapstructure:"file"`
	Interval time.Duration `mapstructure:"interval"`
}

// Ngrok configures the optional public tunnel
type Ngrok struct {
	Enabled   bool   `mapstructure:"enabled"`
	Domain    string `mapstructure:"domain"`
	AuthToken string `mapstructure:"authToken"`
}

// Addr returns host:port
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 8080)
	v.SetDefault("tracksDir", "configs")
	v.SetDefault("sessionsDir", "sessions")
	v.SetDefault("staticDir", "")
	v.SetDefault("logLevel", "info")
	v.SetDefault("prettyLogs", true)
	v.SetDefault("verboseSensors", false)
	v.SetDefault("sessionTTL", 24*time.Hour)
	v.SetDefault("cleanupInterval", time.Hour)

	v.SetDefault("ngrok.enabled", false)
	v.SetDefault("ngrok.domain", "")
	v.SetDefault("ngrok.authToken", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.file", "")
	v.SetDefault("metrics.interval", 30*time.Second)
}

// New returns a viper instance with defaults and environment binding but
// no file. Load builds on it.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads settings from dir. A missing settings file is not an error.
func Load(dir string) (*Settings, error) {
	v := New()

	v.SetConfigName(strings.TrimSuffix(FileName, ".json"))
	v.SetConfigType("json")
	if dir != "" {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading settings file: %w", err)
		}
	}

	return Decode(v)
}

// Decode converts a viper instance into Settings and validates it.
func Decode(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("error decoding settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks value ranges
func (s *Settings) Validate() error {
	switch {
	case s.Port < 0 || s.Port > 65535:
		return fmt.Errorf("settings: port %d out of range", s.Port)
	case s.TracksDir == "":
		return errors.New("settings: tracksDir cannot be empty")
	case s.SessionTTL < 0:
		return fmt.Errorf("settings: sessionTTL must not be negative, got %s", s.SessionTTL)
	case s.CleanupInterval <= 0:
		return fmt.Errorf("settings: cleanupInterval must be positive, got %s", s.CleanupInterval)
	case s.Metrics.Enabled && s.Metrics.Interval <= 0:
		return fmt.Errorf("settings: metrics.interval must be positive, got %s", s.Metrics.Interval)
	}
	return nil
}
