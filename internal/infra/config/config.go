// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Admin        AdminConfig        `yaml:"admin"`
	Speaker      SpeakerConfig      `yaml:"speaker"`
	Sink         SinkConfig         `yaml:"sink"`
	OutputEnable OutputEnableConfig `yaml:"output_enable"`
	Media        MediaConfig        `yaml:"media"`
	Buttons      ButtonsConfig      `yaml:"buttons"`
	Stream       StreamConfig       `yaml:"stream"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// SpeakerConfig represents the playback core configuration.
type SpeakerConfig struct {
	Name           string `yaml:"name" default:"speaker"`
	QueueCapacity  int    `yaml:"queue_capacity" default:"50" validate:"gte=1,lte=4096"`
	EventCapacity  int    `yaml:"event_capacity" default:"20" validate:"gte=1,lte=1024"`
	IdleTimeoutMs  int    `yaml:"idle_timeout_ms" default:"500" validate:"gte=1,lte=60000"`
	StartTimeoutMs int    `yaml:"start_timeout_ms" default:"5000" validate:"gte=0,lte=60000"`
	TickMs         int    `yaml:"tick_ms" default:"16" validate:"gte=1,lte=1000"`
	SampleRate     int    `yaml:"sample_rate" default:"16000" validate:"oneof=8000 11025 16000 22050 32000 44100 48000"`
	BitDepth       int    `yaml:"bit_depth" default:"16" validate:"eq=16"`
	Channels       int    `yaml:"channels" default:"1" validate:"oneof=1 2"`
}

// SinkConfig selects the audio output implementation.
type SinkConfig struct {
	Type     string         `yaml:"type" default:"discard" validate:"oneof=discard wav portaudio"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// OutputEnableConfig selects the amplifier enable line implementation.
type OutputEnableConfig struct {
	Type     string         `yaml:"type" default:"none" validate:"oneof=none sysfs"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MediaConfig represents media player configuration.
type MediaConfig struct {
	DefaultURL    string `yaml:"default_url"`
	InitialVolume int    `yaml:"initial_volume" default:"50" validate:"gte=0,lte=100"`
	VolumeStep    int    `yaml:"volume_step" default:"10" validate:"gte=1,lte=100"`
}

// ButtonsConfig represents button debounce configuration.
type ButtonsConfig struct {
	DebounceMs     int `yaml:"debounce_ms" default:"200" validate:"gte=0,lte=5000"`
	ModeDebounceMs int `yaml:"mode_debounce_ms" default:"500" validate:"gte=0,lte=5000"`
}

// StreamConfig represents how media URLs are fetched.
type StreamConfig struct {
	TimeoutSec int              `yaml:"timeout_sec" default:"10" validate:"gte=1,lte=300"`
	UserAgent  string           `yaml:"user_agent" default:"adfspeaker/1.0"`
	Auth       StreamAuthConfig `yaml:"auth"`
}

// StreamAuthConfig holds optional OAuth2 client credentials for stream hosts.
type StreamAuthConfig struct {
	TokenURL     string   `yaml:"token_url" validate:"omitempty,url"`
	ClientID     string   `yaml:"client_id" validate:"required_with=TokenURL"`
	ClientSecret string   `yaml:"client_secret" validate:"required_with=TokenURL"`
	Scopes       []string `yaml:"scopes"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("STREAM_CLIENT_SECRET"); v != "" {
		c.Stream.Auth.ClientSecret = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Buttons.ModeDebounceMs < c.Buttons.DebounceMs {
		return errors.Newf("mode_debounce_ms (%d) must not be shorter than debounce_ms (%d)",
			c.Buttons.ModeDebounceMs, c.Buttons.DebounceMs)
	}
	return nil
}

// IdleTimeout returns the consumer idle timeout.
func (s SpeakerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMs) * time.Millisecond
}

// StartTimeout returns the consumer start watchdog timeout.
func (s SpeakerConfig) StartTimeout() time.Duration {
	return time.Duration(s.StartTimeoutMs) * time.Millisecond
}

// Tick returns the scheduler tick interval.
func (s SpeakerConfig) Tick() time.Duration {
	return time.Duration(s.TickMs) * time.Millisecond
}

// Timeout returns the HTTP timeout for stream requests.
func (s StreamConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// Debounce returns the debounce window for ordinary buttons.
func (b ButtonsConfig) Debounce() time.Duration {
	return time.Duration(b.DebounceMs) * time.Millisecond
}

// ModeDebounce returns the debounce window for the mode button.
func (b ButtonsConfig) ModeDebounce() time.Duration {
	return time.Duration(b.ModeDebounceMs) * time.Millisecond
}
