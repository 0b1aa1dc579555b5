// Package gpio drives the amplifier enable line.
package gpio

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// OutputEnable switches the audio output stage on and off.
type OutputEnable interface {
	SetEnabled(enabled bool) error
}

// ErrUnsupportedType is returned for an unknown output enable type.
var ErrUnsupportedType = errors.New("unsupported output enable type")

// New creates an output enable line by type name from its settings map.
func New(typ string, settings map[string]any) (OutputEnable, error) {
	zlog.Debug().Msgf("creating output enable: type=%s settings=%+v", typ, settings)
	switch typ {
	case "none", "":
		return &None{}, nil
	case "sysfs":
		return NewSysfs(settings)
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "type=%s", typ)
	}
}

// None records the requested level without touching hardware.
type None struct {
	mu      sync.Mutex
	enabled bool
}

func (n *None) SetEnabled(enabled bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
	return nil
}

// Enabled returns the last requested level.
func (n *None) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

// SysfsConfig configures a sysfs GPIO line.
type SysfsConfig struct {
	ValuePath string `mapstructure:"value_path" validate:"required"`
	ActiveLow bool   `mapstructure:"active_low"`
}

// Sysfs writes the line level to a sysfs GPIO value file, for example
// /sys/class/gpio/gpio21/value. The pin must already be exported as an output.
type Sysfs struct {
	config SysfsConfig
	mu     sync.Mutex
}

// NewSysfs creates a sysfs output enable line.
func NewSysfs(settings map[string]any) (*Sysfs, error) {
	var cfg SysfsConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}
	return &Sysfs{config: cfg}, nil
}

func (s *Sysfs) SetEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	level := enabled != s.config.ActiveLow
	value := []byte("0")
	if level {
		value = []byte("1")
	}
	if err := os.WriteFile(s.config.ValuePath, value, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write gpio value %s", s.config.ValuePath)
	}
	zlog.Debug().Msgf("gpio: %s set to %s enabled=%v", s.config.ValuePath, value, enabled)
	return nil
}
