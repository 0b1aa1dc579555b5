// Package device provides the physical audio output that speakers contend for.
package device

import (
	"sync"
	"sync/atomic"

	zlog "github.com/rs/zerolog/log"
)

// Device guards exclusive use of one audio output. A speaker holds it for the
// lifetime of a playback session; competing speakers retry on their next tick.
type Device struct {
	name   string
	mu     sync.Mutex
	locked atomic.Bool
}

// New creates a device.
func New(name string) *Device {
	return &Device{name: name}
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// TryLock takes ownership of the output without blocking.
func (d *Device) TryLock() bool {
	if !d.mu.TryLock() {
		return false
	}
	d.locked.Store(true)
	zlog.Debug().Msgf("device: %s acquired", d.name)
	return true
}

// Unlock releases ownership. Unlocking a device that is not held is a fatal
// runtime error, as with sync.Mutex.
func (d *Device) Unlock() {
	d.locked.Store(false)
	d.mu.Unlock()
	zlog.Debug().Msgf("device: %s released", d.name)
}

// InUse reports whether a session currently owns the output.
func (d *Device) InUse() bool {
	return d.locked.Load()
}
