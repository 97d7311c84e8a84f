// Package gpio abstracts the pin-level access used by the direct-wired
// bench rig, where stepper drivers hang off the controller's header
// instead of a serial bus.
package gpio

import (
	"github.com/lumenfield/mirrorcal/internal/debug"
)

// Level is the logical state of a pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode selects a pin's direction.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver is the pin-level interface the bench rig steps motors through.
// The memory-mapped implementation needs rig hardware; the mock stands in
// everywhere else.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MockDriver logs pin operations and does nothing else, so rig code can
// run on a machine without header access.
type MockDriver struct{}

// NewDriver returns the mock when asked, otherwise the memory-mapped
// driver for the rig controller.
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (no rig hardware)")
		return &MockDriver{}, nil
	}
	return NewMappedDriver()
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	return Low, nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
