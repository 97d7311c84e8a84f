package gpio

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/lumenfield/mirrorcal/internal/debug"
)

// MappedDriver drives the rig controller's header through go-rpio's
// memory-mapped registers.
type MappedDriver struct {
	pins map[int]rpio.Pin
}

// NewMappedDriver opens the GPIO register mapping. The process needs
// /dev/gpiomem access on the rig controller.
func NewMappedDriver() (*MappedDriver, error) {
	debug.Info("Initializing memory-mapped GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (is this the rig controller?)", err)
	}

	debug.Verbose("GPIO registers mapped")

	return &MappedDriver{
		pins: make(map[int]rpio.Pin),
	}, nil
}

func (r *MappedDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	r.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return nil
}

func (r *MappedDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		// First touch of an unconfigured pin implies output.
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *MappedDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	p, ok := r.pins[pin]
	if !ok {
		// First touch of an unconfigured pin implies input.
		if err := r.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	state := p.Read()
	if state == rpio.High {
		return High, nil
	}
	return Low, nil
}

// Close parks every configured pin as an input before releasing the
// mapping, so step and enable lines cannot be left driven.
func (r *MappedDriver) Close() error {
	debug.Trace("GPIO Close (mapped driver)")

	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}

	return rpio.Close()
}
