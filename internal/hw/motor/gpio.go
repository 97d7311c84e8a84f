package motor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lumenfield/mirrorcal/internal/calib/grid"
	"github.com/lumenfield/mirrorcal/internal/debug"
	"github.com/lumenfield/mirrorcal/internal/hw/gpio"
)

// AxisPins holds the hardware configuration of one GPIO-driven axis.
type AxisPins struct {
	StepPin     int
	DirPin      int
	EnablePin   int // A4988 ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	TravelSteps int // full mechanical travel, used for hard-stop homing
	StepDelay   time.Duration
}

// GPIORig is an Adapter for bench rigs where every axis is an A4988-style
// stepper wired straight to GPIO pins. Axes are addressed by the same
// mac/index pairs the rest of the system uses; the "node" is notional.
//
// Homing is sensorless: the axis is driven one full travel toward the
// negative stop and the step counter is zeroed there.
type GPIORig struct {
	mu     sync.Mutex
	driver gpio.Driver
	axes   map[string]*gpioAxis
}

type gpioAxis struct {
	pins     AxisPins
	position int
	homed    bool
}

// NewGPIORig creates a rig over the given driver. axes maps "mac/index"
// keys (grid.Motor AxisKey form) to pin assignments.
func NewGPIORig(driver gpio.Driver, axes map[string]AxisPins) *GPIORig {
	rig := &GPIORig{driver: driver, axes: make(map[string]*gpioAxis, len(axes))}
	for key, pins := range axes {
		if pins.StepDelay <= 0 {
			pins.StepDelay = time.Millisecond
		}
		if pins.TravelSteps <= 0 {
			pins.TravelSteps = 4000
		}
		_ = driver.SetupPin(pins.StepPin, gpio.Output)
		_ = driver.SetupPin(pins.DirPin, gpio.Output)
		if pins.EnablePin > 0 {
			_ = driver.SetupPin(pins.EnablePin, gpio.Output)
			_ = driver.WritePin(pins.EnablePin, gpio.Low) // enable by default
		}
		rig.axes[key] = &gpioAxis{pins: pins}
	}
	return rig
}

func (r *GPIORig) HomeAll(ctx context.Context, macs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, axis := range r.axes {
		if !macListed(macs, key) {
			continue
		}
		if err := r.homeAxis(ctx, key, axis); err != nil {
			return err
		}
	}
	return nil
}

func (r *GPIORig) HomeTile(ctx context.Context, x, y *grid.Motor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range []*grid.Motor{x, y} {
		if m == nil {
			continue
		}
		key := m.AxisKey()
		axis, ok := r.axes[key]
		if !ok {
			return fmt.Errorf("gpio rig: unknown axis %s", key)
		}
		if err := r.homeAxis(ctx, key, axis); err != nil {
			return err
		}
	}
	return nil
}

func (r *GPIORig) MoveMotor(ctx context.Context, mac string, motorIndex, positionSteps int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := grid.Motor{NodeMac: mac, MotorIndex: motorIndex}.AxisKey()
	axis, ok := r.axes[key]
	if !ok {
		return fmt.Errorf("gpio rig: unknown axis %s", key)
	}
	if !axis.homed {
		return fmt.Errorf("gpio rig: axis %s not homed", key)
	}
	delta := positionSteps - axis.position
	debug.Motor(mac, motorIndex, positionSteps)
	if err := r.step(ctx, axis, delta); err != nil {
		return err
	}
	axis.position = positionSteps
	return nil
}

// homeAxis drives the axis into the negative hard stop and zeroes it.
func (r *GPIORig) homeAxis(ctx context.Context, key string, axis *gpioAxis) error {
	debug.Trace("gpio rig: homing axis %s (%d steps)", key, axis.pins.TravelSteps)
	if err := r.step(ctx, axis, -axis.pins.TravelSteps); err != nil {
		return err
	}
	axis.position = 0
	axis.homed = true
	return nil
}

func (r *GPIORig) step(ctx context.Context, axis *gpioAxis, steps int) error {
	if steps == 0 {
		return nil
	}
	dir := gpio.High
	if steps < 0 {
		dir = gpio.Low
		steps = -steps
	}
	if err := r.driver.WritePin(axis.pins.DirPin, dir); err != nil {
		return err
	}
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		if err := r.driver.WritePin(axis.pins.StepPin, gpio.High); err != nil {
			return err
		}
		time.Sleep(axis.pins.StepDelay)
		if err := r.driver.WritePin(axis.pins.StepPin, gpio.Low); err != nil {
			return err
		}
		time.Sleep(axis.pins.StepDelay)
	}
	return nil
}

// macListed reports whether the axis key belongs to one of the macs.
// Axis keys are "mac/index".
func macListed(macs []string, axisKey string) bool {
	for _, mac := range macs {
		if len(axisKey) > len(mac) && axisKey[:len(mac)] == mac && axisKey[len(mac)] == '/' {
			return true
		}
	}
	return false
}
