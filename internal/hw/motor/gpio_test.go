package motor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lumenfield/mirrorcal/internal/calib/grid"
	"github.com/lumenfield/mirrorcal/internal/hw/gpio"
)

// countingDriver records pin writes so tests can count step pulses.
type countingDriver struct {
	mu     sync.Mutex
	pulses map[int]int
	levels map[int]gpio.Level
}

func newCountingDriver() *countingDriver {
	return &countingDriver{pulses: make(map[int]int), levels: make(map[int]gpio.Level)}
}

func (d *countingDriver) SetupPin(pin int, mode gpio.PinMode) error { return nil }

func (d *countingDriver) WritePin(pin int, level gpio.Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if level == gpio.High && d.levels[pin] == gpio.Low {
		d.pulses[pin]++
	}
	d.levels[pin] = level
	return nil
}

func (d *countingDriver) ReadPin(pin int) (gpio.Level, error) { return gpio.Low, nil }
func (d *countingDriver) Close() error                        { return nil }

func (d *countingDriver) pulseCount(pin int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pulses[pin]
}

func testRig(d gpio.Driver) *GPIORig {
	return NewGPIORig(d, map[string]AxisPins{
		"rig/0": {StepPin: 17, DirPin: 27, TravelSteps: 5, StepDelay: time.Nanosecond},
	})
}

func TestGPIORig_MoveRequiresHoming(t *testing.T) {
	rig := testRig(newCountingDriver())
	if err := rig.MoveMotor(context.Background(), "rig", 0, 10); err == nil {
		t.Error("expected error moving an unhomed axis")
	}
}

func TestGPIORig_HomeThenMove(t *testing.T) {
	d := newCountingDriver()
	rig := testRig(d)
	ctx := context.Background()

	if err := rig.HomeAll(ctx, []string{"rig"}); err != nil {
		t.Fatal(err)
	}
	if got := d.pulseCount(17); got != 5 {
		t.Errorf("homing pulses = %d, want full travel 5", got)
	}
	if err := rig.MoveMotor(ctx, "rig", 0, 3); err != nil {
		t.Fatal(err)
	}
	if got := d.pulseCount(17); got != 8 {
		t.Errorf("pulses after move = %d, want 8", got)
	}
	// Absolute positioning: moving to the same target is a no-op.
	if err := rig.MoveMotor(ctx, "rig", 0, 3); err != nil {
		t.Fatal(err)
	}
	if got := d.pulseCount(17); got != 8 {
		t.Errorf("pulses after repeat move = %d, want 8", got)
	}
}

func TestGPIORig_HomeAllSkipsUnlistedNodes(t *testing.T) {
	d := newCountingDriver()
	rig := testRig(d)
	if err := rig.HomeAll(context.Background(), []string{"other"}); err != nil {
		t.Fatal(err)
	}
	if got := d.pulseCount(17); got != 0 {
		t.Errorf("unlisted axis was homed, pulses = %d", got)
	}
}

func TestGPIORig_UnknownAxis(t *testing.T) {
	rig := testRig(newCountingDriver())
	if err := rig.MoveMotor(context.Background(), "nope", 9, 1); err == nil {
		t.Error("expected error for unknown axis")
	}
	m := &grid.Motor{NodeMac: "nope", MotorIndex: 9}
	if err := rig.HomeTile(context.Background(), m, nil); err == nil {
		t.Error("expected error for unknown axis")
	}
}
