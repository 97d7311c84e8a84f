// Package motor defines the motor control adapter consumed by the
// calibration executor, plus its concrete transports (GPIO stepper rig,
// serial RPC) and an in-memory fake for tests.
package motor

import (
	"context"
	"fmt"
	"sync"

	"github.com/lumenfield/mirrorcal/internal/calib/grid"
	"github.com/lumenfield/mirrorcal/internal/debug"
)

// Adapter is the motor command transport. Any rejection is treated by the
// executor as a retryable motor-command failure.
type Adapter interface {
	// HomeAll homes every motor on the given controller nodes.
	HomeAll(ctx context.Context, macs []string) error

	// HomeTile homes one tile's two axes. Either axis may be nil.
	HomeTile(ctx context.Context, x, y *grid.Motor) error

	// MoveMotor moves one motor to an absolute step target.
	MoveMotor(ctx context.Context, mac string, motorIndex, positionSteps int) error
}

// Fake is an in-memory Adapter recording every call. Failures can be
// scripted per operation kind to exercise the executor's retry paths.
type Fake struct {
	mu        sync.Mutex
	homeAlls  [][]string
	homeTiles int
	moves     []FakeMove
	positions map[string]int

	// FailHomeAll, FailHomeTile and FailMove hold the number of upcoming
	// calls of each kind that should fail.
	FailHomeAll  int
	FailHomeTile int
	FailMove     int
}

// FakeMove records one MoveMotor call.
type FakeMove struct {
	Mac           string
	MotorIndex    int
	PositionSteps int
}

// NewFake creates an empty fake adapter.
func NewFake() *Fake {
	return &Fake{positions: make(map[string]int)}
}

func (f *Fake) HomeAll(ctx context.Context, macs []string) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailHomeAll > 0 {
		f.FailHomeAll--
		return fmt.Errorf("fake: HomeAll failed")
	}
	recorded := make([]string, len(macs))
	copy(recorded, macs)
	f.homeAlls = append(f.homeAlls, recorded)
	for key := range f.positions {
		f.positions[key] = 0
	}
	return nil
}

func (f *Fake) HomeTile(ctx context.Context, x, y *grid.Motor) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailHomeTile > 0 {
		f.FailHomeTile--
		return fmt.Errorf("fake: HomeTile failed")
	}
	f.homeTiles++
	if x != nil {
		f.positions[x.AxisKey()] = 0
	}
	if y != nil {
		f.positions[y.AxisKey()] = 0
	}
	return nil
}

func (f *Fake) MoveMotor(ctx context.Context, mac string, motorIndex, positionSteps int) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailMove > 0 {
		f.FailMove--
		return fmt.Errorf("fake: MoveMotor %s/%d failed", mac, motorIndex)
	}
	f.moves = append(f.moves, FakeMove{Mac: mac, MotorIndex: motorIndex, PositionSteps: positionSteps})
	f.positions[grid.Motor{NodeMac: mac, MotorIndex: motorIndex}.AxisKey()] = positionSteps
	debug.Motor(mac, motorIndex, positionSteps)
	return nil
}

// HomeAllCalls returns the recorded HomeAll invocations.
func (f *Fake) HomeAllCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.homeAlls))
	copy(out, f.homeAlls)
	return out
}

// HomeTileCalls returns the number of HomeTile invocations.
func (f *Fake) HomeTileCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.homeTiles
}

// Moves returns the recorded MoveMotor invocations in order.
func (f *Fake) Moves() []FakeMove {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeMove, len(f.moves))
	copy(out, f.moves)
	return out
}

// Position returns the last commanded step position of an axis.
func (f *Fake) Position(m grid.Motor) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positions[m.AxisKey()]
}
