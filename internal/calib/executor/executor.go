// Package executor drives a calibration script against real adapters. It
// owns the run's state snapshot, turns script commands into motor and
// camera calls, and exposes the live control surface: pause, resume,
// single-step, user decisions and abort.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenfield/mirrorcal/internal/calib/command"
	"github.com/lumenfield/mirrorcal/internal/calib/grid"
	"github.com/lumenfield/mirrorcal/internal/calib/script"
	"github.com/lumenfield/mirrorcal/internal/calib/state"
	"github.com/lumenfield/mirrorcal/internal/clock"
	"github.com/lumenfield/mirrorcal/internal/config"
	"github.com/lumenfield/mirrorcal/internal/debug"
	"github.com/lumenfield/mirrorcal/internal/hw/camera"
	"github.com/lumenfield/mirrorcal/internal/hw/motor"
)

// ErrAborted is returned by Run when the run ends through Abort or an
// abort decision.
var ErrAborted = errors.New("calibration aborted")

// Adapters bundles the hardware the executor drives.
type Adapters struct {
	Motors motor.Adapter
	Camera camera.Adapter
	Clock  clock.Clock
}

// PoseMath resolves named poses into absolute step targets. Implemented by
// blueprint.Engine.
type PoseMath interface {
	PoseTargets(tile grid.TileAddress, pose grid.Pose) (x, y int)
}

// Callbacks receive run events. Any field may be nil. They are invoked
// from the dispatch goroutine and must not block for long.
type Callbacks struct {
	OnState                  func(*state.State)
	OnLog                    func(command.Log)
	OnStep                   func(state.StepState)
	OnDecision               func(*PendingDecision)
	OnTileError              func(row, col int, message string)
	OnCommandError           func(CommandError)
	OnExpectedPositionChange func(pos *grid.Position, tolerance float64)
}

// CommandError is toast-style context for a failed motor command, emitted
// alongside the decision or fatal error it produced.
type CommandError struct {
	Kind command.Kind      `json:"kind"`
	Tile *grid.TileAddress `json:"tile,omitempty"`
	Err  string            `json:"error"`
}

// PendingDecision is a decision the run is blocked on.
type PendingDecision struct {
	ID      string                   `json:"id"`
	Reason  command.DecisionReason   `json:"reason"`
	Tile    *grid.TileAddress        `json:"tile,omitempty"`
	Err     string                   `json:"error,omitempty"`
	Options []command.DecisionOption `json:"options"`
}

// Record is one executed command in the run's audit log.
type Record struct {
	At   time.Time    `json:"at"`
	Kind command.Kind `json:"kind"`
	Note string       `json:"note,omitempty"`
}

// recordCap bounds the audit log; old entries are dropped.
const recordCap = 512

// Executor runs one calibration script. Not reusable across runs.
type Executor struct {
	cfg *config.Config
	ad  Adapters
	geo PoseMath
	cb  Callbacks

	mu          sync.Mutex
	st          *state.State
	paused      bool
	pending     *PendingDecision
	expected    *grid.Position
	tol         float64
	skip        map[string]struct{}
	axisPos     map[string]int
	records     []Record
	stepWaiting bool

	resumeCh   chan struct{}
	advanceCh  chan struct{}
	decisionCh chan command.DecisionOption
	abortCh    chan struct{}
	abortOnce  sync.Once
}

// New builds an executor over the given adapters. A nil clock falls back
// to the wall clock.
func New(cfg *config.Config, ad Adapters, geo PoseMath, cb Callbacks) *Executor {
	if ad.Clock == nil {
		ad.Clock = clock.Real{}
	}
	st := state.NewBaseline(cfg.Tiles(), len(cfg.CalibratableTiles()))
	st.RunID = uuid.NewString()
	return &Executor{
		cfg:        cfg,
		ad:         ad,
		geo:        geo,
		cb:         cb,
		st:         st,
		skip:       make(map[string]struct{}),
		axisPos:    make(map[string]int),
		resumeCh:   make(chan struct{}, 1),
		advanceCh:  make(chan struct{}, 1),
		decisionCh: make(chan command.DecisionOption, 1),
		abortCh:    make(chan struct{}),
	}
}

// State returns the current snapshot. Snapshots are immutable; callers
// must not modify the returned value.
func (e *Executor) State() *state.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

// Pending returns the decision the run is blocked on, nil when none.
func (e *Executor) Pending() *PendingDecision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// Expected returns the current expected-position overlay hint.
func (e *Executor) Expected() (*grid.Position, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expected, e.tol
}

// Records returns a copy of the command audit log.
func (e *Executor) Records() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Record(nil), e.records...)
}

// Paused reports whether a pause has been requested.
func (e *Executor) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Pause requests a pause at the next command boundary.
func (e *Executor) Pause() {
	e.mu.Lock()
	e.paused = true
	// Drop a stale resume token so the next gate actually blocks.
	select {
	case <-e.resumeCh:
	default:
	}
	e.mu.Unlock()
}

// Resume clears a pause.
func (e *Executor) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	select {
	case e.resumeCh <- struct{}{}:
	default:
	}
}

// Advance releases the checkpoint the run is currently waiting at. A no-op
// when no checkpoint is waiting, so a premature call cannot pre-complete
// the next one.
func (e *Executor) Advance() {
	e.mu.Lock()
	waiting := e.stepWaiting
	e.mu.Unlock()
	if !waiting {
		return
	}
	select {
	case e.advanceCh <- struct{}{}:
	default:
	}
}

// SubmitDecision answers the pending decision. It fails when no decision
// is pending, the id does not match, or the option was not offered.
func (e *Executor) SubmitDecision(id string, opt command.DecisionOption) error {
	e.mu.Lock()
	p := e.pending
	e.mu.Unlock()
	if p == nil {
		return errors.New("no decision pending")
	}
	if id != "" && id != p.ID {
		return fmt.Errorf("decision %s is no longer pending", id)
	}
	allowed := false
	for _, o := range p.Options {
		if o == opt {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("option %q not offered for this decision", opt)
	}
	select {
	case e.decisionCh <- opt:
		return nil
	default:
		return errors.New("decision already submitted")
	}
}

// Abort ends the run as soon as the current adapter call returns.
// Idempotent.
func (e *Executor) Abort() {
	e.abortOnce.Do(func() { close(e.abortCh) })
}

// Run drives the script to completion and returns the final snapshot.
// It returns ErrAborted if the run was aborted, or the context's cause if
// the context ended first.
func (e *Executor) Run(ctx context.Context, s *script.Script) (*state.State, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-e.abortCh:
			cancel(ErrAborted)
		case <-watchDone:
		}
	}()
	defer s.Close()
	debug.Info("run %s starting", e.State().RunID)

	var prev command.Result
	for {
		if err := e.gate(ctx); err != nil {
			return e.finishAbort(err), err
		}
		cmd, ok := s.Next(prev)
		if !ok {
			break
		}
		res, err := e.dispatch(ctx, cmd)
		if err != nil {
			return e.finishAbort(err), err
		}
		prev = res
	}
	return e.State(), nil
}

// gate blocks while paused and fails once the run is aborted or the
// context ends.
func (e *Executor) gate(ctx context.Context) error {
	if err := e.interrupted(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	paused := e.paused
	e.mu.Unlock()
	if !paused {
		return nil
	}

	prev := e.State().Phase
	if prev.Terminal() {
		return nil
	}
	e.mutate(func(st *state.State) { st.Phase = state.PhasePaused })
	debug.Phase(string(state.PhasePaused))
	select {
	case <-e.resumeCh:
		e.mutate(func(st *state.State) { st.Phase = prev })
		debug.Phase(string(prev))
		return nil
	case <-e.abortCh:
		return ErrAborted
	case <-ctx.Done():
		return cause(ctx)
	}
}

func (e *Executor) interrupted(ctx context.Context) error {
	select {
	case <-e.abortCh:
		return ErrAborted
	case <-ctx.Done():
		return cause(ctx)
	default:
		return nil
	}
}

func cause(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

// finishAbort closes out the snapshot after an abort or context failure.
func (e *Executor) finishAbort(err error) *state.State {
	e.mutate(func(st *state.State) {
		if st.Phase.Terminal() {
			return
		}
		if errors.Is(err, ErrAborted) {
			st.Phase = state.PhaseAborted
		} else {
			st.Phase = state.PhaseError
			st.Error = err.Error()
		}
	})
	return e.State()
}

func (e *Executor) dispatch(ctx context.Context, cmd command.Command) (command.Result, error) {
	e.record(cmd, "")
	debug.Command(string(cmd.Kind()), "")

	switch c := cmd.(type) {
	case command.HomeAll:
		return e.motorCommand(ctx, cmd, nil, func(ctx context.Context) error {
			err := e.ad.Motors.HomeAll(ctx, c.Macs)
			if err == nil {
				e.mu.Lock()
				e.axisPos = make(map[string]int)
				e.mu.Unlock()
			}
			return err
		})
	case command.HomeTile:
		return e.motorCommand(ctx, cmd, &c.Tile, func(ctx context.Context) error {
			err := e.ad.Motors.HomeTile(ctx, c.X, c.Y)
			if err == nil {
				e.setAxisPos(c.X, 0)
				e.setAxisPos(c.Y, 0)
			}
			return err
		})
	case command.MoveAxis:
		return e.motorCommand(ctx, cmd, c.Tile, func(ctx context.Context) error {
			return e.moveOne(ctx, c.Move)
		})
	case command.MoveAxesBatch:
		return e.motorCommand(ctx, cmd, c.Tile, func(ctx context.Context) error {
			return e.moveMany(ctx, c.Moves)
		})
	case command.MoveTilePose:
		return e.motorCommand(ctx, cmd, &c.Tile, func(ctx context.Context) error {
			return e.moveMany(ctx, e.poseMoves(command.TilePoseMove(c)))
		})
	case command.MoveTilesBatch:
		return e.dispatchTilesBatch(ctx, c)

	case command.Capture:
		return e.dispatchCapture(ctx, c)
	case command.Delay:
		if err := e.ad.Clock.Delay(ctx, time.Duration(c.Ms)*time.Millisecond); err != nil {
			return nil, err
		}
		return command.Ack{For: command.KindDelay}, nil
	case command.AwaitDecision:
		return e.dispatchDecision(ctx, c)

	case command.UpdatePhase:
		e.mutate(func(st *state.State) { st.Phase = c.Phase })
		debug.Phase(string(c.Phase))
		return command.Ack{For: command.KindUpdatePhase}, nil
	case command.UpdateTile:
		e.applyTilePatch(c.Tile, c.Patch)
		return command.Ack{For: command.KindUpdateTile}, nil
	case command.Checkpoint:
		return e.dispatchCheckpoint(ctx, c)
	case command.Log:
		debug.Info("%s", c.Message)
		if e.cb.OnLog != nil {
			e.cb.OnLog(c)
		}
		return command.Ack{For: command.KindLog}, nil
	case command.UpdateSummary:
		sum := c.Summary.Clone()
		e.mutate(func(st *state.State) { st.Summary = sum })
		return command.Ack{For: command.KindUpdateSummary}, nil
	case command.UpdateExpectedPosition:
		e.mu.Lock()
		e.expected = c.Position
		e.tol = c.Tolerance
		e.mu.Unlock()
		if e.cb.OnExpectedPositionChange != nil {
			e.cb.OnExpectedPositionChange(c.Position, c.Tolerance)
		}
		return command.Ack{For: command.KindUpdateExpectedPosition}, nil
	case command.UpdateProgress:
		e.mutate(func(st *state.State) { st.Progress = c.Progress })
		return command.Ack{For: command.KindUpdateProgress}, nil
	}
	return nil, fmt.Errorf("unhandled command kind %q", cmd.Kind())
}

// motorCommand runs one motor operation through the skip filter and the
// failure/decision loop.
func (e *Executor) motorCommand(ctx context.Context, cmd command.Command, tile *grid.TileAddress, op func(context.Context) error) (command.Result, error) {
	ack := command.Ack{For: cmd.Kind()}
	if tile != nil && e.skipped(tile.Key) {
		e.record(cmd, "skipped tile, no-op")
		return ack, nil
	}
	for {
		err := op(ctx)
		if err == nil {
			return ack, nil
		}
		if ierr := e.interrupted(ctx); ierr != nil {
			return nil, ierr
		}
		debug.Live("%s failed: %v", cmd.Kind(), err)
		if e.cb.OnCommandError != nil {
			e.cb.OnCommandError(CommandError{Kind: cmd.Kind(), Tile: tile, Err: err.Error()})
		}

		// The option set depends on context: a tile mid-measurement may be
		// ignored or skipped, a tile outside measurement only skipped, and
		// a grid-wide command (no tile) only retried or aborted.
		options := []command.DecisionOption{command.OptionRetry}
		if tile != nil {
			if e.tileMeasuring(tile.Key) {
				options = append(options, command.OptionIgnore)
			}
			options = append(options, command.OptionSkip)
		}
		options = append(options, command.OptionAbort)
		opt, derr := e.awaitDecision(ctx, &PendingDecision{
			Reason:  command.DecisionCommandFailure,
			Tile:    tile,
			Err:     err.Error(),
			Options: options,
		})
		if derr != nil {
			return nil, derr
		}
		switch opt {
		case command.OptionAbort:
			return nil, ErrAborted
		case command.OptionIgnore:
			// Proceeds as if the move succeeded; the motor may be
			// physically mispositioned. Recorded in the audit log only.
			e.record(cmd, "ignored after failure: "+err.Error())
			return ack, nil
		case command.OptionSkip:
			skipped := state.TileSkipped
			msg := err.Error()
			e.applyTilePatch(*tile, state.TilePatch{Status: &skipped, Error: &msg})
			e.record(cmd, "tile skipped after failure: "+msg)
			return ack, nil
		}
		// retry: loop
	}
}

func (e *Executor) tileMeasuring(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.st.Tiles[key]
	return ok && t.Status == state.TileMeasuring
}

func (e *Executor) dispatchTilesBatch(ctx context.Context, c command.MoveTilesBatch) (command.Result, error) {
	var moves []command.AxisMove
	for _, m := range c.Moves {
		if e.skipped(m.Tile.Key) {
			continue
		}
		moves = append(moves, e.poseMoves(m)...)
	}
	return e.motorCommand(ctx, c, nil, func(ctx context.Context) error {
		return e.moveMany(ctx, moves)
	})
}

// poseMoves expands a pose move into its per-axis absolute moves.
func (e *Executor) poseMoves(m command.TilePoseMove) []command.AxisMove {
	x, y := e.geo.PoseTargets(m.Tile, m.Pose)
	var moves []command.AxisMove
	if m.Assignment.X != nil {
		moves = append(moves, command.AxisMove{Motor: *m.Assignment.X, PositionSteps: x})
	}
	if m.Assignment.Y != nil {
		moves = append(moves, command.AxisMove{Motor: *m.Assignment.Y, PositionSteps: y})
	}
	return moves
}

// moveOne issues one absolute move, skipping it when the axis is already
// at the target.
func (e *Executor) moveOne(ctx context.Context, m command.AxisMove) error {
	e.mu.Lock()
	cur, known := e.axisPos[m.Motor.AxisKey()]
	e.mu.Unlock()
	if known && cur == m.PositionSteps {
		return nil
	}
	if err := e.ad.Motors.MoveMotor(ctx, m.Motor.NodeMac, m.Motor.MotorIndex, m.PositionSteps); err != nil {
		return err
	}
	e.mu.Lock()
	e.axisPos[m.Motor.AxisKey()] = m.PositionSteps
	e.mu.Unlock()
	return nil
}

// moveMany runs moves concurrently and waits for all; the first error wins.
func (e *Executor) moveMany(ctx context.Context, moves []command.AxisMove) error {
	if len(moves) == 0 {
		return nil
	}
	if len(moves) == 1 {
		return e.moveOne(ctx, moves[0])
	}
	errs := make([]error, len(moves))
	var wg sync.WaitGroup
	for i, m := range moves {
		wg.Add(1)
		go func(i int, m command.AxisMove) {
			defer wg.Done()
			errs[i] = e.moveOne(ctx, m)
		}(i, m)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// dispatchCapture runs the capture retry loop. Exhausted retries are not a
// run failure: the script decides what to do with an empty result.
func (e *Executor) dispatchCapture(ctx context.Context, c command.Capture) (command.Result, error) {
	params := camera.Params{
		Timeout:     e.cfg.CaptureTimeout(),
		Expected:    c.Expected,
		MaxDistance: c.Tolerance,
	}
	var lastErr string
	retries := e.cfg.Settings.MaxDetectionRetries
	for attempt := 1; attempt <= retries; attempt++ {
		if err := e.interrupted(ctx); err != nil {
			return nil, err
		}
		m, err := e.ad.Camera.Capture(ctx, params)
		switch {
		case err != nil:
			lastErr = err.Error()
			debug.Capture(attempt, false)
			debug.Live("capture attempt %d/%d failed: %v", attempt, retries, err)
		case m == nil:
			lastErr = "no blob detected"
			debug.Capture(attempt, false)
		case c.Expected != nil && outsideTolerance(m.Pos(), *c.Expected, c.Tolerance):
			lastErr = fmt.Sprintf("blob at (%.4f, %.4f) outside tolerance %.3f of expected (%.4f, %.4f)",
				m.X, m.Y, c.Tolerance, c.Expected.X, c.Expected.Y)
			debug.Capture(attempt, false)
			debug.Live("capture attempt %d/%d: %s", attempt, retries, lastErr)
		default:
			debug.Capture(attempt, true)
			return command.CaptureResult{Measurement: m}, nil
		}
		if attempt < retries {
			if err := e.ad.Clock.Delay(ctx, e.cfg.RetryDelay()); err != nil {
				return nil, err
			}
		}
	}
	return command.CaptureResult{Err: lastErr}, nil
}

func outsideTolerance(p, expected grid.Position, tol float64) bool {
	if tol <= 0 {
		return false
	}
	d := p.Sub(expected)
	return math.Hypot(d.X, d.Y) > tol
}

func (e *Executor) dispatchDecision(ctx context.Context, c command.AwaitDecision) (command.Result, error) {
	opt, err := e.awaitDecision(ctx, &PendingDecision{
		Reason:  c.Reason,
		Tile:    c.Tile,
		Err:     c.Err,
		Options: c.Options,
	})
	if err != nil {
		return nil, err
	}
	return command.DecisionResult{Option: opt}, nil
}

// awaitDecision publishes a pending decision and blocks for the answer.
// A skip answer also adds the tile to the skip set so later motor commands
// for it become no-ops.
func (e *Executor) awaitDecision(ctx context.Context, p *PendingDecision) (command.DecisionOption, error) {
	p.ID = uuid.NewString()
	e.mu.Lock()
	e.pending = p
	// Drop a stale answer from a decision that was aborted away.
	select {
	case <-e.decisionCh:
	default:
	}
	e.mu.Unlock()
	debug.Decision(string(p.Reason), "")
	debug.Live("decision pending for tile %s: %s", tileKey(p.Tile), p.Err)
	if e.cb.OnDecision != nil {
		e.cb.OnDecision(p)
	}

	defer func() {
		e.mu.Lock()
		e.pending = nil
		e.mu.Unlock()
		if e.cb.OnDecision != nil {
			e.cb.OnDecision(nil)
		}
	}()

	select {
	case opt := <-e.decisionCh:
		debug.Decision(string(p.Reason), string(opt))
		if opt == command.OptionSkip && p.Tile != nil {
			e.mu.Lock()
			e.skip[p.Tile.Key] = struct{}{}
			e.mu.Unlock()
		}
		return opt, nil
	case <-e.abortCh:
		return "", ErrAborted
	case <-ctx.Done():
		return "", cause(ctx)
	}
}

func (e *Executor) dispatchCheckpoint(ctx context.Context, c command.Checkpoint) (command.Result, error) {
	ack := command.Ack{For: command.KindCheckpoint}
	if e.cfg.Mode != config.ModeStep {
		e.emitStep(state.StepState{Checkpoint: c.Name, Status: state.StepCompleted})
		return ack, nil
	}
	e.mu.Lock()
	e.stepWaiting = true
	// Drop a stale token so this checkpoint actually blocks.
	select {
	case <-e.advanceCh:
	default:
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.stepWaiting = false
		e.mu.Unlock()
	}()

	e.emitStep(state.StepState{Checkpoint: c.Name, Status: state.StepWaiting})
	debug.Info("checkpoint %q waiting for advance", c.Name)
	select {
	case <-e.advanceCh:
		e.emitStep(state.StepState{Checkpoint: c.Name, Status: state.StepCompleted})
		return ack, nil
	case <-e.abortCh:
		return nil, ErrAborted
	case <-ctx.Done():
		return nil, cause(ctx)
	}
}

func (e *Executor) emitStep(s state.StepState) {
	if e.cb.OnStep != nil {
		e.cb.OnStep(s)
	}
}

// applyTilePatch mutates one tile's run state, enforcing the one-way
// status progression and tracking the active tile. A patch that marks a
// tile failed or skipped with an error message also raises OnTileError.
func (e *Executor) applyTilePatch(tile grid.TileAddress, patch state.TilePatch) {
	tileError := ""
	e.mutate(func(st *state.State) {
		t, ok := st.Tiles[tile.Key]
		if !ok {
			return
		}
		if patch.Status != nil && !t.Status.CanTransition(*patch.Status) {
			debug.Tile(tile.Key, fmt.Sprintf("dropped status %s -> %s", t.Status, *patch.Status))
			patch.Status = nil
		}
		patch.Apply(t)
		if patch.Status != nil && (*patch.Status == state.TileFailed || *patch.Status == state.TileSkipped) && t.Error != "" {
			tileError = t.Error
		}
		switch {
		case t.Status == state.TileMeasuring:
			addr := tile
			st.ActiveTile = &addr
		case st.ActiveTile != nil && st.ActiveTile.Key == tile.Key && t.Status.Terminal():
			st.ActiveTile = nil
		}
	})
	if patch.Status != nil {
		debug.Tile(tile.Key, string(*patch.Status))
	}
	if tileError != "" && e.cb.OnTileError != nil {
		e.cb.OnTileError(tile.Row, tile.Col, tileError)
	}
}

// mutate clones the snapshot, applies fn and publishes the result.
func (e *Executor) mutate(fn func(st *state.State)) {
	e.mu.Lock()
	next := e.st.Clone()
	fn(next)
	e.st = next
	e.mu.Unlock()
	if e.cb.OnState != nil {
		e.cb.OnState(next)
	}
}

func (e *Executor) skipped(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.skip[key]
	return ok
}

func (e *Executor) setAxisPos(m *grid.Motor, pos int) {
	if m == nil {
		return
	}
	e.mu.Lock()
	e.axisPos[m.AxisKey()] = pos
	e.mu.Unlock()
}

func (e *Executor) record(cmd command.Command, note string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, Record{At: time.Now(), Kind: cmd.Kind(), Note: note})
	if len(e.records) > recordCap {
		e.records = e.records[len(e.records)-recordCap:]
	}
}

func tileKey(t *grid.TileAddress) string {
	if t == nil {
		return "-"
	}
	return t.Key
}
