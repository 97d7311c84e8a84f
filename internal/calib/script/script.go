// Package script encodes the calibration algorithm as a coroutine that
// yields commands and receives results. It performs no I/O itself: running
// the same script against the same sequence of results always produces the
// same command sequence, which is what the golden-trace tests pin down.
package script

import (
	"fmt"
	"sort"

	"github.com/lumenfield/mirrorcal/internal/calib/blueprint"
	"github.com/lumenfield/mirrorcal/internal/calib/command"
	"github.com/lumenfield/mirrorcal/internal/calib/grid"
	"github.com/lumenfield/mirrorcal/internal/calib/state"
	"github.com/lumenfield/mirrorcal/internal/config"
)

// Geometry is the pure-math collaborator the script delegates numeric work
// to. Implemented by blueprint.Engine.
type Geometry interface {
	PoseTargets(tile grid.TileAddress, pose grid.Pose) (x, y int)
	Summarize(results []blueprint.TileResult) *state.Summary
	Merge(base *state.Summary, r blueprint.TileResult) *state.Summary
	EstimateExpected(completed []blueprint.TileResult, target grid.TileAddress) *grid.Position
	AlignMoves(sum *state.Summary, mirrors grid.MirrorConfig) []command.AxisMove
}

// Calibration builds the full-grid calibration script.
func Calibration(cfg *config.Config, geo Geometry) *Script {
	return New(func(yield YieldFunc) {
		newRun(cfg, geo, yield).main()
	})
}

// tileOutcome is the result of one tile's calibration pass.
type tileOutcome int

const (
	tileOK tileOutcome = iota
	tileSkipped
	tileAborted
)

type axis int

const (
	axisX axis = iota
	axisY
)

func (a axis) name() string {
	if a == axisX {
		return "x"
	}
	return "y"
}

// axisProbe is one axis's step-test outcome.
type axisProbe struct {
	ratio     float64
	sizeDelta float64
	ignored   bool
}

// run carries the script's working state between phases.
type run struct {
	cfg     *config.Config
	geo     Geometry
	yield   YieldFunc
	mirrors grid.MirrorConfig

	completed  []blueprint.TileResult
	firstRatio *state.AxisRatio
	progress   state.Progress
}

func newRun(cfg *config.Config, geo Geometry, yield YieldFunc) *run {
	return &run{
		cfg:     cfg,
		geo:     geo,
		yield:   yield,
		mirrors: cfg.MirrorConfig(),
	}
}

func (r *run) main() {
	tiles := r.cfg.CalibratableTiles()
	if len(tiles) == 0 {
		r.phase(state.PhaseError)
		r.log("error", "no calibratable tiles: every cell is missing a motor assignment", nil)
		return
	}
	r.progress.Total = len(tiles)
	r.pushProgress()

	// Homing
	r.phase(state.PhaseHoming)
	macs := r.mirrors.MacUnion(tiles)
	r.log("info", fmt.Sprintf("homing %d controller nodes", len(macs)), nil)
	r.yield(command.HomeAll{Macs: macs})
	r.checkpoint("home-all")

	// Staging: park everything out of view in one parallel batch.
	r.phase(state.PhaseStaging)
	r.yield(command.MoveTilesBatch{Moves: r.poseMoves(tiles, grid.PoseAside)})
	for _, t := range tiles {
		r.setTileStatus(t, state.TileStaged, "")
	}
	r.checkpoint("stage-all")

	// Measuring: pre-position the first tile while the batch cost is paid
	// once, then walk the grid in order.
	r.phase(state.PhaseMeasuring)
	r.expect(r.geo.EstimateExpected(r.completed, tiles[0]))
	r.moveTilePose(tiles[0], grid.PoseHome)
	for i, tile := range tiles {
		_, out := r.calibrateTile(tile)
		if out == tileAborted {
			r.phase(state.PhaseAborted)
			r.log("warn", "run aborted by user decision", &tile)
			return
		}
		if i < len(tiles)-1 {
			next := tiles[i+1]
			r.expect(r.geo.EstimateExpected(r.completed, next))
			r.yield(command.MoveTilesBatch{Moves: []command.TilePoseMove{
				r.poseMove(tile, grid.PoseAside),
				r.poseMove(next, grid.PoseHome),
			}})
		} else {
			r.moveTilePose(tile, grid.PoseAside)
		}
	}

	// Summary & alignment
	if len(r.completed) > 0 {
		r.phase(state.PhaseAligning)
		sum := r.geo.Summarize(r.completed)
		r.yield(command.UpdateSummary{Summary: sum})
		r.propagateOffsets(sum)
		if moves := r.geo.AlignMoves(sum, r.mirrors); len(moves) > 0 {
			r.yield(command.MoveAxesBatch{Moves: moves})
		}
		r.checkpoint("align-grid")
	}

	r.phase(state.PhaseCompleted)
	r.log("info", "calibration run complete", nil)
}

// calibrateTile measures one tile's home position and per-axis step
// ratios. Shared by the full run and single-tile recalibration.
func (r *run) calibrateTile(tile grid.TileAddress) (*blueprint.TileResult, tileOutcome) {
	r.setTileStatus(tile, state.TileMeasuring, "")

	home, out := r.measureHome(tile)
	if out != tileOK {
		return nil, out
	}

	px, out := r.axisStepTest(tile, axisX, home)
	if out != tileOK {
		return nil, out
	}
	py, out := r.axisStepTest(tile, axisY, home)
	if out != tileOK {
		return nil, out
	}

	partial := px.ignored || py.ignored
	ratio := state.AxisRatio{X: px.ratio, Y: py.ratio}
	sizeDelta := (px.sizeDelta + py.sizeDelta) / 2

	var warnings []string
	if px.ignored {
		warnings = append(warnings, "x step test ignored; displacement ratio borrowed")
	}
	if py.ignored {
		warnings = append(warnings, "y step test ignored; displacement ratio borrowed")
	}

	res := blueprint.TileResult{
		Tile:               tile,
		Home:               home,
		StepToDisplacement: ratio,
		SizeDelta:          sizeDelta,
		Partial:            partial,
		Warnings:           warnings,
	}
	if r.firstRatio == nil {
		first := ratio
		r.firstRatio = &first
	}

	status := state.TileCompleted
	if partial {
		status = state.TilePartial
	}
	homeCopy := home
	r.yield(command.UpdateTile{Tile: tile, Patch: state.TilePatch{
		Status:             &status,
		Home:               &homeCopy,
		StepToDisplacement: &ratio,
		SizeDeltaAtStep:    &sizeDelta,
		AppendWarnings:     warnings,
	}})

	r.completed = append(r.completed, res)
	r.progress.Completed++
	r.pushProgress()
	r.yield(command.UpdateSummary{Summary: r.geo.Summarize(r.completed)})
	return &r.completed[len(r.completed)-1], tileOK
}

// measureHome captures the tile's blob at step zero, looping through user
// decisions until it succeeds, is skipped, or aborts the run.
func (r *run) measureHome(tile grid.TileAddress) (grid.BlobMeasurement, tileOutcome) {
	a := r.mirrors[tile.Key]
	expected := r.geo.EstimateExpected(r.completed, tile)
	r.delay(r.cfg.Settings.SettleDelayMs)
	for {
		res := r.capture(expected)
		if res.Measurement != nil {
			m := *res.Measurement
			r.log("info", fmt.Sprintf("home blob at (%.4f, %.4f) size %.4f", m.X, m.Y, m.Size), &tile)
			working := append(append([]blueprint.TileResult(nil), r.completed...),
				blueprint.TileResult{Tile: tile, Home: m})
			r.yield(command.UpdateSummary{Summary: r.geo.Summarize(working)})
			r.checkpoint("measure-home")
			return m, tileOK
		}

		opt := r.decide(command.DecisionTileFailure, &tile, res.Err,
			command.OptionRetry, command.OptionHomeRetry, command.OptionSkip, command.OptionAbort)
		switch opt {
		case command.OptionHomeRetry:
			r.yield(command.HomeTile{Tile: tile, X: a.X, Y: a.Y})
		case command.OptionSkip:
			r.setTileStatus(tile, state.TileSkipped, res.Err)
			r.progress.Skipped++
			r.pushProgress()
			return grid.BlobMeasurement{}, tileSkipped
		case command.OptionAbort:
			return grid.BlobMeasurement{}, tileAborted
		}
		// retry: loop
	}
}

// axisStepTest probes one axis: for the first measured tile an interim
// small-delta probe provides an early ratio estimate, then the full-delta
// probe measures displacement-per-step. The other axis's return-to-zero
// rides in the same batch.
func (r *run) axisStepTest(tile grid.TileAddress, ax axis, home grid.BlobMeasurement) (axisProbe, tileOutcome) {
	a := r.mirrors[tile.Key]
	motorA, motorB := *a.X, *a.Y
	if ax == axisY {
		motorA, motorB = motorB, motorA
	}
	delta := r.cfg.Settings.StepTestDelta

	var est float64
	haveEst := false
	if r.firstRatio != nil {
		est = axisRatio(*r.firstRatio, ax)
		haveEst = true
	} else {
		// Interim probe, first tile only. No expected position is passed:
		// the displacement-per-step ratio this probe estimates is exactly
		// what an expectation would need. The other axis returns to zero
		// in the same batch.
		interim := r.cfg.Settings.InterimStepDelta
		r.yield(command.MoveAxesBatch{Tile: &tile, Moves: []command.AxisMove{
			{Motor: motorA, PositionSteps: interim},
			{Motor: motorB, PositionSteps: 0},
		}})
		r.delay(r.cfg.Settings.SettleDelayMs)
		res := r.capture(nil)
		if res.Measurement != nil && interim != 0 {
			est = axisDelta(res.Measurement.Pos(), home.Pos(), ax) / float64(interim)
			haveEst = true
		}
		r.checkpoint("step-test-" + ax.name() + "-interim")
	}

	probeMoves := []command.AxisMove{
		{Motor: motorA, PositionSteps: delta},
		{Motor: motorB, PositionSteps: 0},
	}
	r.yield(command.MoveAxesBatch{Tile: &tile, Moves: probeMoves})
	r.delay(r.cfg.Settings.SettleDelayMs)

	expected := home.Pos()
	if haveEst {
		expected = shiftAxis(expected, ax, est*float64(delta))
	}
	r.expect(&expected)

	var probe axisProbe
	for {
		res := r.capture(&expected)
		if res.Measurement != nil {
			m := res.Measurement
			probe.ratio = axisDelta(m.Pos(), home.Pos(), ax) / float64(delta)
			probe.sizeDelta = m.Size - home.Size
			break
		}

		opt := r.decide(command.DecisionStepTestFailure, &tile, res.Err,
			command.OptionRetry, command.OptionHomeRetry, command.OptionIgnore, command.OptionAbort)
		if opt == command.OptionIgnore {
			probe.ignored = true
			if r.firstRatio != nil {
				probe.ratio = axisRatio(*r.firstRatio, ax)
			} else if haveEst {
				probe.ratio = est
			}
			break
		}
		if opt == command.OptionAbort {
			return probe, tileAborted
		}
		if opt == command.OptionHomeRetry {
			r.yield(command.HomeTile{Tile: tile, X: a.X, Y: a.Y})
			r.yield(command.MoveAxesBatch{Tile: &tile, Moves: probeMoves})
			r.delay(r.cfg.Settings.SettleDelayMs)
		}
		// retry: loop
	}

	r.checkpoint("step-test-" + ax.name())
	return probe, tileOK
}

// propagateOffsets copies the summary's offset/adjusted-home results onto
// each tile's run state, in key order.
func (r *run) propagateOffsets(sum *state.Summary) {
	keys := make([]string, 0, len(sum.Tiles))
	for k := range sum.Tiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		ts := sum.Tiles[key]
		offset := ts.HomeOffset
		adjusted := ts.AdjustedHome
		r.yield(command.UpdateTile{Tile: ts.Tile, Patch: state.TilePatch{
			HomeOffset:   &offset,
			AdjustedHome: &adjusted,
		}})
	}
}

// --- yield helpers ---

func (r *run) phase(p state.Phase) {
	r.yield(command.UpdatePhase{Phase: p})
}

func (r *run) log(level, msg string, tile *grid.TileAddress) {
	r.yield(command.Log{Level: level, Message: msg, Tile: tile})
}

func (r *run) checkpoint(name string) {
	r.yield(command.Checkpoint{Name: name})
}

func (r *run) delay(ms int) {
	r.yield(command.Delay{Ms: ms})
}

func (r *run) expect(pos *grid.Position) {
	r.yield(command.UpdateExpectedPosition{Position: pos, Tolerance: r.cfg.Settings.CaptureTolerance})
}

func (r *run) pushProgress() {
	r.yield(command.UpdateProgress{Progress: r.progress})
}

func (r *run) capture(expected *grid.Position) command.CaptureResult {
	res := r.yield(command.Capture{Expected: expected, Tolerance: r.cfg.Settings.CaptureTolerance})
	cr, ok := res.(command.CaptureResult)
	if !ok {
		return command.CaptureResult{Err: "executor returned mismatched result for CAPTURE"}
	}
	return cr
}

func (r *run) decide(reason command.DecisionReason, tile *grid.TileAddress, errMsg string, options ...command.DecisionOption) command.DecisionOption {
	res := r.yield(command.AwaitDecision{Reason: reason, Tile: tile, Err: errMsg, Options: options})
	dr, ok := res.(command.DecisionResult)
	if !ok {
		return command.OptionAbort
	}
	return dr.Option
}

func (r *run) setTileStatus(tile grid.TileAddress, status state.TileStatus, errMsg string) {
	patch := state.TilePatch{Status: &status}
	if errMsg != "" {
		patch.Error = &errMsg
	}
	r.yield(command.UpdateTile{Tile: tile, Patch: patch})
}

func (r *run) poseMove(tile grid.TileAddress, pose grid.Pose) command.TilePoseMove {
	return command.TilePoseMove{Tile: tile, Assignment: r.mirrors[tile.Key], Pose: pose}
}

func (r *run) poseMoves(tiles []grid.TileAddress, pose grid.Pose) []command.TilePoseMove {
	moves := make([]command.TilePoseMove, 0, len(tiles))
	for _, t := range tiles {
		moves = append(moves, r.poseMove(t, pose))
	}
	return moves
}

func (r *run) moveTilePose(tile grid.TileAddress, pose grid.Pose) {
	r.yield(command.MoveTilePose(r.poseMove(tile, pose)))
}

func axisDelta(p, home grid.Position, ax axis) float64 {
	if ax == axisX {
		return p.X - home.X
	}
	return p.Y - home.Y
}

func axisRatio(r state.AxisRatio, ax axis) float64 {
	if ax == axisX {
		return r.X
	}
	return r.Y
}

func shiftAxis(p grid.Position, ax axis, by float64) grid.Position {
	if ax == axisX {
		p.X += by
	} else {
		p.Y += by
	}
	return p
}
