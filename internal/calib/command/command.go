// Package command defines the closed protocol between the calibration
// script and the executor: IO commands that require an adapter call and
// state commands the executor applies to its own snapshot. Nothing else
// crosses that boundary, which keeps the script deterministic and testable
// without adapters.
package command

import (
	"github.com/lumenfield/mirrorcal/internal/calib/grid"
	"github.com/lumenfield/mirrorcal/internal/calib/state"
)

// Kind is the stable discriminator of a command. The string values are part
// of golden traces; do not rename.
type Kind string

const (
	// IO commands.
	KindHomeAll        Kind = "HOME_ALL"
	KindHomeTile       Kind = "HOME_TILE"
	KindMoveAxis       Kind = "MOVE_AXIS"
	KindMoveAxesBatch  Kind = "MOVE_AXES_BATCH"
	KindMoveTilePose   Kind = "MOVE_TILE_POSE"
	KindMoveTilesBatch Kind = "MOVE_TILES_BATCH"
	KindCapture        Kind = "CAPTURE"
	KindDelay          Kind = "DELAY"
	KindAwaitDecision  Kind = "AWAIT_DECISION"

	// State commands.
	KindUpdatePhase            Kind = "UPDATE_PHASE"
	KindUpdateTile             Kind = "UPDATE_TILE"
	KindCheckpoint             Kind = "CHECKPOINT"
	KindLog                    Kind = "LOG"
	KindUpdateSummary          Kind = "UPDATE_SUMMARY"
	KindUpdateExpectedPosition Kind = "UPDATE_EXPECTED_POSITION"
	KindUpdateProgress         Kind = "UPDATE_PROGRESS"
)

// Motor reports whether the kind is a motor command, routed through the
// executor's retry/decision wrapper.
func (k Kind) Motor() bool {
	switch k {
	case KindHomeAll, KindHomeTile, KindMoveAxis, KindMoveAxesBatch, KindMoveTilePose, KindMoveTilesBatch:
		return true
	default:
		return false
	}
}

// State reports whether the kind mutates executor state with no I/O.
func (k Kind) State() bool {
	switch k {
	case KindUpdatePhase, KindUpdateTile, KindCheckpoint, KindLog,
		KindUpdateSummary, KindUpdateExpectedPosition, KindUpdateProgress:
		return true
	default:
		return false
	}
}

// Command is the sealed union of everything a script may yield.
type Command interface {
	Kind() Kind
	isCommand()
}

// Result is the sealed union of everything the executor feeds back.
// The executor guarantees result.Kind() == command.Kind() for every
// dispatch.
type Result interface {
	Kind() Kind
	isResult()
}

// DecisionReason classifies why a decision is being requested.
type DecisionReason string

const (
	DecisionTileFailure     DecisionReason = "tile-failure"
	DecisionStepTestFailure DecisionReason = "step-test-failure"
	DecisionCommandFailure  DecisionReason = "command-failure"
)

// DecisionOption is one choice offered to the user.
type DecisionOption string

const (
	OptionRetry     DecisionOption = "retry"
	OptionHomeRetry DecisionOption = "home-retry"
	OptionSkip      DecisionOption = "skip"
	OptionIgnore    DecisionOption = "ignore"
	OptionAbort     DecisionOption = "abort"
)

// --- IO commands ---

// HomeAll homes every motor on the given controller nodes.
type HomeAll struct {
	Macs []string
}

// HomeTile homes one tile's two axes.
type HomeTile struct {
	Tile grid.TileAddress
	X    *grid.Motor
	Y    *grid.Motor
}

// AxisMove is one absolute move of one motor.
type AxisMove struct {
	Motor         grid.Motor
	PositionSteps int
}

// MoveAxis moves one motor to an absolute step target. Tile is the
// owning tile when known; it scopes skip/decision handling.
type MoveAxis struct {
	Tile *grid.TileAddress
	Move AxisMove
}

// MoveAxesBatch moves several motors concurrently and waits for all.
type MoveAxesBatch struct {
	Tile  *grid.TileAddress
	Moves []AxisMove
}

// TilePoseMove is one tile's move to a named pose.
type TilePoseMove struct {
	Tile       grid.TileAddress
	Assignment grid.MirrorAssignment
	Pose       grid.Pose
}

// MoveTilePose moves a tile's two axes to a named pose.
type MoveTilePose TilePoseMove

// MoveTilesBatch runs several pose moves concurrently and waits for all.
type MoveTilesBatch struct {
	Moves []TilePoseMove
}

// Capture requests a blob measurement.
type Capture struct {
	Expected  *grid.Position
	Tolerance float64
}

// Delay waits the given number of milliseconds (cancelable).
type Delay struct {
	Ms int
}

// AwaitDecision blocks until the UI supplies one of Options.
type AwaitDecision struct {
	Reason  DecisionReason
	Tile    *grid.TileAddress
	Err     string
	Options []DecisionOption
}

// --- State commands ---

// UpdatePhase sets the run phase.
type UpdatePhase struct {
	Phase state.Phase
}

// UpdateTile applies a partial patch to one tile's run state.
type UpdateTile struct {
	Tile  grid.TileAddress
	Patch state.TilePatch
}

// Checkpoint marks a named step boundary used for single-step debugging.
type Checkpoint struct {
	Name string
}

// Log emits a structured log line.
type Log struct {
	Level   string
	Message string
	Tile    *grid.TileAddress
	Group   string
	Meta    map[string]string
}

// UpdateSummary publishes a (possibly progressive) run summary.
type UpdateSummary struct {
	Summary *state.Summary
}

// UpdateExpectedPosition updates the UI overlay hint.
type UpdateExpectedPosition struct {
	Position  *grid.Position
	Tolerance float64
}

// UpdateProgress publishes the progress counters.
type UpdateProgress struct {
	Progress state.Progress
}

func (HomeAll) Kind() Kind        { return KindHomeAll }
func (HomeTile) Kind() Kind       { return KindHomeTile }
func (MoveAxis) Kind() Kind       { return KindMoveAxis }
func (MoveAxesBatch) Kind() Kind  { return KindMoveAxesBatch }
func (MoveTilePose) Kind() Kind   { return KindMoveTilePose }
func (MoveTilesBatch) Kind() Kind { return KindMoveTilesBatch }
func (Capture) Kind() Kind        { return KindCapture }
func (Delay) Kind() Kind          { return KindDelay }
func (AwaitDecision) Kind() Kind  { return KindAwaitDecision }

func (UpdatePhase) Kind() Kind            { return KindUpdatePhase }
func (UpdateTile) Kind() Kind             { return KindUpdateTile }
func (Checkpoint) Kind() Kind             { return KindCheckpoint }
func (Log) Kind() Kind                    { return KindLog }
func (UpdateSummary) Kind() Kind          { return KindUpdateSummary }
func (UpdateExpectedPosition) Kind() Kind { return KindUpdateExpectedPosition }
func (UpdateProgress) Kind() Kind         { return KindUpdateProgress }

func (HomeAll) isCommand()        {}
func (HomeTile) isCommand()       {}
func (MoveAxis) isCommand()       {}
func (MoveAxesBatch) isCommand()  {}
func (MoveTilePose) isCommand()   {}
func (MoveTilesBatch) isCommand() {}
func (Capture) isCommand()        {}
func (Delay) isCommand()          {}
func (AwaitDecision) isCommand()  {}

func (UpdatePhase) isCommand()            {}
func (UpdateTile) isCommand()             {}
func (Checkpoint) isCommand()             {}
func (Log) isCommand()                    {}
func (UpdateSummary) isCommand()          {}
func (UpdateExpectedPosition) isCommand() {}
func (UpdateProgress) isCommand()         {}

// --- Results ---

// Ack is the trivial success result for motor, delay and state commands.
// It carries the kind of the command it acknowledges.
type Ack struct {
	For Kind
}

func (a Ack) Kind() Kind { return a.For }
func (Ack) isResult()    {}

// CaptureResult carries a measurement, or nil with a descriptive error
// when detection retries were exhausted.
type CaptureResult struct {
	Measurement *grid.BlobMeasurement
	Err         string
}

func (CaptureResult) Kind() Kind { return KindCapture }
func (CaptureResult) isResult()  {}

// DecisionResult carries the option the user selected.
type DecisionResult struct {
	Option DecisionOption
}

func (DecisionResult) Kind() Kind { return KindAwaitDecision }
func (DecisionResult) isResult()  {}
