// Package state holds the calibration runner's data model: the phase,
// per-tile run states, progress counters and the derived run summary.
// Snapshots are replaced wholesale on every mutation so subscribers always
// observe a consistent view.
package state

import (
	"github.com/lumenfield/mirrorcal/internal/calib/grid"
)

// Phase is the overall run phase.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseHoming    Phase = "homing"
	PhaseStaging   Phase = "staging"
	PhaseMeasuring Phase = "measuring"
	PhaseAligning  Phase = "aligning"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
	PhaseError     Phase = "error"
	PhaseAborted   Phase = "aborted"
)

// Terminal reports whether the phase ends the run.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseError, PhaseAborted:
		return true
	default:
		return false
	}
}

// TileStatus is the per-tile calibration status.
type TileStatus string

const (
	TilePending   TileStatus = "pending"
	TileStaged    TileStatus = "staged"
	TileMeasuring TileStatus = "measuring"
	TileCompleted TileStatus = "completed"
	TilePartial   TileStatus = "partial"
	TileFailed    TileStatus = "failed"
	TileSkipped   TileStatus = "skipped"
)

// Terminal reports whether the status ends the tile's pass.
func (s TileStatus) Terminal() bool {
	switch s {
	case TileCompleted, TilePartial, TileFailed, TileSkipped:
		return true
	default:
		return false
	}
}

// rank orders statuses along the one-directional pass
// pending -> staged -> measuring -> terminal.
func (s TileStatus) rank() int {
	switch s {
	case TilePending:
		return 0
	case TileStaged:
		return 1
	case TileMeasuring:
		return 2
	default:
		return 3
	}
}

// CanTransition reports whether a tile may move from s to next within a
// single pass. Statuses never revert to an earlier stage.
func (s TileStatus) CanTransition(next TileStatus) bool {
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// AxisRatio is a per-axis displacement-per-step pair.
type AxisRatio struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TileMetrics holds a tile's calibration measurements, all nil until
// computed.
type TileMetrics struct {
	Home               *grid.BlobMeasurement `json:"home,omitempty"`
	HomeOffset         *grid.Position        `json:"homeOffset,omitempty"`
	AdjustedHome       *grid.Position        `json:"adjustedHome,omitempty"`
	StepToDisplacement *AxisRatio            `json:"stepToDisplacement,omitempty"`
	SizeDeltaAtStep    *float64              `json:"sizeDeltaAtStepTest,omitempty"`
}

// TileRunState is the mutable per-tile record. Created at baseline; mutated
// only via UPDATE_TILE commands; never deleted during a run.
type TileRunState struct {
	Tile     grid.TileAddress `json:"tile"`
	Status   TileStatus       `json:"status"`
	Error    string           `json:"error,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
	Metrics  TileMetrics      `json:"metrics"`
}

// Progress counts tile outcomes. Total is the number of calibratable tiles.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// GridBlueprint is the inferred regular-lattice geometry. OriginTile is
// the tile whose home measurement anchors the lattice.
type GridBlueprint struct {
	OriginTile grid.TileAddress `json:"originTile"`
	Origin     grid.Position    `json:"origin"`
	TileWidth  float64          `json:"tileWidth"`
	TileHeight float64          `json:"tileHeight"`
	Gap        float64          `json:"gap"`
	PitchX     float64          `json:"pitchX"`
	PitchY     float64          `json:"pitchY"`
}

// TileSummary is one tile's calibration result inside a Summary.
type TileSummary struct {
	Tile               grid.TileAddress `json:"tile"`
	Home               grid.Position    `json:"home"`
	HomeOffset         grid.Position    `json:"homeOffset"`
	AdjustedHome       grid.Position    `json:"adjustedHome"`
	StepToDisplacement AxisRatio        `json:"stepToDisplacement"`
	Size               float64          `json:"size"`
	Status             TileStatus       `json:"status"`
}

// Summary aggregates the grid blueprint and per-tile results.
type Summary struct {
	Blueprint GridBlueprint          `json:"blueprint"`
	Tiles     map[string]TileSummary `json:"tiles"`
}

// Clone returns a deep copy of the summary.
func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}
	out := &Summary{Blueprint: s.Blueprint, Tiles: make(map[string]TileSummary, len(s.Tiles))}
	for k, v := range s.Tiles {
		out.Tiles[k] = v
	}
	return out
}

// State is the executor's full snapshot.
type State struct {
	RunID      string                   `json:"runId,omitempty"`
	Phase      Phase                    `json:"phase"`
	Tiles      map[string]*TileRunState `json:"tiles"`
	ActiveTile *grid.TileAddress        `json:"activeTile,omitempty"`
	Progress   Progress                 `json:"progress"`
	Summary    *Summary                 `json:"summary,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// NewBaseline builds the initial snapshot: one pending tile record per grid
// cell, progress total set to the calibratable count.
func NewBaseline(tiles []grid.TileAddress, calibratable int) *State {
	st := &State{
		Phase:    PhaseIdle,
		Tiles:    make(map[string]*TileRunState, len(tiles)),
		Progress: Progress{Total: calibratable},
	}
	for _, t := range tiles {
		st.Tiles[t.Key] = &TileRunState{Tile: t, Status: TilePending}
	}
	return st
}

// Clone returns an independent snapshot. Tile records are copied so the
// previous snapshot stays immutable.
func (s *State) Clone() *State {
	out := *s
	out.Tiles = make(map[string]*TileRunState, len(s.Tiles))
	for k, v := range s.Tiles {
		tile := *v
		if len(v.Warnings) > 0 {
			tile.Warnings = append([]string(nil), v.Warnings...)
		}
		out.Tiles[k] = &tile
	}
	if s.ActiveTile != nil {
		active := *s.ActiveTile
		out.ActiveTile = &active
	}
	out.Summary = s.Summary.Clone()
	return &out
}

// TilePatch is a partial update applied to one tile's run state.
// Nil fields are left unchanged.
type TilePatch struct {
	Status             *TileStatus
	Error              *string
	AppendWarnings     []string
	Home               *grid.BlobMeasurement
	HomeOffset         *grid.Position
	AdjustedHome       *grid.Position
	StepToDisplacement *AxisRatio
	SizeDeltaAtStep    *float64
}

// Apply mutates t with the patch.
func (p TilePatch) Apply(t *TileRunState) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Error != nil {
		t.Error = *p.Error
	}
	if len(p.AppendWarnings) > 0 {
		t.Warnings = append(t.Warnings, p.AppendWarnings...)
	}
	if p.Home != nil {
		t.Metrics.Home = p.Home
	}
	if p.HomeOffset != nil {
		t.Metrics.HomeOffset = p.HomeOffset
	}
	if p.AdjustedHome != nil {
		t.Metrics.AdjustedHome = p.AdjustedHome
	}
	if p.StepToDisplacement != nil {
		t.Metrics.StepToDisplacement = p.StepToDisplacement
	}
	if p.SizeDeltaAtStep != nil {
		t.Metrics.SizeDeltaAtStep = p.SizeDeltaAtStep
	}
}

// StepStatus describes a checkpoint's step-mode state.
type StepStatus string

const (
	StepWaiting   StepStatus = "waiting"
	StepCompleted StepStatus = "completed"
)

// StepState is emitted for every checkpoint the run passes.
type StepState struct {
	Checkpoint string     `json:"checkpoint"`
	Status     StepStatus `json:"status"`
}
