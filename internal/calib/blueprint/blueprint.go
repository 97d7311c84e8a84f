// Package blueprint implements the pure-function collaborators of the
// calibration core: pose step math, grid blueprint summarisation,
// expected-position estimation and alignment move computation. The script
// and executor consume these through narrow interfaces and stay free of
// numeric detail.
package blueprint

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/lumenfield/mirrorcal/internal/calib/command"
	"github.com/lumenfield/mirrorcal/internal/calib/grid"
	"github.com/lumenfield/mirrorcal/internal/calib/state"
	"github.com/lumenfield/mirrorcal/internal/config"
)

// minRatio is the smallest displacement-per-step magnitude considered
// usable for alignment; below it a step target would overflow the axis.
const minRatio = 1e-9

// TileResult is the raw per-tile outcome accumulated by the script, input
// to summarisation.
type TileResult struct {
	Tile               grid.TileAddress
	Home               grid.BlobMeasurement
	StepToDisplacement state.AxisRatio
	SizeDelta          float64
	Partial            bool
	Warnings           []string
}

// Engine holds the grid geometry settings all computations share.
type Engine struct {
	cfg *config.Config
}

// NewEngine creates an engine for the given run configuration.
func NewEngine(cfg *config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// PoseTargets returns the absolute step targets of a named pose.
func (e *Engine) PoseTargets(tile grid.TileAddress, pose grid.Pose) (x, y int) {
	switch pose {
	case grid.PoseAside:
		return e.cfg.Staging.XSteps, e.cfg.Staging.YSteps
	default: // home
		return 0, 0
	}
}

// relVec maps the grid offset between two tiles into camera-frame units,
// honoring the configured array rotation.
func (e *Engine) relVec(tile, origin grid.TileAddress, pitchX, pitchY float64) grid.Position {
	dc := float64(tile.Col - origin.Col)
	dr := float64(tile.Row - origin.Row)
	var vx, vy float64
	switch e.cfg.Rotation {
	case 90:
		vx, vy = -dr, dc
	case 180:
		vx, vy = -dc, -dr
	case 270:
		vx, vy = dr, -dc
	default:
		vx, vy = dc, dr
	}
	return grid.Position{X: vx * pitchX, Y: vy * pitchY}
}

// Summarize derives the grid blueprint and per-tile results from the
// accumulated measurements, in completion order. The first result anchors
// the lattice: its adjusted home is (0,0).
func (e *Engine) Summarize(results []TileResult) *state.Summary {
	if len(results) == 0 {
		return &state.Summary{Tiles: map[string]state.TileSummary{}}
	}

	origin := results[0]
	pitchX, pitchY := e.estimatePitch(results)
	footprint := medianSize(results)

	sum := &state.Summary{
		Blueprint: state.GridBlueprint{
			OriginTile: origin.Tile,
			Origin:     origin.Home.Pos(),
			TileWidth:  footprint,
			TileHeight: footprint,
			Gap:        e.cfg.Grid.Gap,
			PitchX:     pitchX,
			PitchY:     pitchY,
		},
		Tiles: make(map[string]state.TileSummary, len(results)),
	}

	for _, r := range results {
		adjusted := r.Home.Pos().Sub(origin.Home.Pos())
		rel := e.relVec(r.Tile, origin.Tile, pitchX, pitchY)
		status := state.TileCompleted
		if r.Partial {
			status = state.TilePartial
		}
		sum.Tiles[r.Tile.Key] = state.TileSummary{
			Tile:               r.Tile,
			Home:               r.Home.Pos(),
			HomeOffset:         adjusted.Sub(rel),
			AdjustedHome:       adjusted,
			StepToDisplacement: r.StepToDisplacement,
			Size:               r.Home.Size,
			Status:             status,
		}
	}
	return sum
}

// Merge replaces one tile's entry in an existing summary with a freshly
// measured result, computed against the existing blueprint so the lattice
// anchor does not move.
func (e *Engine) Merge(base *state.Summary, r TileResult) *state.Summary {
	if base == nil || len(base.Tiles) == 0 {
		return e.Summarize([]TileResult{r})
	}
	out := base.Clone()
	bp := out.Blueprint
	adjusted := r.Home.Pos().Sub(bp.Origin)
	rel := e.relVec(r.Tile, bp.OriginTile, bp.PitchX, bp.PitchY)
	status := state.TileCompleted
	if r.Partial {
		status = state.TilePartial
	}
	out.Tiles[r.Tile.Key] = state.TileSummary{
		Tile:               r.Tile,
		Home:               r.Home.Pos(),
		HomeOffset:         adjusted.Sub(rel),
		AdjustedHome:       adjusted,
		StepToDisplacement: r.StepToDisplacement,
		Size:               r.Home.Size,
		Status:             status,
	}
	return out
}

// EstimateExpected predicts where a tile's home blob should appear, from
// the tiles measured so far. Zero (the view center) for the first tile.
func (e *Engine) EstimateExpected(completed []TileResult, target grid.TileAddress) *grid.Position {
	if len(completed) == 0 {
		return &grid.Position{}
	}
	origin := completed[0]
	pitchX, pitchY := e.estimatePitch(completed)
	pos := origin.Home.Pos().Add(e.relVec(target, origin.Tile, pitchX, pitchY))
	return &pos
}

// AlignMoves computes the batch of absolute axis moves that null out every
// measured tile's home offset. Tiles without a usable ratio are left alone.
func (e *Engine) AlignMoves(sum *state.Summary, mirrors grid.MirrorConfig) []command.AxisMove {
	if sum == nil {
		return nil
	}
	keys := make([]string, 0, len(sum.Tiles))
	for k := range sum.Tiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var moves []command.AxisMove
	for _, key := range keys {
		ts := sum.Tiles[key]
		if ts.Status != state.TileCompleted && ts.Status != state.TilePartial {
			continue
		}
		a, ok := mirrors[key]
		if !ok || !a.Calibratable() {
			continue
		}
		if math.Abs(ts.StepToDisplacement.X) > minRatio {
			steps := int(math.Round(-ts.HomeOffset.X / ts.StepToDisplacement.X))
			moves = append(moves, command.AxisMove{Motor: *a.X, PositionSteps: steps})
		}
		if math.Abs(ts.StepToDisplacement.Y) > minRatio {
			steps := int(math.Round(-ts.HomeOffset.Y / ts.StepToDisplacement.Y))
			moves = append(moves, command.AxisMove{Motor: *a.Y, PositionSteps: steps})
		}
	}
	return moves
}

// estimatePitch infers the per-axis lattice pitch from pairwise home
// deltas, falling back to footprint + gap when the sample is empty (fewer
// than two tiles, or all tiles share a row/column).
func (e *Engine) estimatePitch(results []TileResult) (pitchX, pitchY float64) {
	var sx, sy []float64
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			a, b := results[i], results[j]
			rel := e.relVec(b.Tile, a.Tile, 1, 1)
			d := b.Home.Pos().Sub(a.Home.Pos())
			if rel.X != 0 {
				sx = append(sx, d.X/rel.X)
			}
			if rel.Y != 0 {
				sy = append(sy, d.Y/rel.Y)
			}
		}
	}
	fallback := medianSize(results) + e.cfg.Grid.Gap
	pitchX = median(sx, fallback)
	pitchY = median(sy, fallback)
	return pitchX, pitchY
}

func medianSize(results []TileResult) float64 {
	sizes := make([]float64, 0, len(results))
	for _, r := range results {
		sizes = append(sizes, r.Home.Size)
	}
	return median(sizes, 0)
}

// median is a robust center estimate; stray pairs from a bumped rig do not
// drag the pitch the way a mean would.
func median(samples []float64, fallback float64) float64 {
	if len(samples) == 0 {
		return fallback
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
