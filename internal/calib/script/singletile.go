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

// SingleTileRecalibration builds a script that re-measures one tile against
// an existing run summary. The base summary's lattice stays the anchor:
// the fresh measurement is merged into it rather than recomputed, so the
// rest of the grid keeps its offsets. The grid is handled as in a full
// run: every assigned node is homed, every calibratable tile stages aside
// so only the target's blob is in view, and after the merge the whole grid
// re-aligns to the updated lattice.
//
// The script fails closed: a missing assignment or a base summary without
// a usable origin ends the run in the error phase before any motor moves.
func SingleTileRecalibration(cfg *config.Config, geo Geometry, target grid.TileAddress, base *state.Summary) *Script {
	return New(func(yield YieldFunc) {
		r := newRun(cfg, geo, yield)
		r.progress.Total = 1
		r.pushProgress()

		a, ok := r.mirrors[target.Key]
		if !ok || !a.Calibratable() {
			r.phase(state.PhaseError)
			r.log("error", fmt.Sprintf("tile %s has no complete motor assignment", target.Key), &target)
			return
		}
		if base == nil || len(base.Tiles) == 0 {
			r.phase(state.PhaseError)
			r.log("error", "no base summary to recalibrate against; run a full calibration first", &target)
			return
		}

		// Seed the working set from the base summary so expected-position
		// estimation and the borrowed step ratio behave as in a full run.
		// The origin tile leads so the lattice anchor is preserved.
		r.seedFromBase(base, target)

		tiles := r.cfg.CalibratableTiles()

		r.phase(state.PhaseHoming)
		r.yield(command.HomeAll{Macs: r.mirrors.MacUnion(tiles)})
		r.checkpoint("home-all")

		r.phase(state.PhaseStaging)
		r.yield(command.MoveTilesBatch{Moves: r.poseMoves(tiles, grid.PoseAside)})
		for _, t := range tiles {
			r.setTileStatus(t, state.TileStaged, "")
		}
		r.checkpoint("stage-all")

		r.phase(state.PhaseMeasuring)
		r.expect(r.geo.EstimateExpected(r.completed, target))
		r.moveTilePose(target, grid.PoseHome)

		res, out := r.calibrateTile(target)
		if out == tileAborted {
			r.phase(state.PhaseAborted)
			r.log("warn", "recalibration aborted by user decision", &target)
			return
		}
		r.moveTilePose(target, grid.PoseAside)

		if out == tileOK && res != nil {
			r.phase(state.PhaseAligning)
			merged := r.geo.Merge(base, *res)
			r.yield(command.UpdateSummary{Summary: merged})
			r.propagateOffsets(merged)
			if moves := r.geo.AlignMoves(merged, r.mirrors); len(moves) > 0 {
				r.yield(command.MoveAxesBatch{Moves: moves})
			}
			r.checkpoint("align-grid")
		}

		r.phase(state.PhaseCompleted)
		r.log("info", fmt.Sprintf("recalibration of tile %s complete", target.Key), &target)
	})
}

// seedFromBase reconstructs pseudo tile results from a prior summary,
// excluding the target. The origin tile goes first because Summarize and
// EstimateExpected anchor on the leading entry; the origin's step ratio
// also seeds the borrowed-ratio fallback.
func (r *run) seedFromBase(base *state.Summary, target grid.TileAddress) {
	appendResult := func(ts state.TileSummary) {
		r.completed = append(r.completed, blueprint.TileResult{
			Tile:               ts.Tile,
			Home:               grid.BlobMeasurement{X: ts.Home.X, Y: ts.Home.Y, Size: ts.Size},
			StepToDisplacement: ts.StepToDisplacement,
			Partial:            ts.Status == state.TilePartial,
		})
	}

	originKey := base.Blueprint.OriginTile.Key
	if ts, ok := base.Tiles[originKey]; ok && originKey != target.Key {
		appendResult(ts)
		ratio := ts.StepToDisplacement
		r.firstRatio = &ratio
	}
	for _, key := range sortedTileKeys(base.Tiles) {
		if key == originKey || key == target.Key {
			continue
		}
		appendResult(base.Tiles[key])
	}
}

func sortedTileKeys(tiles map[string]state.TileSummary) []string {
	keys := make([]string, 0, len(tiles))
	for k := range tiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
