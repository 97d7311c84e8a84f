package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lumenfield/mirrorcal/internal/calib/blueprint"
	"github.com/lumenfield/mirrorcal/internal/calib/command"
	"github.com/lumenfield/mirrorcal/internal/calib/grid"
	"github.com/lumenfield/mirrorcal/internal/calib/script"
	"github.com/lumenfield/mirrorcal/internal/calib/state"
	"github.com/lumenfield/mirrorcal/internal/clock"
	"github.com/lumenfield/mirrorcal/internal/config"
	"github.com/lumenfield/mirrorcal/internal/hw/camera"
	"github.com/lumenfield/mirrorcal/internal/hw/motor"
)

func testConfig(t *testing.T, rows, cols int, assigned ...string) *config.Config {
	t.Helper()
	mirrors := make(map[string]grid.MirrorAssignment, len(assigned))
	for i, key := range assigned {
		mirrors[key] = grid.MirrorAssignment{
			X: &grid.Motor{NodeMac: "aa:01", MotorIndex: 2 * i},
			Y: &grid.Motor{NodeMac: "aa:01", MotorIndex: 2*i + 1},
		}
	}
	cfg := &config.Config{
		Grid:    config.GridConfig{Rows: rows, Cols: cols, Gap: 0.02},
		Mirrors: mirrors,
		Staging: config.StagingConfig{XSteps: -2000, YSteps: -2000},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

type runResult struct {
	st  *state.State
	err error
}

// startRun launches the calibration in a goroutine so tests can drive the
// control surface.
func startRun(t *testing.T, exec *Executor, cfg *config.Config) <-chan runResult {
	t.Helper()
	done := make(chan runResult, 1)
	go func() {
		st, err := exec.Run(context.Background(), script.Calibration(cfg, blueprint.NewEngine(cfg)))
		done <- runResult{st: st, err: err}
	}()
	return done
}

func waitResult(t *testing.T, done <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
		return runResult{}
	}
}

func waitPending(t *testing.T, exec *Executor) *PendingDecision {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p := exec.Pending(); p != nil {
			return p
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no decision became pending")
	return nil
}

func newExec(cfg *config.Config, motors motor.Adapter, cam camera.Adapter, cb Callbacks) *Executor {
	return New(cfg, Adapters{
		Motors: motors,
		Camera: cam,
		Clock:  clock.NewManual(time.Unix(0, 0)),
	}, blueprint.NewEngine(cfg), cb)
}

// ---------- full runs ----------

func TestRun_FullGridCompletes(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	motors := motor.NewFake()
	exec := newExec(cfg, motors, &camera.Simulator{}, Callbacks{})

	r := waitResult(t, startRun(t, exec, cfg))
	if r.err != nil {
		t.Fatalf("run failed: %v", r.err)
	}
	if r.st.Phase != state.PhaseCompleted {
		t.Fatalf("phase = %q, want completed", r.st.Phase)
	}
	if r.st.RunID == "" {
		t.Error("run id not assigned")
	}
	if r.st.Progress.Completed != 1 || r.st.Progress.Total != 1 {
		t.Errorf("progress = %+v", r.st.Progress)
	}
	tile := r.st.Tiles["0-0"]
	if tile.Status != state.TileCompleted {
		t.Errorf("tile status = %q", tile.Status)
	}
	if tile.Metrics.Home == nil {
		t.Error("tile has no home measurement")
	}
	if r.st.Summary == nil || len(r.st.Summary.Tiles) != 1 {
		t.Errorf("summary = %+v", r.st.Summary)
	}
	if len(motors.HomeAllCalls()) != 1 {
		t.Errorf("HomeAll calls = %d", len(motors.HomeAllCalls()))
	}
	if len(motors.Moves()) == 0 {
		t.Error("no motor moves recorded")
	}
}

func TestRun_PhaseProgressionIsMonotonic(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	var phases []state.Phase
	cb := Callbacks{OnState: func(st *state.State) {
		if st.Phase == state.PhaseIdle {
			return
		}
		if len(phases) == 0 || phases[len(phases)-1] != st.Phase {
			phases = append(phases, st.Phase)
		}
	}}
	exec := newExec(cfg, motor.NewFake(), &camera.Simulator{}, cb)

	r := waitResult(t, startRun(t, exec, cfg))
	if r.err != nil {
		t.Fatalf("run failed: %v", r.err)
	}
	want := []state.Phase{
		state.PhaseHoming, state.PhaseStaging, state.PhaseMeasuring,
		state.PhaseAligning, state.PhaseCompleted,
	}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase %d = %q, want %q", i, phases[i], want[i])
		}
	}
}

func TestRun_TwoByTwoWithOneAssignedTile(t *testing.T) {
	cfg := testConfig(t, 2, 2, "0-0")
	exec := newExec(cfg, motor.NewFake(), &camera.Simulator{}, Callbacks{})

	r := waitResult(t, startRun(t, exec, cfg))
	if r.err != nil {
		t.Fatalf("run failed: %v", r.err)
	}
	if r.st.Progress.Total != 1 || r.st.Progress.Completed != 1 {
		t.Errorf("progress = %+v, want total=1 completed=1", r.st.Progress)
	}
	// All four cells are tracked; only the assigned one completes.
	if len(r.st.Tiles) != 4 {
		t.Fatalf("expected 4 tile records, got %d", len(r.st.Tiles))
	}
	if r.st.Tiles["0-0"].Status != state.TileCompleted {
		t.Errorf("tile 0-0 = %q", r.st.Tiles["0-0"].Status)
	}
	for _, key := range []string{"0-1", "1-0", "1-1"} {
		if r.st.Tiles[key].Status != state.TilePending {
			t.Errorf("tile %s = %q, want pending", key, r.st.Tiles[key].Status)
		}
	}
	if len(r.st.Summary.Tiles) != 1 {
		t.Errorf("summary built from %d tiles, want 1", len(r.st.Summary.Tiles))
	}
}

// ---------- capture retries and decisions ----------

func TestRun_CaptureRetriesExhaustedThenSkip(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	cam := camera.NewFake() // empty queue, nil default: never a blob
	exec := newExec(cfg, motor.NewFake(), cam, Callbacks{})
	done := startRun(t, exec, cfg)

	p := waitPending(t, exec)
	if p.Reason != command.DecisionTileFailure {
		t.Errorf("reason = %q", p.Reason)
	}
	if p.Tile == nil || p.Tile.Key != "0-0" {
		t.Errorf("tile = %+v", p.Tile)
	}
	// The home capture burned exactly maxDetectionRetries attempts.
	if got := cam.CallCount(); got != cfg.Settings.MaxDetectionRetries {
		t.Errorf("capture attempts = %d, want %d", got, cfg.Settings.MaxDetectionRetries)
	}
	if err := exec.SubmitDecision(p.ID, command.OptionSkip); err != nil {
		t.Fatalf("SubmitDecision failed: %v", err)
	}

	r := waitResult(t, done)
	if r.err != nil {
		t.Fatalf("run failed: %v", r.err)
	}
	if r.st.Phase != state.PhaseCompleted {
		t.Errorf("phase = %q, want completed (skip of only tile still completes)", r.st.Phase)
	}
	if r.st.Tiles["0-0"].Status != state.TileSkipped {
		t.Errorf("tile status = %q", r.st.Tiles["0-0"].Status)
	}
	if r.st.Progress.Skipped != 1 || r.st.Progress.Completed != 0 {
		t.Errorf("progress = %+v", r.st.Progress)
	}
}

func TestRun_SkipAddsTileToSkipSet(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	motors := motor.NewFake()
	exec := newExec(cfg, motors, camera.NewFake(), Callbacks{})
	done := startRun(t, exec, cfg)

	p := waitPending(t, exec)
	if err := exec.SubmitDecision(p.ID, command.OptionSkip); err != nil {
		t.Fatal(err)
	}
	r := waitResult(t, done)
	if r.err != nil {
		t.Fatal(r.err)
	}
	// Staging (2 moves aside) + pose home (2 moves); the post-skip aside
	// move is suppressed by the skip set.
	if got := len(motors.Moves()); got != 4 {
		t.Errorf("motor moves = %d, want 4: %+v", got, motors.Moves())
	}
}

func TestRun_ToleranceRejectionReportsError(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	cam := camera.NewFake()
	cam.Default = &grid.BlobMeasurement{X: 0.5, Y: 0.5, Size: 0.1}
	exec := newExec(cfg, motor.NewFake(), cam, Callbacks{})
	done := startRun(t, exec, cfg)

	// Expected position for the first tile is the view center; a blob at
	// (0.5,0.5) is outside the 0.08 tolerance on every attempt.
	p := waitPending(t, exec)
	if !strings.Contains(p.Err, "outside tolerance") {
		t.Errorf("decision error = %q", p.Err)
	}
	exec.Abort()
	r := waitResult(t, done)
	if !errors.Is(r.err, ErrAborted) {
		t.Errorf("err = %v, want ErrAborted", r.err)
	}
}

func TestRun_DecisionValidation(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	exec := newExec(cfg, motor.NewFake(), camera.NewFake(), Callbacks{})
	done := startRun(t, exec, cfg)

	if err := exec.SubmitDecision("", command.OptionRetry); err == nil {
		// A decision may already be pending by now; only fail if it was
		// accepted while nothing was pending.
		if exec.Pending() == nil {
			t.Error("decision accepted with nothing pending")
		}
	}

	p := waitPending(t, exec)
	if err := exec.SubmitDecision("bogus-id", command.OptionSkip); err == nil {
		t.Error("expected error for mismatched decision id")
	}
	// Ignore is not offered for a home-capture failure.
	if err := exec.SubmitDecision(p.ID, command.OptionIgnore); err == nil {
		t.Error("expected error for unoffered option")
	}
	if err := exec.SubmitDecision(p.ID, command.OptionSkip); err != nil {
		t.Fatalf("valid decision rejected: %v", err)
	}
	waitResult(t, done)
}

// ---------- motor failures ----------

func optionsEqual(got, want []command.DecisionOption) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRun_MotorFailureRetryDecision(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	motors := motor.NewFake()
	motors.FailHomeAll = 1
	var cmdErrs []CommandError
	cb := Callbacks{OnCommandError: func(ce CommandError) { cmdErrs = append(cmdErrs, ce) }}
	exec := newExec(cfg, motors, &camera.Simulator{}, cb)
	done := startRun(t, exec, cfg)

	p := waitPending(t, exec)
	if p.Reason != command.DecisionCommandFailure {
		t.Errorf("reason = %q", p.Reason)
	}
	// HOME_ALL is not tile-scoped: only retry and abort are on the table.
	want := []command.DecisionOption{command.OptionRetry, command.OptionAbort}
	if !optionsEqual(p.Options, want) {
		t.Errorf("options = %v, want %v", p.Options, want)
	}
	if err := exec.SubmitDecision(p.ID, command.OptionRetry); err != nil {
		t.Fatal(err)
	}

	r := waitResult(t, done)
	if r.err != nil {
		t.Fatalf("run failed: %v", r.err)
	}
	if r.st.Phase != state.PhaseCompleted {
		t.Errorf("phase = %q", r.st.Phase)
	}
	if len(motors.HomeAllCalls()) != 1 {
		t.Errorf("successful HomeAll calls = %d, want 1", len(motors.HomeAllCalls()))
	}
	if len(cmdErrs) != 1 {
		t.Fatalf("command-error callbacks = %d, want 1", len(cmdErrs))
	}
	if cmdErrs[0].Kind != command.KindHomeAll || cmdErrs[0].Tile != nil || cmdErrs[0].Err == "" {
		t.Errorf("command error = %+v", cmdErrs[0])
	}
}

type tileErrorEvent struct {
	row, col int
	message  string
}

func TestRun_MotorFailureOutsideMeasuringOffersSkip(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	motors := motor.NewFake()
	var tileErrs []tileErrorEvent
	armed := false
	cb := Callbacks{
		// Arm the failure once staging is done so the next move is the
		// tile's home-pose move, issued while the tile is still staged.
		OnState: func(st *state.State) {
			if !armed && st.Phase == state.PhaseMeasuring {
				armed = true
				motors.FailMove = 1
			}
		},
		OnTileError: func(row, col int, message string) {
			tileErrs = append(tileErrs, tileErrorEvent{row, col, message})
		},
	}
	exec := newExec(cfg, motors, &camera.Simulator{}, cb)
	done := startRun(t, exec, cfg)

	p := waitPending(t, exec)
	if p.Tile == nil || p.Tile.Key != "0-0" {
		t.Fatalf("expected a tile-scoped decision, got %+v", p)
	}
	want := []command.DecisionOption{command.OptionRetry, command.OptionSkip, command.OptionAbort}
	if !optionsEqual(p.Options, want) {
		t.Errorf("options = %v, want %v", p.Options, want)
	}
	if err := exec.SubmitDecision(p.ID, command.OptionSkip); err != nil {
		t.Fatal(err)
	}

	r := waitResult(t, done)
	if r.err != nil {
		t.Fatalf("run failed: %v", r.err)
	}
	tile := r.st.Tiles["0-0"]
	if tile.Status != state.TileSkipped {
		t.Errorf("tile status = %q, want skipped", tile.Status)
	}
	if tile.Error == "" {
		t.Error("skipped tile carries no error message")
	}
	if len(tileErrs) == 0 {
		t.Fatal("tile-error callback never fired")
	}
	if ev := tileErrs[0]; ev.row != 0 || ev.col != 0 || ev.message == "" {
		t.Errorf("tile error = %+v", ev)
	}
}

func TestRun_MotorFailureDuringMeasurementOffersIgnore(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	motors := motor.NewFake()
	armed := false
	cb := Callbacks{
		// Arm the failure once the tile reaches measuring so the failing
		// move is a mid-measurement step-test batch.
		OnState: func(st *state.State) {
			if !armed && st.Tiles["0-0"].Status == state.TileMeasuring {
				armed = true
				motors.FailMove = 1
			}
		},
	}
	exec := newExec(cfg, motors, &camera.Simulator{}, cb)
	done := startRun(t, exec, cfg)

	p := waitPending(t, exec)
	if p.Tile == nil || p.Tile.Key != "0-0" {
		t.Fatalf("expected a tile-scoped decision, got %+v", p)
	}
	want := []command.DecisionOption{
		command.OptionRetry, command.OptionIgnore, command.OptionSkip, command.OptionAbort,
	}
	if !optionsEqual(p.Options, want) {
		t.Errorf("options = %v, want %v", p.Options, want)
	}
	if err := exec.SubmitDecision(p.ID, command.OptionIgnore); err != nil {
		t.Fatal(err)
	}

	r := waitResult(t, done)
	if r.err != nil {
		t.Fatalf("run failed: %v", r.err)
	}
	// Ignore proceeds as if the move landed. The slip shows up in the
	// audit log, not as a tile warning.
	if tile := r.st.Tiles["0-0"]; tile.Status != state.TileCompleted {
		t.Errorf("tile status = %q, want completed", tile.Status)
	}
	if warns := r.st.Tiles["0-0"].Warnings; len(warns) != 0 {
		t.Errorf("unexpected tile warnings: %v", warns)
	}
	var noted bool
	for _, rec := range exec.Records() {
		if strings.Contains(rec.Note, "ignored after failure") {
			noted = true
		}
	}
	if !noted {
		t.Error("ignored failure missing from the audit log")
	}
}

// ---------- abort ----------

func TestRun_AbortWhileDecisionPending(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	exec := newExec(cfg, motor.NewFake(), camera.NewFake(), Callbacks{})
	done := startRun(t, exec, cfg)

	waitPending(t, exec)
	exec.Abort()
	exec.Abort() // idempotent

	r := waitResult(t, done)
	if !errors.Is(r.err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", r.err)
	}
	if r.st.Phase != state.PhaseAborted {
		t.Errorf("phase = %q, want aborted", r.st.Phase)
	}
	if exec.Pending() != nil {
		t.Error("decision still pending after abort")
	}
}

func TestRun_AbortBeforeRun(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	exec := newExec(cfg, motor.NewFake(), &camera.Simulator{}, Callbacks{})
	exec.Abort()

	r := waitResult(t, startRun(t, exec, cfg))
	if !errors.Is(r.err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", r.err)
	}
	if r.st.Phase != state.PhaseAborted {
		t.Errorf("phase = %q", r.st.Phase)
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	exec := newExec(cfg, motor.NewFake(), camera.NewFake(), Callbacks{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan runResult, 1)
	go func() {
		st, err := exec.Run(ctx, script.Calibration(cfg, blueprint.NewEngine(cfg)))
		done <- runResult{st: st, err: err}
	}()
	waitPending(t, exec)
	cancel()

	r := waitResult(t, done)
	if r.err == nil {
		t.Fatal("expected an error after context cancellation")
	}
	if r.st.Phase != state.PhaseError {
		t.Errorf("phase = %q, want error", r.st.Phase)
	}
}

// ---------- pause / resume ----------

func TestRun_PauseAndResume(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	exec := newExec(cfg, motor.NewFake(), &camera.Simulator{}, Callbacks{})
	exec.Pause()
	done := startRun(t, exec, cfg)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && exec.State().Phase != state.PhasePaused {
		time.Sleep(2 * time.Millisecond)
	}
	if exec.State().Phase != state.PhasePaused {
		t.Fatalf("phase = %q, want paused", exec.State().Phase)
	}

	exec.Resume()
	r := waitResult(t, done)
	if r.err != nil {
		t.Fatalf("run failed: %v", r.err)
	}
	if r.st.Phase != state.PhaseCompleted {
		t.Errorf("phase = %q, want completed", r.st.Phase)
	}
}

// ---------- step mode ----------

func TestRun_StepModeBlocksAtCheckpoints(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	cfg.Mode = config.ModeStep

	steps := make(chan state.StepState, 32)
	cb := Callbacks{OnStep: func(s state.StepState) { steps <- s }}
	exec := newExec(cfg, motor.NewFake(), &camera.Simulator{}, cb)
	done := startRun(t, exec, cfg)

	var names []string
	for {
		select {
		case s := <-steps:
			if s.Status == state.StepWaiting {
				names = append(names, s.Checkpoint)
				exec.Advance()
			}
		case r := <-done:
			if r.err != nil {
				t.Fatalf("run failed: %v", r.err)
			}
			want := []string{
				"home-all", "stage-all", "measure-home",
				"step-test-x-interim", "step-test-x",
				"step-test-y-interim", "step-test-y",
				"align-grid",
			}
			if len(names) != len(want) {
				t.Fatalf("checkpoints = %v, want %v", names, want)
			}
			for i := range want {
				if names[i] != want[i] {
					t.Errorf("checkpoint %d = %q, want %q", i, names[i], want[i])
				}
			}
			return
		case <-time.After(5 * time.Second):
			t.Fatalf("step mode stalled, checkpoints so far: %v", names)
		}
	}
}

func TestRun_AdvanceWithoutWaitingCheckpointIsNoOp(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	cfg.Mode = config.ModeStep

	steps := make(chan state.StepState, 32)
	cb := Callbacks{OnStep: func(s state.StepState) { steps <- s }}
	exec := newExec(cfg, motor.NewFake(), &camera.Simulator{}, cb)

	// Premature calls must not bank tokens that would release a later
	// checkpoint before anyone asked for it.
	exec.Advance()
	exec.Advance()
	done := startRun(t, exec, cfg)

	var waited int
	for {
		select {
		case s := <-steps:
			if s.Status == state.StepWaiting {
				waited++
				exec.Advance()
			}
		case r := <-done:
			if r.err != nil {
				t.Fatalf("run failed: %v", r.err)
			}
			if waited != 8 {
				t.Errorf("checkpoints waited = %d, want 8", waited)
			}
			return
		case <-time.After(5 * time.Second):
			t.Fatalf("step mode stalled after %d checkpoints", waited)
		}
	}
}

func TestRun_AutoModeEmitsCompletedSteps(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	var waiting int
	cb := Callbacks{OnStep: func(s state.StepState) {
		if s.Status == state.StepWaiting {
			waiting++
		}
	}}
	exec := newExec(cfg, motor.NewFake(), &camera.Simulator{}, cb)
	r := waitResult(t, startRun(t, exec, cfg))
	if r.err != nil {
		t.Fatal(r.err)
	}
	if waiting != 0 {
		t.Errorf("auto mode emitted %d waiting steps", waiting)
	}
}

func TestRun_ExpectedPositionCallback(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	var positions []*grid.Position
	var tolerances []float64
	cb := Callbacks{OnExpectedPositionChange: func(p *grid.Position, tol float64) {
		positions = append(positions, p)
		tolerances = append(tolerances, tol)
	}}
	exec := newExec(cfg, motor.NewFake(), &camera.Simulator{}, cb)

	r := waitResult(t, startRun(t, exec, cfg))
	if r.err != nil {
		t.Fatal(r.err)
	}
	if len(positions) == 0 {
		t.Fatal("expected-position callback never fired")
	}
	if positions[0] == nil {
		t.Error("first expected position is nil")
	}
	if tolerances[0] != cfg.Settings.CaptureTolerance {
		t.Errorf("tolerance = %v, want %v", tolerances[0], cfg.Settings.CaptureTolerance)
	}
}

// ---------- bookkeeping ----------

func TestRun_RecordsAuditLog(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	exec := newExec(cfg, motor.NewFake(), &camera.Simulator{}, Callbacks{})
	r := waitResult(t, startRun(t, exec, cfg))
	if r.err != nil {
		t.Fatal(r.err)
	}
	records := exec.Records()
	if len(records) == 0 {
		t.Fatal("no records")
	}
	if records[0].Kind != command.KindUpdateProgress {
		t.Errorf("first record = %q, want UPDATE_PROGRESS", records[0].Kind)
	}
	var kinds []command.Kind
	for _, rec := range records {
		kinds = append(kinds, rec.Kind)
	}
	if kinds[len(kinds)-1] != command.KindLog {
		t.Errorf("last record = %q", kinds[len(kinds)-1])
	}
}

func TestRun_SnapshotsAreImmutable(t *testing.T) {
	cfg := testConfig(t, 1, 1, "0-0")
	var snapshots []*state.State
	cb := Callbacks{OnState: func(st *state.State) { snapshots = append(snapshots, st) }}
	exec := newExec(cfg, motor.NewFake(), &camera.Simulator{}, cb)

	r := waitResult(t, startRun(t, exec, cfg))
	if r.err != nil {
		t.Fatal(r.err)
	}
	// Earlier snapshots must not have been mutated by later updates: the
	// first snapshot predates the completed status.
	if snapshots[0].Tiles["0-0"].Status == state.TileCompleted {
		t.Error("early snapshot shows a later tile status")
	}
	if snapshots[0] == snapshots[len(snapshots)-1] {
		t.Error("snapshots share identity")
	}
}
