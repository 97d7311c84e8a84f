package command

import "testing"

func TestKind_MotorStatePartition(t *testing.T) {
	kinds := []Kind{
		KindHomeAll, KindHomeTile, KindMoveAxis, KindMoveAxesBatch,
		KindMoveTilePose, KindMoveTilesBatch, KindCapture, KindDelay,
		KindAwaitDecision, KindUpdatePhase, KindUpdateTile, KindCheckpoint,
		KindLog, KindUpdateSummary, KindUpdateExpectedPosition, KindUpdateProgress,
	}
	motor := map[Kind]bool{
		KindHomeAll: true, KindHomeTile: true, KindMoveAxis: true,
		KindMoveAxesBatch: true, KindMoveTilePose: true, KindMoveTilesBatch: true,
	}
	for _, k := range kinds {
		if k.Motor() != motor[k] {
			t.Errorf("%s: Motor() = %v", k, k.Motor())
		}
		// Capture, delay and decisions are IO but not motor, not state.
		wantState := !motor[k] && k != KindCapture && k != KindDelay && k != KindAwaitDecision
		if k.State() != wantState {
			t.Errorf("%s: State() = %v", k, k.State())
		}
		if k.Motor() && k.State() {
			t.Errorf("%s claims to be both motor and state", k)
		}
	}
}

func TestAck_EchoesCommandKind(t *testing.T) {
	for _, k := range []Kind{KindDelay, KindHomeAll, KindUpdateTile} {
		if got := (Ack{For: k}).Kind(); got != k {
			t.Errorf("Ack.Kind() = %q, want %q", got, k)
		}
	}
}

func TestResultKinds(t *testing.T) {
	if (CaptureResult{}).Kind() != KindCapture {
		t.Error("CaptureResult kind mismatch")
	}
	if (DecisionResult{}).Kind() != KindAwaitDecision {
		t.Error("DecisionResult kind mismatch")
	}
}
