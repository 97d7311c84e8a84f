package grid

import "testing"

func TestNewTileAddress(t *testing.T) {
	a := NewTileAddress(2, 7)
	if a.Row != 2 || a.Col != 7 || a.Key != "2-7" {
		t.Errorf("address = %+v", a)
	}
}

func TestMotor_AxisKey(t *testing.T) {
	m := Motor{NodeMac: "aa:bb:cc", MotorIndex: 3}
	if got := m.AxisKey(); got != "aa:bb:cc/3" {
		t.Errorf("AxisKey = %q", got)
	}
}

func TestMirrorAssignment_Calibratable(t *testing.T) {
	x := &Motor{NodeMac: "aa:01"}
	cases := []struct {
		name string
		a    MirrorAssignment
		want bool
	}{
		{"both axes", MirrorAssignment{X: x, Y: x}, true},
		{"missing y", MirrorAssignment{X: x}, false},
		{"missing x", MirrorAssignment{Y: x}, false},
		{"empty", MirrorAssignment{}, false},
	}
	for _, tc := range cases {
		if got := tc.a.Calibratable(); got != tc.want {
			t.Errorf("%s: Calibratable = %v", tc.name, got)
		}
	}
}

func TestMirrorConfig_MacUnion(t *testing.T) {
	cfg := MirrorConfig{
		"0-0": {X: &Motor{NodeMac: "bb:02"}, Y: &Motor{NodeMac: "aa:01"}},
		"0-1": {X: &Motor{NodeMac: "aa:01"}, Y: &Motor{NodeMac: "aa:01"}},
		"1-0": {X: &Motor{NodeMac: "cc:03"}},
	}
	tiles := []TileAddress{
		NewTileAddress(0, 0),
		NewTileAddress(0, 1),
		NewTileAddress(1, 1), // unassigned, contributes nothing
	}
	got := cfg.MacUnion(tiles)
	want := []string{"aa:01", "bb:02"}
	if len(got) != len(want) {
		t.Fatalf("MacUnion = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MacUnion[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPosition_Arithmetic(t *testing.T) {
	p := Position{X: 1.5, Y: -0.25}
	q := Position{X: 0.25, Y: 0.5}
	if d := p.Sub(q); d.X != 1.25 || d.Y != -0.75 {
		t.Errorf("Sub = %+v", d)
	}
	if s := p.Add(q); s.X != 1.75 || s.Y != 0.25 {
		t.Errorf("Add = %+v", s)
	}
}

func TestBlobMeasurement_Pos(t *testing.T) {
	m := BlobMeasurement{X: 0.3, Y: 0.7, Size: 0.1}
	if p := m.Pos(); p != (Position{X: 0.3, Y: 0.7}) {
		t.Errorf("Pos = %+v", p)
	}
}
