package profile

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenfield/mirrorcal/internal/calib/grid"
	"github.com/lumenfield/mirrorcal/internal/calib/state"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSummary() *state.Summary {
	return &state.Summary{
		Blueprint: state.GridBlueprint{
			OriginTile: grid.TileAddress{Row: 0, Col: 0, Key: "0-0"},
			Origin:     grid.Position{X: 0.5, Y: 0.5},
			TileWidth:  0.1,
			TileHeight: 0.1,
			Gap:        0.02,
			PitchX:     0.12,
			PitchY:     0.12,
		},
		Tiles: map[string]state.TileSummary{
			"0-0": {
				Tile:               grid.TileAddress{Row: 0, Col: 0, Key: "0-0"},
				Home:               grid.Position{X: 0.5, Y: 0.5},
				AdjustedHome:       grid.Position{X: 0.5, Y: 0.5},
				StepToDisplacement: state.AxisRatio{X: -0.0003, Y: -0.0005},
				Size:               0.1,
				Status:             state.TileCompleted,
			},
		},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	saved, err := s.Save("bench run", sampleSummary())
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	loaded, err := s.Load(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "bench run", loaded.Name)
	assert.Equal(t, saved.Summary, loaded.Summary)
	assert.Equal(t, "0-0", loaded.Summary.Blueprint.OriginTile.Key)
	assert.InDelta(t, -0.0005, loaded.Summary.Tiles["0-0"].StepToDisplacement.Y, 1e-12)
}

func TestStore_SaveRejectsNilSummary(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Save("empty", nil)
	require.Error(t, err)
}

func TestStore_SaveClonesSummary(t *testing.T) {
	s := openTestStore(t)
	sum := sampleSummary()
	saved, err := s.Save("run", sum)
	require.NoError(t, err)

	// Mutating the caller's summary must not leak into the stored copy.
	sum.Tiles["0-0"] = state.TileSummary{Status: state.TileSkipped}
	assert.Equal(t, state.TileCompleted, saved.Summary.Tiles["0-0"].Status)
}

func TestStore_LoadUnknownID(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load("no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LoadLatest(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LoadLatest()
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Save("first", sampleSummary())
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond) // created_at has sub-ms resolution, keep order unambiguous
	second, err := s.Save("second", sampleSummary())
	require.NoError(t, err)

	latest, err := s.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "second", latest.Name)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{"a", "b", "c"} {
		_, err := s.Save(name, sampleSummary())
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].Name)
	assert.Equal(t, "a", list[2].Name)
	for _, p := range list {
		assert.Nil(t, p.Summary, "List must not hydrate summaries")
		assert.False(t, p.CreatedAt.IsZero())
	}
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)
	saved, err := s.Save("doomed", sampleSummary())
	require.NoError(t, err)

	require.NoError(t, s.Delete(saved.ID))
	_, err = s.Load(saved.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(saved.ID), ErrNotFound)
}

func TestStore_ExportImportRoundTrip(t *testing.T) {
	s := openTestStore(t)
	saved, err := s.Save("portable", sampleSummary())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.Export(saved.ID, &buf))
	assert.Contains(t, buf.String(), `"portable"`)

	imported, err := s.Import(&buf)
	require.NoError(t, err)
	assert.NotEqual(t, saved.ID, imported.ID, "import assigns a fresh id")
	assert.Equal(t, saved.Name, imported.Name)
	assert.Equal(t, saved.Summary, imported.Summary)
}

func TestStore_ImportRejectsEmptyProfile(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Import(bytes.NewBufferString(`{"name":"hollow"}`))
	require.Error(t, err)
}
