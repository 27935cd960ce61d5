package valvecoordinator

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hydronic-controller/internal/persistence"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	store := persistence.New(filepath.Join(t.TempDir(), "pump_overrun.json"))
	return NewCoordinator(store)
}

func TestApply_DesiredPctWhenNoOverrides(t *testing.T) {
	c := newTestCoordinator(t)
	assert.Equal(t, 40, c.Apply("kitchen", 40))
}

func TestApply_CorrectionOverridesDesired(t *testing.T) {
	c := newTestCoordinator(t)
	c.SetCorrectionOverride("kitchen", 55)
	assert.Equal(t, 55, c.Apply("kitchen", 40))
	// Cleared after one application.
	assert.Equal(t, 40, c.Apply("kitchen", 40))
}

func TestApply_LoadSharingBeatsCorrection(t *testing.T) {
	c := newTestCoordinator(t)
	c.SetCorrectionOverride("kitchen", 55)
	c.SetLoadSharingOverrides(map[string]int{"kitchen": 60})
	assert.Equal(t, 60, c.Apply("kitchen", 40))
}

func TestApply_PumpOverrunHoldsSnapshotUnlessDesiredHigher(t *testing.T) {
	c := newTestCoordinator(t)
	c.currentCommands["kitchen"] = 30
	require.NoError(t, c.EnablePumpOverrun())

	assert.Equal(t, 30, c.Apply("kitchen", 20)) // desired lower, snapshot holds
	assert.Equal(t, 45, c.Apply("kitchen", 45)) // desired higher, wins and raises snapshot
	assert.Equal(t, 45, c.Apply("kitchen", 35)) // snapshot now 45
}

func TestApply_InterlockBeatsEverything(t *testing.T) {
	c := newTestCoordinator(t)
	c.SetLoadSharingOverrides(map[string]int{"kitchen": 60})
	c.SetInterlockOverride(map[string]int{"kitchen": 80})
	require.NoError(t, c.EnablePumpOverrun())

	assert.Equal(t, 80, c.Apply("kitchen", 10))
}

func TestPumpOverrun_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pump_overrun.json")
	store := persistence.New(path)
	c1 := NewCoordinator(store)
	c1.currentCommands["kitchen"] = 50
	require.NoError(t, c1.EnablePumpOverrun())

	c2 := NewCoordinator(store)
	c2.RestoreFromPersistence()
	assert.True(t, c2.PumpOverrunActive())
	assert.Equal(t, 50, c2.Apply("kitchen", 10))
}

func TestPumpOverrun_DisableClearsSnapshotAndFile(t *testing.T) {
	c := newTestCoordinator(t)
	c.currentCommands["kitchen"] = 50
	require.NoError(t, c.EnablePumpOverrun())
	require.NoError(t, c.DisablePumpOverrun())

	assert.False(t, c.PumpOverrunActive())
	assert.Equal(t, 15, c.Apply("kitchen", 15))
}
