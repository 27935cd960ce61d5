// Package valvecoordinator is the single point of authority that
// reconciles the three independent sources of valve commands — the room
// control law, the boiler's interlock/pump-overrun persistence, and the
// load-sharing manager's pre-warm overrides — into one final percent per
// room, per tick (spec.md §4.9). Grounded on the teacher's
// internal/store/store.go atomic-write pattern for the pump-overrun
// snapshot's durability requirement.
package valvecoordinator

import (
	"github.com/thatsimonsguy/hydronic-controller/internal/persistence"
)

// Coordinator owns current_commands, the pump-overrun snapshot, and the
// correction-override table (spec.md §3).
type Coordinator struct {
	store *persistence.Store

	currentCommands     map[string]int
	interlockOverride    map[string]int
	loadSharingOverrides map[string]int
	correctionOverrides  map[string]int

	pumpOverrunActive bool
	pumpOverrunSnapshot map[string]int
}

func NewCoordinator(store *persistence.Store) *Coordinator {
	return &Coordinator{
		store:                store,
		currentCommands:      make(map[string]int),
		interlockOverride:    make(map[string]int),
		loadSharingOverrides: make(map[string]int),
		correctionOverrides:  make(map[string]int),
	}
}

// RestoreFromPersistence re-establishes a pump-overrun snapshot from the
// durable blob, if one exists, so an AppDaemon-style restart mid-overrun
// is not lost (spec.md §4.9, tested scenario in spec.md §8).
func (c *Coordinator) RestoreFromPersistence() {
	if c.store == nil {
		return
	}
	var blob persistence.PumpOverrunSnapshotBlob
	if ok := c.store.Load(&blob); !ok || !blob.Active {
		return
	}
	c.pumpOverrunActive = true
	c.pumpOverrunSnapshot = blob.Snapshot
}

// SetInterlockOverride replaces this tick's interlock persistence export
// from the boiler FSM (spec.md §4.5's ComputeInterlockOverride).
func (c *Coordinator) SetInterlockOverride(m map[string]int) {
	c.interlockOverride = m
}

// SetLoadSharingOverrides replaces this tick's load-sharing publication.
func (c *Coordinator) SetLoadSharingOverrides(m map[string]int) {
	c.loadSharingOverrides = m
}

// SetCorrectionOverride records a forced value for a room whose TRV
// reported an unexpected position (spec.md §4.10); cleared once applied.
func (c *Coordinator) SetCorrectionOverride(room string, pct int) {
	c.correctionOverrides[room] = pct
}

// EnablePumpOverrun snapshots current_commands and persists it durably.
// Called at PENDING_OFF entry (spec.md §4.9).
func (c *Coordinator) EnablePumpOverrun() error {
	snap := make(map[string]int, len(c.currentCommands))
	for k, v := range c.currentCommands {
		snap[k] = v
	}
	c.pumpOverrunActive = true
	c.pumpOverrunSnapshot = snap
	if c.store == nil {
		return nil
	}
	return c.store.Save(persistence.PumpOverrunSnapshotBlob{Active: true, Snapshot: snap})
}

// DisablePumpOverrun clears the snapshot and the durable entry.
func (c *Coordinator) DisablePumpOverrun() error {
	c.pumpOverrunActive = false
	c.pumpOverrunSnapshot = nil
	if c.store == nil {
		return nil
	}
	return c.store.Delete()
}

// Apply arbitrates the final percent for one room, per the §4.9 priority
// order: interlock persistence > pump-overrun snapshot (desired wins and
// the snapshot is raised if desired is higher) > load-sharing overrides >
// correction overrides > desired_pct.
func (c *Coordinator) Apply(room string, desiredPct int) int {
	final := desiredPct

	if pct, ok := c.correctionOverrides[room]; ok {
		final = pct
		delete(c.correctionOverrides, room)
	}

	if pct, ok := c.loadSharingOverrides[room]; ok {
		final = pct
	}

	if c.pumpOverrunActive {
		snapped := c.pumpOverrunSnapshot[room]
		if desiredPct > snapped {
			c.pumpOverrunSnapshot[room] = desiredPct
			final = desiredPct
		} else {
			final = snapped
		}
	}

	if pct, ok := c.interlockOverride[room]; ok {
		final = pct
	}

	c.currentCommands[room] = final
	return final
}

// CurrentCommand returns the last-applied percent for room, for
// read-only callers (status publisher, telemetry).
func (c *Coordinator) CurrentCommand(room string) (int, bool) {
	pct, ok := c.currentCommands[room]
	return pct, ok
}

// PumpOverrunActive reports whether a pump-overrun snapshot currently
// overrides room commands.
func (c *Coordinator) PumpOverrunActive() bool { return c.pumpOverrunActive }
