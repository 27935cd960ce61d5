// Package persistence implements the small JSON state blob described in
// spec.md §5/§6: written atomically (temp file + rename) so a mid-write
// crash never corrupts the live file, read tolerantly (missing or invalid
// content yields defaults, never an error the caller must special-case
// beyond "use defaults"). Grounded directly on the teacher's
// internal/store/store.go write-to-tmp-then-rename pattern, generalized
// from one fixed struct to an arbitrary JSON document per blob file.
package persistence

import (
	"encoding/json"
	"os"
)

// Store persists one JSON document at path.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// Load decodes the document into dst. A missing file or invalid content
// is not an error the caller must branch on: it leaves dst untouched
// (zero value / caller-provided default) and reports ok=false.
func (s *Store) Load(dst any) (ok bool) {
	file, err := os.Open(s.path)
	if err != nil {
		return false
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(dst); err != nil {
		return false
	}
	return true
}

// Save writes v atomically: encode to a sibling temp file, then rename
// over the live path.
func (s *Store) Save(v any) error {
	tmpPath := s.path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		file.Close()
		return err
	}
	file.Sync()
	file.Close()

	return os.Rename(tmpPath, s.path)
}

// Delete removes the persisted document, if present. Used when disabling
// pump-overrun persistence per spec.md §4.9.
func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RoomStateBlob is the per-room dynamic state persisted across restarts.
type RoomStateBlob struct {
	Calling      bool    `json:"calling"`
	CurrentBand  int     `json:"current_band"`
	LastValvePct int     `json:"last_valve_pct"`
	FrostActive  bool    `json:"frost_active"`
	FrostAlerted bool    `json:"frost_alerted"`
}

// CyclingBlob is the cycling-protection dynamic state (spec.md §3).
type CyclingBlob struct {
	State          string     `json:"state"`
	SavedSetpoint  *float64   `json:"saved_setpoint,omitempty"`
	CooldownStart  *int64     `json:"cooldown_start_unix,omitempty"`
	CooldownsCount int        `json:"cooldowns_count"`
}

// RampBlob is the setpoint-ramp dynamic state. Per spec.md §4.7 this
// blob is informational only — the ramp package reconstructs state from
// the physical boiler setpoint at startup rather than reading it back.
type RampBlob struct {
	RampState    string  `json:"ramp_state"`
	Baseline     float64 `json:"baseline"`
	StepsApplied int     `json:"steps_applied"`
}

// PumpOverrunSnapshotBlob is the valve coordinator's pump-overrun
// snapshot, persisted so an AppDaemon-style restart mid-overrun restores
// it (spec.md §4.9).
type PumpOverrunSnapshotBlob struct {
	Active    bool           `json:"active"`
	Snapshot  map[string]int `json:"snapshot"`
}
