// Package overrides implements the per-room active/passive override
// store from spec.md §4.3. Timer liveness for expiry is delegated to
// the bridge (one named timer entity per room), following the
// teacher's device.CanToggle(d, now)-style explicit-now convention:
// every call here takes `now` rather than reading the clock itself.
package overrides

import (
	"fmt"
	"time"

	"github.com/thatsimonsguy/hydronic-controller/internal/bridge"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
)

type Mode string

const (
	ModeNone    Mode = "none"
	ModeActive  Mode = "active"
	ModePassive Mode = "passive"
)

// Store owns the active/passive override for every room. At most one
// of each per room at a time (spec.md §4.3).
type Store struct {
	active  map[string]model.ActiveOverride
	passive map[string]model.PassiveOverride
	manual  map[string]float64
}

func NewStore() *Store {
	return &Store{
		active:  make(map[string]model.ActiveOverride),
		passive: make(map[string]model.PassiveOverride),
		manual:  make(map[string]float64),
	}
}

// SetManualSetpoint records the target used while a room's mode is
// manual (spec.md §6 set_mode manual_setpoint argument). It persists
// across mode switches so re-entering manual mode without a new
// setpoint resumes the last one.
func (s *Store) SetManualSetpoint(room string, target float64) {
	s.manual[room] = clamp(target, 10, 35)
}

func (s *Store) GetManualSetpoint(room string, fallback float64) float64 {
	if v, ok := s.manual[room]; ok {
		return v
	}
	return fallback
}

func activeTimerEntity(room string) string  { return "timer.override_active_" + room }
func passiveTimerEntity(room string) string { return "timer.override_passive_" + room }

// SetActive clamps target to [10,35] and starts the room's active
// override timer via the bridge.
func (s *Store) SetActive(b bridge.Bridge, room string, target float64, duration time.Duration, now time.Time) error {
	if duration <= 0 {
		return fmt.Errorf("override duration must be positive")
	}
	target = clamp(target, 10, 35)

	s.active[room] = model.ActiveOverride{Target: target, Deadline: now.Add(duration)}
	b.StartTimer(activeTimerEntity(room), duration)
	return nil
}

// SetPassive validates and stores a passive override.
func (s *Store) SetPassive(b bridge.Bridge, room string, min, max float64, valvePct int, duration time.Duration, now time.Time) error {
	if duration <= 0 {
		return fmt.Errorf("override duration must be positive")
	}
	if min > max-0.5 {
		return fmt.Errorf("passive min must be <= max - 0.5")
	}
	if min < 8 || min > 20 {
		return fmt.Errorf("passive min out of range [8,20]")
	}
	if max < 10 || max > 30 {
		return fmt.Errorf("passive max out of range [10,30]")
	}
	if valvePct < 0 || valvePct > 100 {
		return fmt.Errorf("passive valve_pct out of range [0,100]")
	}

	s.passive[room] = model.PassiveOverride{Min: min, Max: max, ValvePct: valvePct, Deadline: now.Add(duration)}
	b.StartTimer(passiveTimerEntity(room), duration)
	return nil
}

// Cancel clears both override kinds for a room and cancels their
// bridge timers.
func (s *Store) Cancel(b bridge.Bridge, room string) {
	delete(s.active, room)
	delete(s.passive, room)
	b.CancelNamedTimer(activeTimerEntity(room))
	b.CancelNamedTimer(passiveTimerEntity(room))
}

// ExpireIfDue clears an override whose bridge timer has gone idle.
// Called once per room per recompute, before resolution.
func (s *Store) ExpireIfDue(b bridge.Bridge, room string) {
	if _, ok := s.active[room]; ok && !b.TimerActive(activeTimerEntity(room)) {
		delete(s.active, room)
	}
	if _, ok := s.passive[room]; ok && !b.TimerActive(passiveTimerEntity(room)) {
		delete(s.passive, room)
	}
}

func (s *Store) GetMode(room string) Mode {
	if _, ok := s.active[room]; ok {
		return ModeActive
	}
	if _, ok := s.passive[room]; ok {
		return ModePassive
	}
	return ModeNone
}

func (s *Store) GetActiveTarget(room string) (float64, bool) {
	o, ok := s.active[room]
	if !ok {
		return 0, false
	}
	return o.Target, true
}

// GetPassiveParams returns (max, valvePct, min, ok). max is the band
// ceiling the room controller's passive branch computes error against;
// min is the floor exactly as stored by SetPassive, not frost-clamped
// (scheduler.ResolveTarget raises it to the frost floor) (spec.md §4.2/§4.4).
func (s *Store) GetPassiveParams(room string) (max float64, valvePct int, min float64, ok bool) {
	o, present := s.passive[room]
	if !present {
		return 0, 0, 0, false
	}
	return o.Max, o.ValvePct, o.Min, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
