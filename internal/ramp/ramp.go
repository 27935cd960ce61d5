// Package ramp implements the setpoint ramp feature from spec.md §4.7:
// a dynamic flow-temperature increase while the boiler runs continuously,
// intended to reduce short-cycling risk. State is inferred from the
// physical boiler setpoint on restart rather than persisted, following
// the teacher's preference for deriving transient state from device
// readback where possible (see internal/device/device.go's reliance on
// GPIO levels rather than a separately persisted on/off flag).
package ramp

import (
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
)

const resumeEpsilonC = 0.1

type State struct {
	cfg model.SetpointRampSpec

	RampState     model.RampState
	Baseline      float64
	CurrentRamped float64
	StepsApplied  int
}

func NewState(cfg model.SetpointRampSpec, baseline float64) *State {
	return &State{cfg: cfg, RampState: model.RampInactive, Baseline: baseline, CurrentRamped: baseline}
}

// ResumeFromReadback infers RAMPING/INACTIVE from the boiler's live
// setpoint and flame state at startup, per spec.md §4.7.
func ResumeFromReadback(cfg model.SetpointRampSpec, baseline, physicalSetpoint float64, flameOn bool) *State {
	s := NewState(cfg, baseline)
	switch {
	case physicalSetpoint > baseline+resumeEpsilonC && flameOn:
		s.RampState = model.RampRamping
		s.CurrentRamped = physicalSetpoint
	case physicalSetpoint > baseline && !flameOn:
		s.RampState = model.RampInactive
		s.CurrentRamped = baseline
	default:
		s.RampState = model.RampInactive
		s.CurrentRamped = baseline
	}
	return s
}

// Tick applies one ramp step if conditions allow. enabled/boilerOn/
// cyclingNormal/flameOn gate whether ramping may progress; flowTemp is
// the live measured flow temperature.
func (s *State) Tick(enabled, boilerOn, cyclingNormal, flameOn bool, flowTemp float64) (newSetpoint float64, changed bool) {
	if !enabled {
		if s.RampState != model.RampInactive {
			s.reset()
			return s.Baseline, true
		}
		return s.CurrentRamped, false
	}

	if !flameOn {
		if s.RampState != model.RampInactive {
			s.reset()
			return s.Baseline, true
		}
		return s.CurrentRamped, false
	}

	if !boilerOn || !cyclingNormal {
		return s.CurrentRamped, false
	}

	if flowTemp >= s.CurrentRamped+s.cfg.DeltaTriggerC {
		next := s.CurrentRamped + s.cfg.DeltaIncreaseC
		if next > s.cfg.MaxSetpointC {
			next = s.cfg.MaxSetpointC
		}
		if next != s.CurrentRamped {
			s.CurrentRamped = next
			s.StepsApplied++
			s.RampState = model.RampRamping
			return next, true
		}
	}

	return s.CurrentRamped, false
}

// SetBaseline updates the baseline (user changed it) and resets ramp
// state per spec.md §4.7.
func (s *State) SetBaseline(baseline float64) {
	s.Baseline = baseline
	s.reset()
}

func (s *State) reset() {
	s.RampState = model.RampInactive
	s.CurrentRamped = s.Baseline
	s.StepsApplied = 0
}
