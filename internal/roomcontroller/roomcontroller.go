// Package roomcontroller implements the per-room control law from
// spec.md §4.4: frost protection, asymmetric hysteresis on call-for-heat,
// and a stepped, hysteretic proportional valve-band controller. Grounded
// on the teacher's internal/controllers/zonecontroller/zonecontroller.go
// evaluateZoneActions — same "compute current inputs, walk an ordered
// set of thresholds, mutate and return a small result struct" shape,
// generalized from the teacher's fixed {heating,cooling} thresholds to
// this domain's configurable multi-band valve law.
package roomcontroller

import (
	"math"
	"time"

	"github.com/thatsimonsguy/hydronic-controller/internal/model"
	"github.com/thatsimonsguy/hydronic-controller/internal/overrides"
	"github.com/thatsimonsguy/hydronic-controller/internal/scheduler"
	"github.com/thatsimonsguy/hydronic-controller/internal/sensors"
)

const epsilonTargetChange = 0.05

// Controller owns per-room dynamic state (spec.md §3).
type Controller struct {
	state map[string]*model.RoomDynamicState
}

func NewController() *Controller {
	return &Controller{state: make(map[string]*model.RoomDynamicState)}
}

func (c *Controller) stateFor(roomID string) *model.RoomDynamicState {
	s, ok := c.state[roomID]
	if !ok {
		s = &model.RoomDynamicState{CurrentBand: model.BandMax, LastTarget: math.NaN()}
		c.state[roomID] = s
	}
	return s
}

// Restore seeds a room's dynamic state from a persisted snapshot (spec.md
// §6's room_state blob), used once at startup before the first recompute.
func (c *Controller) Restore(roomID string, calling bool, currentBand, lastValvePct int, frostActive, frostAlerted bool) {
	s := c.stateFor(roomID)
	s.Calling = calling
	s.CurrentBand = currentBand
	s.LastCommandedValve = lastValvePct
	s.FrostActive = frostActive
	s.FrostAlerted = frostAlerted
}

// Snapshot returns the fields of a room's dynamic state worth persisting.
func (c *Controller) Snapshot(roomID string) (calling bool, currentBand, lastValvePct int, frostActive, frostAlerted bool) {
	s := c.stateFor(roomID)
	return s.Calling, s.CurrentBand, s.LastCommandedValve, s.FrostActive, s.FrostAlerted
}

// Result is the per-recompute output of Compute, consumed by the
// valve coordinator and boiler FSM.
type Result struct {
	Calling       bool
	ValvePercent  int
	OperatingMode model.OperatingMode
	Target        float64
	FrostActive   bool
	FrostEntered  bool // true only on the tick frost protection newly engages (alert trigger)
	FrostCleared  bool
}

// Compute implements the full §4.4 cascade for one room on one tick.
func Compute(
	c *Controller,
	room model.RoomConfig,
	schedule model.RoomSchedule,
	mode model.RoomMode,
	holiday bool,
	masterFrostEnabled bool,
	frostThresholdC float64,
	sm *sensors.Manager,
	ovr *overrides.Store,
	now time.Time,
) Result {
	st := c.stateFor(room.ID)
	t, isStale := sm.RoomTemperatureSmoothed(room, now)

	if masterFrostEnabled && mode != model.RoomOff && !isStale {
		onDelta := room.Hysteresis.OnDeltaC
		offDelta := room.Hysteresis.OffDeltaC

		if !st.FrostActive && t < frostThresholdC-onDelta {
			st.FrostActive = true
			frostEntered := !st.FrostAlerted
			st.FrostAlerted = true
			st.Calling = true
			st.LastCommandedValve = 100
			st.LastTarget = frostThresholdC
			return Result{
				Calling: true, ValvePercent: 100, OperatingMode: model.OperatingFrost,
				Target: frostThresholdC, FrostActive: true, FrostEntered: frostEntered,
			}
		}

		if st.FrostActive {
			if t > frostThresholdC+offDelta {
				st.FrostActive = false
				cleared := st.FrostAlerted
				st.FrostAlerted = false
				return c.computeNormal(st, room, schedule, mode, holiday, ovr, t, isStale, now, false, cleared)
			}
			// remain in frost output this tick.
			st.Calling = true
			st.LastCommandedValve = 100
			st.LastTarget = frostThresholdC
			return Result{
				Calling: true, ValvePercent: 100, OperatingMode: model.OperatingFrost,
				Target: frostThresholdC, FrostActive: true,
			}
		}
	}

	return c.computeNormal(st, room, schedule, mode, holiday, ovr, t, isStale, now, false, false)
}

func (c *Controller) computeNormal(
	st *model.RoomDynamicState,
	room model.RoomConfig,
	schedule model.RoomSchedule,
	mode model.RoomMode,
	holiday bool,
	ovr *overrides.Store,
	t float64,
	isStale bool,
	now time.Time,
	frostEntered, frostCleared bool,
) Result {
	resolved := scheduler.ResolveTarget(room, schedule, mode, holiday, ovr, now)

	if resolved == nil || (isStale && mode != model.RoomManual) || mode == model.RoomOff {
		st.Calling = false
		st.LastCommandedValve = 0
		return Result{Calling: false, ValvePercent: 0, FrostCleared: frostCleared, FrostEntered: frostEntered}
	}

	if resolved.OperatingMode == model.OperatingPassive {
		return c.computePassive(st, room, resolved, t, frostEntered, frostCleared)
	}
	return c.computeActive(st, room, resolved, t, frostEntered, frostCleared)
}

// computePassive implements §4.4 step 5: symmetric hysteresis on
// max_temp, never sets calling.
func (c *Controller) computePassive(
	st *model.RoomDynamicState,
	room model.RoomConfig,
	resolved *model.Resolved,
	t float64,
	frostEntered, frostCleared bool,
) Result {
	maxTemp := resolved.Target
	valvePct := 0
	if resolved.ValvePercent != nil {
		valvePct = *resolved.ValvePercent
	}

	errorVal := maxTemp - t
	onDelta := room.Hysteresis.OnDeltaC
	offDelta := room.Hysteresis.OffDeltaC

	switch {
	case errorVal > onDelta:
		st.PassiveOpen = true
	case errorVal < -offDelta:
		st.PassiveOpen = false
	}

	commanded := 0
	if st.PassiveOpen {
		commanded = valvePct
	}

	st.Calling = false
	st.LastCommandedValve = commanded
	st.LastTarget = maxTemp

	return Result{
		Calling: false, ValvePercent: commanded, OperatingMode: model.OperatingPassive,
		Target: maxTemp, FrostEntered: frostEntered, FrostCleared: frostCleared,
	}
}

// computeActive implements §4.4 steps 6-8: asymmetric hysteresis on
// calling, followed by the 3-band stepped proportional valve law with
// I1 enforcement.
func (c *Controller) computeActive(
	st *model.RoomDynamicState,
	room model.RoomConfig,
	resolved *model.Resolved,
	t float64,
	frostEntered, frostCleared bool,
) Result {
	target := resolved.Target
	errorVal := target - t
	onDelta := room.Hysteresis.OnDeltaC
	offDelta := room.Hysteresis.OffDeltaC

	targetChanged := !math.IsNaN(st.LastTarget) && math.Abs(target-st.LastTarget) > epsilonTargetChange

	var calling bool
	if targetChanged {
		calling = errorVal >= -offDelta
	} else {
		switch {
		case errorVal > onDelta:
			calling = true
		case errorVal < -offDelta:
			calling = false
		default:
			calling = st.Calling
		}
	}

	valvePct := 0
	band := st.CurrentBand
	if calling {
		valvePct, band = computeValveBand(room.ValveBands, errorVal, st.CurrentBand)
		if valvePct == 0 {
			valvePct = lowestNonZeroBand(room.ValveBands) // I1 enforcement
		}
	} else {
		band = model.BandMax
	}

	st.Calling = calling
	st.CurrentBand = band
	st.LastCommandedValve = valvePct
	st.LastTarget = target

	return Result{
		Calling: calling, ValvePercent: valvePct, OperatingMode: model.OperatingActive,
		Target: target, FrostEntered: frostEntered, FrostCleared: frostCleared,
	}
}

// resolvedBands applies the §4.4 cascaded-default rules: missing
// band_2_pct inherits band_max_pct; missing band_1_pct inherits
// (possibly cascaded) band_2_pct; missing band_0_pct = 0; missing
// band_max_pct = 100.
func resolvedBands(spec model.ValveBandSpec) (b1Err, b2Err float64, b0Pct, b1Pct, b2Pct, maxPct int) {
	maxPct = 100
	if spec.BandMaxPercent != nil {
		maxPct = *spec.BandMaxPercent
	}
	b2Pct = maxPct
	if spec.Band2Percent != nil {
		b2Pct = *spec.Band2Percent
	}
	b1Pct = b2Pct
	if spec.Band1Percent != nil {
		b1Pct = *spec.Band1Percent
	}
	b0Pct = 0
	if spec.Band0Percent != nil {
		b0Pct = *spec.Band0Percent
	}
	if spec.Band1ErrorC != nil {
		b1Err = *spec.Band1ErrorC
	}
	if spec.Band2ErrorC != nil {
		b2Err = *spec.Band2ErrorC
	} else {
		b2Err = b1Err
	}
	return
}

func lowestNonZeroBand(spec model.ValveBandSpec) int {
	_, _, b0Pct, b1Pct, b2Pct, maxPct := resolvedBands(spec)
	for _, p := range []int{b0Pct, b1Pct, b2Pct, maxPct} {
		if p > 0 {
			return p
		}
	}
	return 100
}

// computeValveBand implements the band-transition hysteresis of §4.4
// step 7: upward moves require error >= threshold; downward moves
// require error < threshold - step_hysteresis_c, one band at a time.
func computeValveBand(spec model.ValveBandSpec, errorVal float64, currentBand int) (pct int, band int) {
	b1Err, b2Err, b0Pct, b1Pct, b2Pct, maxPct := resolvedBands(spec)
	hyst := spec.StepHysteresisC

	if currentBand == model.BandMax {
		currentBand = 0 // no prior band engaged — start from the bottom
	}

	target := currentBand
	// Try to move up first: an upward move goes straight to the highest
	// band whose threshold the error meets, so 0 -> 2 can happen in one tick.
	switch {
	case errorVal >= b2Err && spec.Band2ErrorC != nil:
		target = 2
	case errorVal >= b1Err && spec.Band1ErrorC != nil:
		if target < 1 {
			target = 1
		}
	}

	// Downward hysteresis: only drop a band if error has fallen below
	// that band's threshold minus the step hysteresis, one band at a
	// time — never both steps in the same tick, since the second check
	// would otherwise re-evaluate against the band just dropped to.
	if target == 2 && errorVal < b2Err-hyst {
		target = 1
	} else if target == 1 && errorVal < b1Err-hyst {
		target = 0
	}

	switch target {
	case 2:
		return b2Pct, 2
	case 1:
		return b1Pct, 1
	default:
		return b0Pct, 0
	}
}
