// Package boiler implements the six-state boiler finite-state machine
// from spec.md §4.5: anti-cycling timers, minimum-opening interlock,
// pump-overrun with valve persistence, TRV-feedback confirmation, and
// desync reconciliation. Modeled as a discriminated state with a single
// Step function pure of bridge I/O except for reading, starting and
// cancelling named timers; boiler on/off commands are returned in Outputs
// for the caller to send, per spec.md §9's "pure step, thin shell"
// guidance. Grounded in shape on the teacher's device state-machine
// checks (internal/device/device.go's CanToggle/anti-cycling gating)
// generalized from a single on/off device to the full 6-state automaton.
package boiler

import (
	"math"
	"time"

	"github.com/thatsimonsguy/hydronic-controller/internal/bridge"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
)

const (
	timerMinOn       = "timer.boiler_min_on"
	timerMinOff      = "timer.boiler_min_off"
	timerOffDelay    = "timer.boiler_off_delay"
	timerPumpOverrun = "timer.boiler_pump_overrun"

	trvFeedbackTolerance = 3 // percentage points; startup grace handled by caller
)

// FSM owns the boiler's dynamic state (spec.md §3).
type FSM struct {
	cfg            model.BoilerConfig
	State          model.BoilerFSMState
	StateEntryTime time.Time

	startupTick bool
	prevFlameOn bool

	// PumpOverrunActive is not set by Step. The signal of when to
	// capture/clear the pump-overrun snapshot reaches the valve
	// coordinator (which owns it per spec.md §4.9) through
	// Outputs.EnablePumpOverrunSnapshot/DisablePumpOverrunSnapshot.
	PumpOverrunActive bool
}

func NewFSM(cfg model.BoilerConfig, now time.Time) *FSM {
	return &FSM{cfg: cfg, State: model.BoilerOff, StateEntryTime: now, startupTick: true}
}

// Inputs bundles everything Step needs for one tick.
type Inputs struct {
	HasDemand        bool
	CommandedValves  map[string]int // room -> band-computed percent, pre-interlock
	CallingRooms      map[string]bool
	TRVFeedbackOK     bool // aggregate: every calling room's TRV feedback within tolerance, or startup grace
	FlameOn           bool
	BoilerEntityState string // "heat" or "off" as read from the bridge
}

// Outputs is what Step wants the thin shell to do against the bridge.
type Outputs struct {
	CommandBoilerOn     bool
	CommandBoilerOff    bool
	InterlockOverride   map[string]int // persistence override exported to the coordinator
	InterlockOK         bool
	EnablePumpOverrunSnapshot  bool
	DisablePumpOverrunSnapshot bool
	DesyncWarning       string
}

// ComputeInterlockOverride implements §4.5's "valve persistence":
// distributes the deficit evenly across calling rooms when the sum of
// non-zero commanded valves is below min_valve_open_percent.
func ComputeInterlockOverride(commandedValves map[string]int, callingRooms map[string]bool, minPercent int) (override map[string]int, ok bool) {
	total := 0
	for _, v := range commandedValves {
		if v > 0 {
			total += v
		}
	}
	if total >= minPercent {
		return nil, true
	}

	nCalling := 0
	for _, calling := range callingRooms {
		if calling {
			nCalling++
		}
	}
	if nCalling == 0 {
		return nil, false
	}

	perRoom := int(math.Ceil(float64(minPercent) / float64(nCalling)))
	if perRoom > 100 {
		perRoom = 100
	}

	override = make(map[string]int, nCalling)
	for room, calling := range callingRooms {
		if !calling {
			continue
		}
		v := commandedValves[room]
		if v < perRoom {
			v = perRoom
		}
		override[room] = v
	}
	return override, true
}

// Step runs one FSM tick: desync reconciliation, then the documented
// transition table. Its only bridge calls read, start and cancel named
// timers; boiler entity state arrives through Inputs and boiler commands
// leave through Outputs. It never blocks.
func (f *FSM) Step(b bridge.Bridge, now time.Time, in Inputs) Outputs {
	out := Outputs{}

	override, interlockOK := ComputeInterlockOverride(in.CommandedValves, in.CallingRooms, f.cfg.Interlock.MinValveOpenPercent)
	out.InterlockOverride = override
	out.InterlockOK = interlockOK

	f.reconcileDesync(b, in, &out)

	minOffElapsed := !b.TimerActive(timerMinOff)
	minOnElapsed := !b.TimerActive(timerMinOn)

	switch f.State {
	case model.BoilerOff:
		switch {
		case in.HasDemand && interlockOK && minOffElapsed && in.TRVFeedbackOK:
			f.enter(model.BoilerOn, now)
			b.StartTimer(timerMinOn, time.Duration(f.cfg.AntiCycling.MinOnTimeS)*time.Second)
			out.CommandBoilerOn = true
		case in.HasDemand && interlockOK && minOffElapsed && !in.TRVFeedbackOK:
			f.enter(model.BoilerPendingOn, now)
		case in.HasDemand && !interlockOK:
			f.enter(model.BoilerInterlockBlocked, now)
		case in.HasDemand && !minOffElapsed:
			f.enter(model.BoilerInterlockBlocked, now)
		}

	case model.BoilerPendingOn:
		switch {
		case in.TRVFeedbackOK && interlockOK:
			f.enter(model.BoilerOn, now)
			b.StartTimer(timerMinOn, time.Duration(f.cfg.AntiCycling.MinOnTimeS)*time.Second)
			out.CommandBoilerOn = true
		case !in.HasDemand:
			f.enter(model.BoilerOff, now)
		case !interlockOK:
			f.enter(model.BoilerInterlockBlocked, now)
		}

	case model.BoilerOn:
		switch {
		case !in.HasDemand:
			f.enter(model.BoilerPendingOff, now)
			b.StartTimer(timerOffDelay, time.Duration(f.cfg.AntiCycling.OffDelayS)*time.Second)
			out.EnablePumpOverrunSnapshot = true
		case !interlockOK:
			f.enter(model.BoilerPumpOverrun, now)
			out.CommandBoilerOff = true
			b.StartTimer(timerMinOff, time.Duration(f.cfg.AntiCycling.MinOffTimeS)*time.Second)
			if !in.FlameOn {
				b.StartTimer(timerPumpOverrun, time.Duration(f.cfg.PumpOverrunS)*time.Second)
			}
			out.EnablePumpOverrunSnapshot = true
		}

	case model.BoilerPendingOff:
		offDelayElapsed := !b.TimerActive(timerOffDelay)
		switch {
		case in.HasDemand && interlockOK:
			f.enter(model.BoilerOn, now)
			b.CancelNamedTimer(timerOffDelay)
			out.DisablePumpOverrunSnapshot = true
		case (offDelayElapsed || in.BoilerEntityState == "off") && (minOnElapsed || in.BoilerEntityState == "off"):
			f.enter(model.BoilerPumpOverrun, now)
			out.CommandBoilerOff = true
			b.StartTimer(timerMinOff, time.Duration(f.cfg.AntiCycling.MinOffTimeS)*time.Second)
			if !in.FlameOn {
				b.StartTimer(timerPumpOverrun, time.Duration(f.cfg.PumpOverrunS)*time.Second)
			}
		}

	case model.BoilerPumpOverrun:
		switch {
		case in.HasDemand && interlockOK && in.TRVFeedbackOK && minOffElapsed:
			f.enter(model.BoilerOn, now)
			b.CancelNamedTimer(timerPumpOverrun)
			b.StartTimer(timerMinOn, time.Duration(f.cfg.AntiCycling.MinOnTimeS)*time.Second)
			out.CommandBoilerOn = true
			out.DisablePumpOverrunSnapshot = true
		case !b.TimerActive(timerPumpOverrun):
			f.enter(model.BoilerOff, now)
			out.DisablePumpOverrunSnapshot = true
		}

	case model.BoilerInterlockBlocked:
		switch {
		case interlockOK && minOffElapsed:
			f.enter(model.BoilerOn, now)
			b.StartTimer(timerMinOn, time.Duration(f.cfg.AntiCycling.MinOnTimeS)*time.Second)
			out.CommandBoilerOn = true
		case !in.HasDemand:
			f.enter(model.BoilerOff, now)
		}
	}

	// Flame-off hook: start pump_overrun if we're sitting in
	// PUMP_OVERRUN and flame just dropped without the timer running yet
	// (covers the ON->PUMP_OVERRUN path where flame was still on at
	// transition time).
	if f.State == model.BoilerPumpOverrun && f.prevFlameOn && !in.FlameOn && !b.TimerActive(timerPumpOverrun) {
		b.StartTimer(timerPumpOverrun, time.Duration(f.cfg.PumpOverrunS)*time.Second)
	}

	f.prevFlameOn = in.FlameOn
	f.startupTick = false
	return out
}

func (f *FSM) enter(s model.BoilerFSMState, now time.Time) {
	f.State = s
	f.StateEntryTime = now
}

// reconcileDesync implements §4.5's pre-transition desync check.
func (f *FSM) reconcileDesync(b bridge.Bridge, in Inputs, out *Outputs) {
	entityOn := in.BoilerEntityState == "heat"

	if f.State == model.BoilerOn && !entityOn {
		f.State = model.BoilerOff
		b.CancelNamedTimer(timerMinOn)
		b.CancelNamedTimer(timerOffDelay)
		out.DesyncWarning = "fsm state ON but boiler entity off; reset to OFF"
		return
	}

	if f.State != model.BoilerOn && entityOn {
		if f.startupTick {
			out.DesyncWarning = "boiler entity on at startup; deferring to next recompute"
			return
		}
		out.CommandBoilerOff = true
		out.DesyncWarning = "boiler entity on but fsm not ON; commanding off"
	}
}
