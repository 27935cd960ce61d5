// Package engine is the single-threaded orchestrator that ties every
// other package into one per-tick recompute pass (spec.md §2's dataflow:
// sensor fusion → scheduler/overrides → room controller → load-sharing +
// boiler FSM → valve coordinator → TRV controller → bridge, with the
// status publisher and telemetry writer observing the result and the
// persistence layer as a leaf shared by the room controller, cycling
// protection, and valve coordinator). Grounded on the teacher's
// internal/controller/controller.go top-level "evaluate everything, then
// act" pass, generalized from a fixed set of zone/buffer/failsafe
// controllers to this domain's room/boiler/load-sharing pipeline.
//
// RecomputeAll is the only place that calls into more than one other
// package, and it never blocks on bridge I/O beyond the synchronous calls
// the Bridge interface already commits to (spec.md §5: "the core never
// blocks on I/O"). RecomputeAll and Mutate serialize themselves on the
// engine's mutex, so at most one pass runs at a time whoever triggers it.
package engine

import (
	"strconv"
	"sync"
	"time"

	"github.com/thatsimonsguy/hydronic-controller/internal/alerts"
	"github.com/thatsimonsguy/hydronic-controller/internal/boiler"
	"github.com/thatsimonsguy/hydronic-controller/internal/bridge"
	"github.com/thatsimonsguy/hydronic-controller/internal/config"
	"github.com/thatsimonsguy/hydronic-controller/internal/cycling"
	"github.com/thatsimonsguy/hydronic-controller/internal/loadcalc"
	"github.com/thatsimonsguy/hydronic-controller/internal/loadsharing"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
	"github.com/thatsimonsguy/hydronic-controller/internal/overrides"
	"github.com/thatsimonsguy/hydronic-controller/internal/persistence"
	"github.com/thatsimonsguy/hydronic-controller/internal/ramp"
	"github.com/thatsimonsguy/hydronic-controller/internal/roomcontroller"
	"github.com/thatsimonsguy/hydronic-controller/internal/scheduler"
	"github.com/thatsimonsguy/hydronic-controller/internal/sensors"
	"github.com/thatsimonsguy/hydronic-controller/internal/status"
	"github.com/thatsimonsguy/hydronic-controller/internal/telemetry"
	"github.com/thatsimonsguy/hydronic-controller/internal/trv"
	"github.com/thatsimonsguy/hydronic-controller/internal/valvecoordinator"
)

const (
	trvStartupGrace       = 2 * time.Minute
	defaultBoilerSetpoint = 50.0
)

// PersistedState is the single JSON document described in spec.md §6:
// room dynamic state, cycling protection, and setpoint ramp.
type PersistedState struct {
	RoomState         map[string]persistence.RoomStateBlob `json:"room_state"`
	CyclingProtection persistence.CyclingBlob              `json:"cycling_protection"`
	SetpointRamp      persistence.RampBlob                 `json:"setpoint_ramp"`
}

// Engine owns every component and the small bits of orchestration state
// (per-room mode, holiday flag, burner-start count) that don't belong to
// any single component.
type Engine struct {
	// mu serializes every recompute pass and every API-triggered state
	// mutation, standing in for the host's single-threaded cooperative
	// dispatch (spec.md §5) in a runtime where HTTP handlers run on their
	// own goroutines.
	mu sync.Mutex

	cfg    *config.Config
	bridge bridge.Bridge
	prefix string

	sensorsMgr *sensors.Manager
	overrides  *overrides.Store
	roomCtl    *roomcontroller.Controller
	boilerFSM  *boiler.FSM
	cyclingM   *cycling.Machine
	rampState  *ramp.State
	loadShare  *loadsharing.Manager
	coord      *valvecoordinator.Coordinator
	trvCtl     *trv.Controller
	alertMgr   *alerts.Manager
	statusPub  *status.Publisher

	csv    *telemetry.CSVWriter
	events *telemetry.EventStore
	store  *persistence.Store

	roomModes map[string]model.RoomMode
	holiday   bool

	burnerStarts  int
	prevFlameOn   bool
	startedAt     time.Time
	lastTelemetry map[string]telemetry.Event

	lastRoomStatus   map[string]status.RoomStatus
	lastSystemStatus status.SystemStatus
}

// Options bundles the optional collaborators a deployment may omit.
type Options struct {
	EntityPrefix     string
	NtfyTopic        string
	PumpOverrunStore *persistence.Store
	StateStore       *persistence.Store
	CSVDir           string // empty disables CSV telemetry
	EventDBPath      string // empty disables the sqlite event log
	DatadogAddr      string // empty disables DataDog gauges
	DatadogNamespace string
}

func New(cfg *config.Config, b bridge.Bridge, opts Options) *Engine {
	e := &Engine{
		cfg:            cfg,
		bridge:         b,
		prefix:         opts.EntityPrefix,
		sensorsMgr:     sensors.NewManager(),
		overrides:      overrides.NewStore(),
		roomCtl:        roomcontroller.NewController(),
		cyclingM:       cycling.NewMachine(cfg.Boiler.Cooldown),
		loadShare:      loadsharing.NewManager(cfg.Boiler.LoadSharing),
		coord:          valvecoordinator.NewCoordinator(opts.PumpOverrunStore),
		trvCtl:         trv.NewController(),
		alertMgr:       alerts.NewManager(),
		statusPub:      status.NewPublisher(opts.EntityPrefix),
		store:          opts.StateStore,
		roomModes:      make(map[string]model.RoomMode),
		lastTelemetry:  make(map[string]telemetry.Event),
		lastRoomStatus: make(map[string]status.RoomStatus),
	}

	e.alertMgr.Init(opts.NtfyTopic)
	if opts.DatadogAddr != "" {
		e.statusPub.InitMetrics(opts.DatadogAddr, opts.DatadogNamespace, []string{"system:hydronic"})
	}
	if opts.CSVDir != "" {
		e.csv = telemetry.NewCSVWriter(opts.CSVDir)
	}
	if opts.EventDBPath != "" {
		if store, err := telemetry.OpenEventStore(opts.EventDBPath); err == nil {
			e.events = store
		} else {
			b.Log().Errorf("failed to open telemetry event store: %v", err)
		}
	}

	for _, r := range cfg.Rooms {
		e.roomModes[r.ID] = cfg.Schedules[r.ID].DefaultMode
	}

	return e
}

// Start performs the startup reconciliation invariant (spec.md §3 I7 and
// §6's lifecycle note): construct the boiler FSM in OFF, restore
// persisted room/cycling state, restore the pump-overrun snapshot, and
// infer the setpoint-ramp state from the live boiler entity.
func (e *Engine) Start(now time.Time) {
	e.startedAt = now
	e.boilerFSM = boiler.NewFSM(e.cfg.Boiler, now)
	e.coord.RestoreFromPersistence()

	var blob PersistedState
	if e.store != nil {
		if ok := e.store.Load(&blob); ok {
			for roomID, rs := range blob.RoomState {
				e.roomCtl.Restore(roomID, rs.Calling, rs.CurrentBand, rs.LastValvePct, rs.FrostActive, rs.FrostAlerted)
			}
			var cooldownStart *time.Time
			if blob.CyclingProtection.CooldownStart != nil {
				t := time.Unix(*blob.CyclingProtection.CooldownStart, 0)
				cooldownStart = &t
			}
			if blob.CyclingProtection.State != "" {
				e.cyclingM = cycling.Restore(e.cfg.Boiler.Cooldown, model.CyclingState(blob.CyclingProtection.State),
					blob.CyclingProtection.SavedSetpoint, cooldownStart, blob.CyclingProtection.CooldownsCount)
			}
		}
	}

	live := e.readBoilerSetpoint()
	flameOn := e.readFlameOn()
	e.rampState = ramp.ResumeFromReadback(e.cfg.Boiler.SetpointRamp, live, live, flameOn)
	e.prevFlameOn = flameOn
}

// TriggerRecompute is the named entry point other packages (API handlers,
// bridge state-change listeners) call to request a pass; it exists
// purely so call sites can name the reason in logs, per spec.md §5's
// "event-driven recompute... triggered on any input change".
func (e *Engine) TriggerRecompute(now time.Time, reason string) {
	e.bridge.Log().Debugf("recompute triggered: %s", reason)
	e.RecomputeAll(now)
}

// RecomputeAll runs exactly one full pass of the dataflow described in
// the package doc comment. Callers need not hold any lock; RecomputeAll
// serializes itself against any other recompute or Mutate call.
func (e *Engine) RecomputeAll(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recomputeAllLocked(now)
}

// Mutate applies fn (a state change originating outside the normal
// bridge/tick dataflow — an API call) and then runs one recompute pass,
// both under the same lock, so the mutation and its consequences are
// observed atomically by any concurrent caller (spec.md §5: "recompute
// is the only writer of control state", generalized here to also cover
// API-driven writes like set_mode or override).
func (e *Engine) Mutate(now time.Time, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	e.recomputeAllLocked(now)
	return nil
}

func (e *Engine) recomputeAllLocked(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.bridge.Log().Errorf("recompute panicked, tick skipped: %v", r)
		}
	}()

	flameOn := e.readFlameOn()
	boilerEntityState, _ := e.bridge.GetState(e.boilerClimateEntity())
	currentSetpoint := e.readBoilerSetpoint()
	returnTemp := e.readBoilerReturnTemp()
	flowTemp := e.readBoilerFlowTemp()
	dhwActive := e.readDHWActive()
	outsideTemp := e.readOutsideTemp()

	if flameOn && !e.prevFlameOn {
		e.burnerStarts++
	}
	if !flameOn && e.prevFlameOn {
		e.cyclingM.OnFlameOff(now, dhwActive)
	}
	e.prevFlameOn = flameOn

	cyclingOut := e.cyclingM.Tick(now, returnTemp, currentSetpoint)
	if cyclingOut.CommandSetpoint != nil {
		e.commandBoilerSetpoint(*cyclingOut.CommandSetpoint)
		currentSetpoint = *cyclingOut.CommandSetpoint
	}
	if cyclingOut.AlertTimeout {
		e.alertMgr.Raise(now, alerts.KindCooldownTimeout, "", "Cooldown timeout",
			"cycling protection exceeded its maximum cooldown duration and was forced back to NORMAL")
	} else {
		e.alertMgr.Clear(alerts.KindCooldownTimeout, "", "Cooldown timeout cleared")
	}
	if cyclingOut.AlertExcessive {
		e.alertMgr.Raise(now, alerts.KindExcessiveCycling, "", "Excessive cycling",
			"the rolling count of cooldown entries exceeded the configured threshold")
	}

	rampEnabled := e.cfg.Boiler.SetpointRamp.DeltaTriggerC > 0
	if newSetpoint, changed := e.rampState.Tick(rampEnabled, e.boilerFSM.State == model.BoilerOn,
		e.cyclingM.State == model.CyclingNormal, flameOn, flowTemp); changed {
		e.commandBoilerSetpoint(newSetpoint)
		currentSetpoint = newSetpoint
	}

	desired := make(map[string]int, len(e.cfg.Rooms))
	calling := make(map[string]bool, len(e.cfg.Rooms))
	results := make(map[string]roomcontroller.Result, len(e.cfg.Rooms))
	roomTemps := make(map[string]float64, len(e.cfg.Rooms))
	snapshots := make(map[string]loadsharing.RoomSnapshot, len(e.cfg.Rooms))

	meanWaterTempC := loadcalc.MeanWaterTempC(currentSetpoint, e.cfg.Boiler.LoadMonitoring.SystemDeltaT)
	var callingCapacityW, passiveCapacityW float64

	for _, room := range e.cfg.Rooms {
		e.overrides.ExpireIfDue(e.bridge, room.ID)
		e.sensorsMgr.Refresh(e.bridge, room, now)

		mode := e.roomModes[room.ID]
		sched := e.cfg.Schedules[room.ID]

		res := roomcontroller.Compute(e.roomCtl, room, sched, mode, e.holiday,
			true, e.cfg.System.FrostProtectionTempC, e.sensorsMgr, e.overrides, now)
		results[room.ID] = res
		desired[room.ID] = res.ValvePercent
		calling[room.ID] = res.Calling

		if res.FrostEntered {
			e.alertMgr.Raise(now, alerts.KindFrostProtection, room.ID, "Frost protection engaged",
				room.Name+" dropped below the frost threshold")
		}
		if res.FrostCleared {
			e.alertMgr.Clear(alerts.KindFrostProtection, room.ID, "Frost protection cleared")
		}

		roomTemp, stale := e.sensorsMgr.RoomTemperatureSmoothed(room, now)
		if !stale {
			roomTemps[room.ID] = roomTemp
		}
		if !stale && e.cfg.Boiler.LoadMonitoring.Enabled && room.DeltaT50 != nil {
			capacity := loadcalc.EstimateCapacityW(*room.DeltaT50, meanWaterTempC, roomTemp, room.RadiatorExp)
			switch {
			case res.Calling:
				callingCapacityW += capacity
			case res.OperatingMode == model.OperatingPassive && res.ValvePercent > 0:
				passiveCapacityW += capacity * float64(res.ValvePercent) / 100.0
			}
		}

		var passiveMax *float64
		if res.OperatingMode == model.OperatingPassive {
			v := res.Target
			passiveMax = &v
		}

		at, target := scheduler.NextChange(sched, now)
		nextIn := at.Sub(now)

		snapshots[room.ID] = loadsharing.RoomSnapshot{
			ID: room.ID, Mode: mode, Calling: res.Calling, CurrentTempC: roomTemp,
			CurrentValvePct: res.ValvePercent, PassiveMaxTempC: passiveMax,
			NextBlockIn: &nextIn, NextBlockTarget: target,
			FallbackPriority: room.LoadSharing.FallbackPriority,
			DeltaT50:         room.DeltaT50, RadiatorExponent: room.RadiatorExp,
			OffDeltaC: room.Hysteresis.OffDeltaC, ScheduleLookaheadM: room.LoadSharing.ScheduleLookaheadM,
		}
	}

	cyclingCooldown := e.cyclingM.State == model.CyclingCooldown
	lsResult := e.loadShare.Tick(now, snapshots, cyclingCooldown, returnTemp, currentSetpoint,
		meanWaterTempC, callingCapacityW, passiveCapacityW)
	e.coord.SetLoadSharingOverrides(lsResult.Overrides)

	correctedRooms := make(map[string]bool)
	for _, room := range e.cfg.Rooms {
		if e.trvCtl.ConsumeUnexpected(room.ID) {
			e.coord.SetCorrectionOverride(room.ID, e.trvCtl.LastCommanded(room.ID))
			correctedRooms[room.ID] = true
		}
	}

	preInterlock := make(map[string]int, len(e.cfg.Rooms))
	for _, room := range e.cfg.Rooms {
		preInterlock[room.ID] = e.coord.Apply(room.ID, desired[room.ID])
	}

	hasDemand := false
	trvFeedbackOK := true
	inStartupGrace := now.Sub(e.startedAt) < trvStartupGrace
	for _, room := range e.cfg.Rooms {
		if !calling[room.ID] {
			continue
		}
		hasDemand = true
		if !inStartupGrace && !e.trvCtl.FeedbackWithinTolerance(e.bridge, room.ID, room.TRV) {
			trvFeedbackOK = false
		}
	}

	fsmOut := e.boilerFSM.Step(e.bridge, now, boiler.Inputs{
		HasDemand: hasDemand, CommandedValves: preInterlock, CallingRooms: calling,
		TRVFeedbackOK: trvFeedbackOK, FlameOn: flameOn, BoilerEntityState: boilerEntityState,
	})
	e.coord.SetInterlockOverride(fsmOut.InterlockOverride)

	if fsmOut.CommandBoilerOn {
		e.bridge.CallService("climate/set_hvac_mode", map[string]any{"entity_id": e.boilerClimateEntity(), "hvac_mode": "heat"})
	}
	if fsmOut.CommandBoilerOff {
		e.bridge.CallService("climate/set_hvac_mode", map[string]any{"entity_id": e.boilerClimateEntity(), "hvac_mode": "off"})
	}
	if fsmOut.EnablePumpOverrunSnapshot {
		if err := e.coord.EnablePumpOverrun(); err != nil {
			e.bridge.Log().Errorf("failed to persist pump-overrun snapshot: %v", err)
		}
	}
	if fsmOut.DisablePumpOverrunSnapshot {
		if err := e.coord.DisablePumpOverrun(); err != nil {
			e.bridge.Log().Errorf("failed to clear pump-overrun snapshot: %v", err)
		}
	}
	if fsmOut.DesyncWarning != "" {
		e.bridge.Log().Warnf("boiler desync: %s", fsmOut.DesyncWarning)
	}
	if !fsmOut.InterlockOK {
		e.alertMgr.Raise(now, alerts.KindBoilerControl, "", "Boiler interlock blocked",
			"no calling room combination reached the minimum valve-open percentage")
	} else {
		e.alertMgr.Clear(alerts.KindBoilerControl, "", "Boiler interlock cleared")
	}

	final := make(map[string]int, len(e.cfg.Rooms))
	for _, room := range e.cfg.Rooms {
		if correctedRooms[room.ID] {
			// The pre-interlock pass consumed the correction; record it again.
			e.coord.SetCorrectionOverride(room.ID, e.trvCtl.LastCommanded(room.ID))
		}
		final[room.ID] = e.coord.Apply(room.ID, desired[room.ID])
	}

	for _, room := range e.cfg.Rooms {
		e.trvCtl.SetValve(e.bridge, room.ID, room.TRV, final[room.ID], now,
			correctedRooms[room.ID], room.ValveUpdate.MinIntervalS)
		e.trvCtl.Tick(e.bridge, room.ID, room.TRV, now)
	}

	if e.cfg.Boiler.SafetyRoom != nil {
		safetyID := *e.cfg.Boiler.SafetyRoom
		if res, ok := results[safetyID]; ok && !res.Calling && e.boilerFSM.State == model.BoilerOn {
			e.alertMgr.Raise(now, alerts.KindSafetyRoom, safetyID, "Safety room not calling",
				"boiler is ON while the configured safety room is not calling for heat")
		} else {
			e.alertMgr.Clear(alerts.KindSafetyRoom, safetyID, "Safety room alert cleared")
		}
	}

	e.publishStatus(now, results, roomTemps, final, hasDemand, cyclingCooldown)
	e.recordTelemetry(now, flameOn, results, final, returnTemp, outsideTemp, cyclingCooldown)
	e.persistState()
}

func (e *Engine) publishStatus(now time.Time, results map[string]roomcontroller.Result, roomTemps map[string]float64,
	final map[string]int, anyCalling, cooldownActive bool) {
	var callingIDs []string
	for _, room := range e.cfg.Rooms {
		res := results[room.ID]
		rs := status.RoomStatus{
			RoomID: room.ID, Mode: string(e.roomModes[room.ID]), TemperatureC: roomTemps[room.ID],
			TargetC: res.Target, State: roomStateString(res), ValvePercent: final[room.ID],
			Calling: res.Calling, PassiveMaxTempC: passiveMaxPtr(res),
		}
		e.statusPub.PublishRoom(e.bridge, rs)
		e.lastRoomStatus[room.ID] = rs
		if res.Calling {
			callingIDs = append(callingIDs, room.ID)
		}
	}

	loadSharingState := "inactive"
	if e.loadShare.Active {
		loadSharingState = "active"
	}

	sys := status.SystemStatus{
		BoilerState: string(e.boilerFSM.State), AnyRoomCalling: anyCalling, CooldownActive: cooldownActive,
		LoadSharingState: loadSharingState, RampState: string(e.rampState.RampState), RoomsCalling: callingIDs,
	}
	e.statusPub.PublishSystem(e.bridge, sys)
	e.lastSystemStatus = sys
}

func roomStateString(res roomcontroller.Result) string {
	switch {
	case res.FrostActive:
		return "frost_protection"
	case res.Calling:
		return "calling"
	case res.OperatingMode == model.OperatingPassive:
		return "passive"
	default:
		return "idle"
	}
}

func passiveMaxPtr(res roomcontroller.Result) *float64 {
	if res.OperatingMode != model.OperatingPassive {
		return nil
	}
	v := res.Target
	return &v
}

func (e *Engine) recordTelemetry(now time.Time, flameOn bool, results map[string]roomcontroller.Result,
	final map[string]int, returnTemp, outsideTemp float64, cyclingCooldown bool) {
	if e.csv == nil && e.events == nil {
		return
	}

	cyclingState := string(e.cyclingM.State)
	loadSharingState := "inactive"
	if e.loadShare.Active {
		loadSharingState = "active"
	}
	boilerState := string(e.boilerFSM.State)

	for _, room := range e.cfg.Rooms {
		res := results[room.ID]
		ev := telemetry.Event{
			Timestamp: now, BoilerState: boilerState, FlameOn: flameOn, BurnerStarts: e.burnerStarts,
			RoomID: room.ID, RoomMode: string(e.roomModes[room.ID]), RoomCalling: res.Calling,
			RoomValvePercent: final[room.ID], HeatingTempC: res.Target, ReturnTempC: returnTemp,
			CyclingState: cyclingState, LoadSharingState: loadSharingState, OutsideTempC: outsideTemp,
		}

		if prev, ok := e.lastTelemetry[room.ID]; ok && !eventChanged(prev, ev) {
			continue
		}
		e.lastTelemetry[room.ID] = ev

		if e.csv != nil {
			if err := e.csv.Append(ev); err != nil {
				e.bridge.Log().Errorf("telemetry csv append failed: %v", err)
			}
		}
		if e.events != nil {
			if err := e.events.Record(ev); err != nil {
				e.bridge.Log().Errorf("telemetry event record failed: %v", err)
			}
		}
	}
}

// eventChanged reports whether any field a reader would call
// "significant" differs from the last recorded row for this room
// (spec.md §6: "one row per significant state change").
func eventChanged(a, b telemetry.Event) bool {
	return a.BoilerState != b.BoilerState || a.FlameOn != b.FlameOn || a.RoomCalling != b.RoomCalling ||
		a.RoomValvePercent != b.RoomValvePercent || a.RoomMode != b.RoomMode ||
		a.CyclingState != b.CyclingState || a.LoadSharingState != b.LoadSharingState
}

func (e *Engine) persistState() {
	if e.store == nil {
		return
	}

	blob := PersistedState{RoomState: make(map[string]persistence.RoomStateBlob, len(e.cfg.Rooms))}
	for _, room := range e.cfg.Rooms {
		calling, band, lastValve, frostActive, frostAlerted := e.roomCtl.Snapshot(room.ID)
		blob.RoomState[room.ID] = persistence.RoomStateBlob{
			Calling: calling, CurrentBand: band, LastValvePct: lastValve,
			FrostActive: frostActive, FrostAlerted: frostAlerted,
		}
	}

	blob.CyclingProtection = persistence.CyclingBlob{
		State: string(e.cyclingM.State), SavedSetpoint: e.cyclingM.SavedSetpoint,
		CooldownsCount: e.cyclingM.CooldownsCount(),
	}
	if e.cyclingM.CooldownStart != nil {
		unix := e.cyclingM.CooldownStart.Unix()
		blob.CyclingProtection.CooldownStart = &unix
	}

	blob.SetpointRamp = persistence.RampBlob{
		RampState: string(e.rampState.RampState), Baseline: e.rampState.Baseline,
		StepsApplied: e.rampState.StepsApplied,
	}

	if err := e.store.Save(blob); err != nil {
		e.bridge.Log().Errorf("failed to persist state: %v", err)
	}
}

// --- boiler entity access -------------------------------------------------

func (e *Engine) boilerClimateEntity() string { return e.cfg.Boiler.ClimateEntity() }
func (e *Engine) boilerFlameEntity() string   { return e.cfg.Boiler.FlameEntity() }
func (e *Engine) boilerReturnEntity() string  { return e.cfg.Boiler.ReturnTempEntity() }
func (e *Engine) boilerFlowEntity() string    { return e.cfg.Boiler.FlowTempEntity() }
func (e *Engine) boilerDHWEntity() string     { return e.cfg.Boiler.DHWActiveEntity() }

func (e *Engine) readBoilerSetpoint() float64 {
	raw, ok := e.bridge.GetAttribute(e.boilerClimateEntity(), "temperature")
	if !ok {
		return defaultBoilerSetpoint
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultBoilerSetpoint
	}
	return v
}

func (e *Engine) commandBoilerSetpoint(v float64) {
	e.bridge.CallService("climate/set_temperature", map[string]any{
		"entity_id": e.boilerClimateEntity(), "temperature": v,
	})
}

func (e *Engine) readFlameOn() bool {
	s, _ := e.bridge.GetState(e.boilerFlameEntity())
	return s == "on"
}

func (e *Engine) readDHWActive() bool {
	s, _ := e.bridge.GetState(e.boilerDHWEntity())
	return s == "on"
}

func (e *Engine) readBoilerReturnTemp() float64 {
	return e.readFloatState(e.boilerReturnEntity())
}

func (e *Engine) readBoilerFlowTemp() float64 {
	return e.readFloatState(e.boilerFlowEntity())
}

func (e *Engine) readOutsideTemp() float64 {
	return e.readFloatState("sensor.outside_temperature")
}

func (e *Engine) readFloatState(entity string) float64 {
	raw, ok := e.bridge.GetState(entity)
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

// --- accessors for the API layer ------------------------------------------

// SetRoomMode changes a room's user-selected mode, effective next recompute.
func (e *Engine) SetRoomMode(roomID string, mode model.RoomMode) {
	e.roomModes[roomID] = mode
}

func (e *Engine) RoomMode(roomID string) model.RoomMode { return e.roomModes[roomID] }

// SetHoliday toggles the system-wide holiday schedule override.
func (e *Engine) SetHoliday(v bool) { e.holiday = v }

func (e *Engine) Holiday() bool { return e.holiday }

func (e *Engine) Overrides() *overrides.Store { return e.overrides }

func (e *Engine) Config() *config.Config { return e.cfg }

func (e *Engine) BoilerState() model.BoilerFSMState { return e.boilerFSM.State }

func (e *Engine) CyclingState() model.CyclingState { return e.cyclingM.State }

func (e *Engine) Alerts() *alerts.Manager { return e.alertMgr }

// Bridge exposes the underlying bridge to callers (the API layer) that
// need to drive overrides.Store methods directly.
func (e *Engine) Bridge() bridge.Bridge { return e.bridge }

// ScheduledTarget resolves room's pure schedule-derived target at now,
// ignoring any currently active override — used by the override(room,
// delta, ...) API call, which adds delta to the scheduled target rather
// than an absolute one (spec.md §6). Returns false if the room's mode
// doesn't resolve to a schedule at all (e.g. off).
func (e *Engine) ScheduledTarget(roomID string, now time.Time) (float64, bool) {
	for _, room := range e.cfg.Rooms {
		if room.ID != roomID {
			continue
		}
		resolved := scheduler.ResolveTarget(room, e.cfg.Schedules[roomID], e.roomModes[roomID], e.holiday, overrides.NewStore(), now)
		if resolved == nil {
			return 0, false
		}
		return resolved.Target, true
	}
	return 0, false
}

// RoomStatuses returns a copy of the status last published for every
// room, for the get_status API call.
func (e *Engine) RoomStatuses() map[string]status.RoomStatus {
	out := make(map[string]status.RoomStatus, len(e.lastRoomStatus))
	for k, v := range e.lastRoomStatus {
		out[k] = v
	}
	return out
}

// SystemStatusSnapshot returns the system-wide status last published.
func (e *Engine) SystemStatusSnapshot() status.SystemStatus { return e.lastSystemStatus }

// BurnerStarts returns the in-memory burner-start counter.
func (e *Engine) BurnerStarts() int { return e.burnerStarts }

// Close releases the optional telemetry collaborators.
func (e *Engine) Close() {
	if e.csv != nil {
		e.csv.Close()
	}
	if e.events != nil {
		e.events.Close()
	}
}
