// Package loadsharing implements the two-tier opportunistic valve-opening
// manager from spec.md §4.8: when the naturally-calling rooms present too
// little radiator capacity to safely absorb the boiler's minimum output,
// additional rooms are pre-warmed to raise total system capacity.
// Grounded on the teacher's internal/controllers/buffercontroller.go style
// of a small owned-state machine driven by a single tick function and
// publishing a room->value map for a downstream coordinator to apply.
package loadsharing

import (
	"sort"
	"time"

	"github.com/thatsimonsguy/hydronic-controller/internal/loadcalc"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
)

const escalationStepPct = 10

// Participant is one room currently being load-shared.
type Participant struct {
	Tier        model.LoadSharingTier
	ValvePct    int
	ActivatedAt time.Time
	TargetTemp  float64
	Reason      string
}

// RoomSnapshot is the per-tick input the manager needs about one room.
type RoomSnapshot struct {
	ID                string
	Mode              model.RoomMode
	Calling            bool
	CurrentTempC       float64
	CurrentValvePct    int
	PassiveMaxTempC    *float64 // set when room is resolved in passive mode
	NextBlockIn        *time.Duration
	NextBlockTarget     float64
	FallbackPriority   *int
	DeltaT50           *float64
	RadiatorExponent   *float64
	OffDeltaC          float64 // room's hysteresis off_delta, for exit trigger E
	ScheduleLookaheadM int
}

// Manager owns the dynamic load-sharing state (spec.md §3).
type Manager struct {
	cfg model.BoilerLoadSharingSpec

	Active       bool
	Participants map[string]*Participant

	// TriggerRooms is the set of rooms that were naturally calling at the
	// moment load sharing entered (spec.md §3's "set of trigger rooms"),
	// used by exit trigger A.
	TriggerRooms map[string]bool

	fallbackCooldown map[string]time.Time // room -> eligible-again time
	clockNow         time.Time
}

func NewManager(cfg model.BoilerLoadSharingSpec) *Manager {
	return &Manager{
		cfg:              cfg,
		Participants:     make(map[string]*Participant),
		TriggerRooms:     make(map[string]bool),
		fallbackCooldown: make(map[string]time.Time),
	}
}

// targetCapacityW is the threshold escalation climbs toward, separate from
// the lower min_calling_capacity_w entry threshold (spec.md §4.8 selection
// cascade: "after each step, if total_system_capacity >= target_capacity_w,
// stop"). Falls back to the entry threshold for configs predating the
// field.
func (m *Manager) targetCapacityW() float64 {
	if m.cfg.TargetCapacityW > 0 {
		return m.cfg.TargetCapacityW
	}
	return m.cfg.MinCallingCapacityW
}

func callingRoomIDs(rooms map[string]RoomSnapshot) map[string]bool {
	set := make(map[string]bool, len(rooms))
	for id, r := range rooms {
		if r.Calling {
			set[id] = true
		}
	}
	return set
}

// Result is published to the valve coordinator as overrides.
type Result struct {
	Overrides map[string]int
}

// Tick evaluates entry/selection/exit for one recompute pass.
//
// callingCapacityW is the estimated capacity of rooms currently calling
// (at 100%); passiveCapacityW is the estimated capacity contributed by
// passive rooms weighted by their current valve percent. Entry is gated by
// min_calling_capacity_w; once participating, escalation climbs toward the
// higher target_capacity_w (targetCapacityW()).
func (m *Manager) Tick(now time.Time, rooms map[string]RoomSnapshot, cyclingCooldown bool, returnTempC, boilerSetpointC, meanWaterTempC float64, callingCapacityW, passiveCapacityW float64) Result {
	m.clockNow = now
	totalCapacity := callingCapacityW + passiveCapacityW

	m.reconcileExits(now, rooms)
	m.checkTriggerExits(rooms, totalCapacity)

	entryOK := totalCapacity < m.cfg.MinCallingCapacityW &&
		(cyclingCooldown || returnTempC >= boilerSetpointC-m.cfg.HighReturnDeltaC)

	if len(m.Participants) == 0 && !entryOK {
		m.Active = false
		return Result{Overrides: map[string]int{}}
	}

	if len(m.Participants) == 0 && entryOK {
		m.TriggerRooms = callingRoomIDs(rooms)
	}

	// One step per recompute: either escalate an already-participating room
	// by one band, or add the next eligible candidate at its initial
	// percent. Repeated recomputes (driven by the normal tick cadence)
	// converge on target_capacity_w without a single tick doing the whole
	// climb at once. Escalation climbs all the way to target_capacity_w,
	// not just the (lower) entry threshold — once participants exist it
	// keeps going even after entryOK itself turns false.
	if m.cfg.Mode != model.LoadSharingOff && totalCapacity < m.targetCapacityW() && (len(m.Participants) > 0 || entryOK) {
		m.escalateOrAdd(now, rooms, totalCapacity, meanWaterTempC)
	}

	m.Active = len(m.Participants) > 0

	overrides := make(map[string]int, len(m.Participants))
	for room, p := range m.Participants {
		overrides[room] = p.ValvePct
	}
	return Result{Overrides: overrides}
}

// checkTriggerExits implements exit triggers A and B (spec.md §4.8). Both
// clear the whole participant set at once, unlike the per-room checks in
// reconcileExits.
func (m *Manager) checkTriggerExits(rooms map[string]RoomSnapshot, totalCapacity float64) {
	if len(m.Participants) == 0 {
		return
	}

	// A: the rooms whose deficit triggered entry have all stopped calling.
	triggerRoomsStopped := len(m.TriggerRooms) > 0
	for id := range m.TriggerRooms {
		if r, ok := rooms[id]; ok && r.Calling {
			triggerRoomsStopped = false
			break
		}
	}

	// B: a room outside the original trigger set began calling on its own
	// and pushed capacity to target — bypasses min_activation_duration_s.
	additionalCalling := false
	for id, r := range rooms {
		if !r.Calling || m.TriggerRooms[id] {
			continue
		}
		if _, isParticipant := m.Participants[id]; isParticipant {
			continue
		}
		additionalCalling = true
		break
	}
	triggerB := additionalCalling && totalCapacity >= m.targetCapacityW()

	if triggerRoomsStopped || triggerB {
		for room := range m.Participants {
			delete(m.Participants, room)
		}
		m.TriggerRooms = map[string]bool{}
	}
}

// escalateOrAdd either escalates an existing participant by one step, or
// (if none can escalate further) adds the next eligible candidate.
func (m *Manager) escalateOrAdd(now time.Time, rooms map[string]RoomSnapshot, totalCapacity, meanWaterTempC float64) float64 {
	for room, p := range m.Participants {
		if p.ValvePct >= 100 {
			continue
		}
		snap, ok := rooms[room]
		if !ok {
			continue
		}
		from := p.ValvePct
		p.ValvePct += escalationStepPct
		if p.ValvePct > 100 {
			p.ValvePct = 100
		}
		delta := m.capacityDelta(snap, meanWaterTempC, from, p.ValvePct)
		return totalCapacity + delta
	}

	candidate := m.nextCandidate(rooms)
	if candidate == nil {
		return totalCapacity
	}
	snap := *candidate
	pct := m.cfg.InitialPct
	if pct <= 0 {
		pct = 50
	}
	m.Participants[snap.ID] = &Participant{
		Tier:        snap.tier,
		ValvePct:    pct,
		ActivatedAt: now,
		TargetTemp:  snap.NextBlockTarget,
		Reason:      snap.reason,
	}
	return totalCapacity + m.capacityDelta(snap.RoomSnapshot, meanWaterTempC, 0, pct)
}

type candidateRoom struct {
	RoomSnapshot
	tier   model.LoadSharingTier
	reason string
}

// nextCandidate applies the selection cascade: schedule tier first (sorted
// by soonest block), then fallback tier (passive rooms, then - Aggressive
// only - priority-ordered auto rooms), gated by the configured mode.
func (m *Manager) nextCandidate(rooms map[string]RoomSnapshot) *candidateRoom {
	var scheduleCandidates []candidateRoom

	for id, r := range rooms {
		if _, active := m.Participants[id]; active {
			continue
		}
		if r.Mode != model.RoomAuto || r.Calling {
			continue
		}
		roomLookaheadM := r.ScheduleLookaheadM
		if roomLookaheadM <= 0 {
			roomLookaheadM = 30
		}
		mult := m.cfg.LookaheadMultiplier
		if mult <= 0 {
			mult = 1
		}
		la := time.Duration(mult*float64(roomLookaheadM)) * time.Minute
		if r.NextBlockIn == nil || *r.NextBlockIn > la {
			continue
		}
		if r.NextBlockTarget <= r.CurrentTempC {
			continue
		}
		scheduleCandidates = append(scheduleCandidates, candidateRoom{r, model.TierSchedule, "schedule lookahead"})
	}
	if len(scheduleCandidates) > 0 {
		sort.Slice(scheduleCandidates, func(i, j int) bool {
			return *scheduleCandidates[i].NextBlockIn < *scheduleCandidates[j].NextBlockIn
		})
		c := scheduleCandidates[0]
		return &c
	}

	if m.cfg.Mode == model.LoadSharingConservative {
		return nil
	}

	var passive []candidateRoom
	for id, r := range rooms {
		if _, active := m.Participants[id]; active {
			continue
		}
		if r.PassiveMaxTempC == nil {
			continue
		}
		if !m.eligibleAfterCooldown(id) {
			continue
		}
		if r.CurrentTempC >= *r.PassiveMaxTempC {
			continue
		}
		passive = append(passive, candidateRoom{r, model.TierFallback, "passive fallback"})
	}
	if len(passive) > 0 {
		return &passive[0]
	}

	if m.cfg.Mode != model.LoadSharingAggressive {
		return nil
	}

	var priority []candidateRoom
	for id, r := range rooms {
		if _, active := m.Participants[id]; active {
			continue
		}
		if r.Mode != model.RoomAuto || r.FallbackPriority == nil {
			continue
		}
		if !m.eligibleAfterCooldown(id) {
			continue
		}
		priority = append(priority, candidateRoom{r, model.TierFallback, "priority fallback"})
	}
	if len(priority) == 0 {
		return nil
	}
	sort.Slice(priority, func(i, j int) bool {
		return *priority[i].FallbackPriority < *priority[j].FallbackPriority
	})
	return &priority[0]
}

func (m *Manager) eligibleAfterCooldown(room string) bool {
	until, ok := m.fallbackCooldown[room]
	if !ok {
		return true
	}
	if m.clockNow.After(until) || m.clockNow.Equal(until) {
		delete(m.fallbackCooldown, room)
		return true
	}
	return false
}

// capacityDelta estimates the change in the room's contributed capacity
// when its valve moves from fromPct to toPct, using the EN 442 estimate
// scaled linearly by opening percent (spec.md documents this whole
// estimate as accurate only to ±20-30%, so a linear opening/output
// relation is within that tolerance).
func (m *Manager) capacityDelta(r RoomSnapshot, meanWaterTempC float64, fromPct, toPct int) float64 {
	if r.DeltaT50 == nil {
		return 0
	}
	full := loadcalc.EstimateCapacityW(*r.DeltaT50, meanWaterTempC, r.CurrentTempC, r.RadiatorExponent)
	return full * float64(toPct-fromPct) / 100.0
}

// reconcileExits removes participants per the per-room exit triggers C-F.
// Triggers A and B clear the whole participant set at once and are handled
// by checkTriggerExits instead.
func (m *Manager) reconcileExits(now time.Time, rooms map[string]RoomSnapshot) {
	minDur := time.Duration(m.cfg.MinActivationDurationS) * time.Second
	fallbackTimeout := time.Duration(m.cfg.FallbackTimeoutS) * time.Second
	cooldown := time.Duration(m.cfg.FallbackCooldownS) * time.Second

	for room, p := range m.Participants {
		snap, exists := rooms[room]
		if !exists {
			delete(m.Participants, room)
			continue
		}
		elapsed := now.Sub(p.ActivatedAt)

		// D: fallback timeout — has its own dedicated timeout, evaluated
		// regardless of minDur (timeout thresholds are set well above it).
		if p.Tier == model.TierFallback && fallbackTimeout > 0 && elapsed > fallbackTimeout {
			delete(m.Participants, room)
			m.fallbackCooldown[room] = now.Add(cooldown)
			continue
		}

		if elapsed < minDur {
			continue // minimum activation time not yet elapsed (gates C, E and F; B and D bypass it)
		}

		// C: began naturally calling.
		if snap.Calling {
			delete(m.Participants, room)
			continue
		}
		// F: mode changed away from auto.
		if snap.Mode != model.RoomAuto {
			delete(m.Participants, room)
			continue
		}
		// E: reached pre-warm target + off_delta.
		if snap.CurrentTempC >= p.TargetTemp+snap.OffDeltaC {
			delete(m.Participants, room)
			continue
		}
	}
}
