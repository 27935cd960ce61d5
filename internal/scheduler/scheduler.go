// Package scheduler resolves a room's target temperature for a given
// instant (spec.md §4.2), combining room mode, overrides, holiday
// status, and the room's weekly schedule. It is grounded on the
// teacher's evaluateZoneActions precedence-cascade shape in
// internal/controllers/zonecontroller/zonecontroller.go, which
// similarly walks an ordered list of conditions and returns on the
// first that applies.
package scheduler

import (
	"time"

	"github.com/thatsimonsguy/hydronic-controller/internal/model"
	"github.com/thatsimonsguy/hydronic-controller/internal/overrides"
)

const frostFloorC = 5.0
const holidayTargetC = 16.0

// ResolveTarget implements the §4.2 precedence cascade. ovr may be nil
// only for rooms with no configured override store entry (treated as
// "no override").
func ResolveTarget(
	room model.RoomConfig,
	schedule model.RoomSchedule,
	mode model.RoomMode,
	holiday bool,
	ovr *overrides.Store,
	now time.Time,
) *model.Resolved {
	if ovr == nil {
		ovr = overrides.NewStore()
	}
	switch mode {
	case model.RoomOff:
		return nil

	case model.RoomManual:
		target := ovr.GetManualSetpoint(room.ID, schedule.DefaultTarget)
		return &model.Resolved{Target: target, OperatingMode: model.OperatingActive}

	case model.RoomPassive:
		maxT, valvePct, minT, ok := ovr.GetPassiveParams(room.ID)
		if !ok {
			return nil
		}
		if minT < frostFloorC {
			minT = frostFloorC
		}
		pct := valvePct
		return &model.Resolved{
			Target:        maxT,
			OperatingMode: model.OperatingPassive,
			ValvePercent:  &pct,
			MinTarget:     &minT,
		}
	}

	// model.RoomAuto from here down.
	if t, ok := ovr.GetActiveTarget(room.ID); ok {
		return &model.Resolved{Target: t, OperatingMode: model.OperatingActive}
	}

	if maxT, valvePct, minT, ok := ovr.GetPassiveParams(room.ID); ok {
		if minT < frostFloorC {
			minT = frostFloorC
		}
		pct := valvePct
		return &model.Resolved{
			Target:        maxT,
			OperatingMode: model.OperatingPassive,
			ValvePercent:  &pct,
			MinTarget:     &minT,
		}
	}

	if holiday {
		return &model.Resolved{Target: holidayTargetC, OperatingMode: model.OperatingActive}
	}

	return resolveScheduledBlock(schedule, now)
}

func resolveScheduledBlock(schedule model.RoomSchedule, now time.Time) *model.Resolved {
	blocks := schedule.Days[now.Weekday()]
	nowMinutes := now.Hour()*60 + now.Minute()

	for _, b := range blocks {
		start := parseHHMM(b.Start)
		end := parseHHMM(b.End)
		if withinBlock(nowMinutes, start, end) {
			mode := model.OperatingActive
			if b.Mode != nil && *b.Mode == model.RoomPassive {
				mode = model.OperatingPassive
			}
			return &model.Resolved{
				Target:        b.Target,
				OperatingMode: mode,
				ValvePercent:  b.ValvePct,
				MinTarget:     b.MinTarget,
				IsDefaultMode: false,
			}
		}
	}

	return &model.Resolved{
		Target:        schedule.DefaultTarget,
		OperatingMode: model.OperatingActive,
		IsDefaultMode: true,
	}
}

// withinBlock reports whether now lies in [start, end). A block with
// end <= start (one that would cross midnight) never matches; a block
// ending at "24:00" parses to end=1440 and runs to the end of the day.
func withinBlock(now, start, end int) bool {
	if end <= start {
		return false
	}
	return now >= start && now < end
}

func parseHHMM(s string) int {
	if len(s) < 4 {
		return 0
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h == 24 {
		return 1440
	}
	return h*60 + m
}

// NextChange scans up to one week ahead to find the next scheduled
// transition for a room, synthesising a transition to the day's default
// target at any gap boundary (spec.md §4.2).
func NextChange(schedule model.RoomSchedule, now time.Time) (at time.Time, target float64) {
	cursor := now
	for i := 0; i < 7*24*4; i++ { // scan in 15-minute steps for up to a week
		cursor = cursor.Add(15 * time.Minute)
		r := resolveScheduledBlock(schedule, cursor)
		prev := resolveScheduledBlock(schedule, cursor.Add(-15*time.Minute))
		if r.Target != prev.Target || r.OperatingMode != prev.OperatingMode {
			return cursor, r.Target
		}
	}
	return now.Add(7 * 24 * time.Hour), schedule.DefaultTarget
}
