// Package sensors implements fusion and smoothing over a room's
// configured temperature sensors (spec.md §4.1). It is grounded on the
// teacher's internal/temperature/service.go staleness check
// (time.Since(reading.Timestamp) > threshold) and reading-cache shape,
// simplified to the primary/fallback-mean fusion policy this domain
// calls for rather than the teacher's statistical anomaly detector.
package sensors

import (
	"strconv"
	"time"

	"github.com/thatsimonsguy/hydronic-controller/internal/bridge"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
)

// Reading is the last observed value for one sensor entity.
type Reading struct {
	Value     float64
	Timestamp time.Time
}

// Manager holds per-entity last readings and per-room EMA residue. It
// is the single owner of this state (spec.md §3 "sensor manager").
type Manager struct {
	last   map[string]Reading
	smooth map[string]float64 // roomID -> EMA state
}

func NewManager() *Manager {
	return &Manager{
		last:   make(map[string]Reading),
		smooth: make(map[string]float64),
	}
}

// Observe records a raw sensor value read from the bridge. Callers
// supply the value already parsed from whatever attribute path the
// SensorSpec names; this package only tracks value+timestamp.
func (m *Manager) Observe(entityID string, value float64, now time.Time) {
	m.last[entityID] = Reading{Value: value, Timestamp: now}
}

// Refresh pulls current state for every sensor entity configured on the
// room from the bridge and records it. b.GetState is expected to return
// a numeric string (or the configured attribute, if TemperatureAttr is
// set); unparseable or missing values are simply not recorded, which
// falls through to staleness handling in RoomTemperature.
func (m *Manager) Refresh(b bridge.Bridge, room model.RoomConfig, now time.Time) {
	for _, s := range room.Sensors {
		var raw string
		var ok bool
		if s.TemperatureAttr != "" {
			raw, ok = b.GetAttribute(s.EntityID, s.TemperatureAttr)
		} else {
			raw, ok = b.GetState(s.EntityID)
		}
		if !ok {
			continue
		}
		v, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			continue
		}
		m.Observe(s.EntityID, v, now)
	}
}

// RoomTemperature implements the §4.1 fusion policy: mean of non-stale
// primary sensors if any exist, else mean of non-stale fallback
// sensors, else (none, true).
func (m *Manager) RoomTemperature(room model.RoomConfig, now time.Time) (value float64, isStale bool) {
	if v, ok := m.meanOfRole(room, model.SensorPrimary, now); ok {
		return v, false
	}
	if v, ok := m.meanOfRole(room, model.SensorFallback, now); ok {
		return v, false
	}
	return 0, true
}

func (m *Manager) meanOfRole(room model.RoomConfig, role model.SensorRole, now time.Time) (float64, bool) {
	var sum float64
	var n int
	for _, s := range room.Sensors {
		if s.Role != role {
			continue
		}
		r, ok := m.last[s.EntityID]
		if !ok {
			continue
		}
		age := now.Sub(r.Timestamp)
		if age > time.Duration(s.TimeoutMinutes)*time.Minute {
			continue
		}
		sum += r.Value
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// RoomTemperatureSmoothed applies the room's EMA (when enabled) over
// the fused raw temperature. The smoothed value is the single
// temperature used for both control and display (spec.md §4.1). No
// deadband is applied, here or anywhere else in this repository: a
// sensor change smaller than 0.5 * 10^-precision is not dropped, and
// every sensor state change reported by the bridge triggers a recompute.
func (m *Manager) RoomTemperatureSmoothed(room model.RoomConfig, now time.Time) (value float64, isStale bool) {
	raw, stale := m.RoomTemperature(room, now)
	if stale {
		return 0, true
	}
	if room.Smoothing == nil || !room.Smoothing.Enabled {
		return raw, false
	}

	alpha := room.Smoothing.Alpha
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	prev, seeded := m.smooth[room.ID]
	if !seeded {
		m.smooth[room.ID] = raw
		return raw, false
	}

	next := alpha*raw + (1-alpha)*prev
	m.smooth[room.ID] = next
	return next, false
}

// Reset clears a room's EMA state, so the next smoothed reading re-seeds
// from the raw value instead of blending with the old residue. The
// engine does not call it.
func (m *Manager) Reset(roomID string) {
	delete(m.smooth, roomID)
}
