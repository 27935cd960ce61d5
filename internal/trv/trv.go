// Package trv drives a room's thermostatic radiator valve per spec.md
// §4.10: rate-limited opening-degree commands, feedback confirmation
// with bounded retry, an unexpected-position watcher, and a setpoint
// lock so the TRV's own thermostat never competes with the opening
// command. Grounded on the teacher's internal/device/device.go
// CanToggle-style rate gate, generalized from a fixed min-on/min-off
// pair to a single min_interval_s and from a boolean toggle to a
// retry-with-feedback command.
//
// Feedback confirmation is driven by the engine's own recompute tick
// (spec.md §5: "the core never blocks on I/O" and recompute is the only
// writer of control state) rather than a bridge-scheduled callback — Tick
// is called every recompute and advances any in-flight command whose
// retry interval has elapsed.
package trv

import (
	"strconv"
	"time"

	"github.com/thatsimonsguy/hydronic-controller/internal/bridge"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
)

const (
	retryIntervalDefault     = 10 * time.Second
	feedbackToleranceDefault = 3
	maxRetriesDefault        = 3
	lockedSetpointC          = 35.0
)

// InFlight describes a command awaiting feedback confirmation.
type InFlight struct {
	TargetPct int
	Attempt   int
	SentAt    time.Time
}

// RoomState is the per-room TRV controller state (spec.md §3's
// valve_cmd_<room> key).
type RoomState struct {
	LastCommanded   int
	LastUpdate      time.Time
	InFlight        *InFlight
	UnexpectedNoted bool
	AlertRaised     bool
}

// Controller owns TRV state for all rooms.
type Controller struct {
	rooms map[string]*RoomState

	retryInterval     time.Duration
	feedbackTolerance int
	maxRetries        int
}

func NewController() *Controller {
	return &Controller{
		rooms:             make(map[string]*RoomState),
		retryInterval:     retryIntervalDefault,
		feedbackTolerance: feedbackToleranceDefault,
		maxRetries:        maxRetriesDefault,
	}
}

func (c *Controller) stateFor(room string) *RoomState {
	st, ok := c.rooms[room]
	if !ok {
		st = &RoomState{}
		c.rooms[room] = st
	}
	return st
}

// LockSetpoint forces the TRV's climate entity to the locked value so it
// never does its own thermostating (spec.md §4.10). Call at startup and
// periodically.
func LockSetpoint(b bridge.Bridge, trv model.TRVSpec) {
	b.CallService("climate/set_temperature", map[string]any{
		"entity_id":   trv.ClimateEntity(),
		"temperature": lockedSetpointC,
	})
}

// SetValve issues a command for room, subject to rate limiting (normal
// path) or bypassing it (correction path), per spec.md §4.10. A new
// command supersedes any command already in flight.
func (c *Controller) SetValve(b bridge.Bridge, room string, trv model.TRVSpec, pct int, now time.Time, isCorrection bool, minIntervalS int) {
	st := c.stateFor(room)

	if !isCorrection {
		if pct == st.LastCommanded {
			return
		}
		if now.Sub(st.LastUpdate) < time.Duration(minIntervalS)*time.Second {
			return
		}
	} else {
		b.Log().Infof("trv correction for %s: expected %d, forcing command", room, pct)
	}

	c.sendCommand(b, room, trv, pct, now, 0)
}

func (c *Controller) sendCommand(b bridge.Bridge, room string, trv model.TRVSpec, pct int, now time.Time, attempt int) {
	b.CallService("number/set_value", map[string]any{
		"entity_id": trv.CommandEntity(),
		"value":     pct,
	})

	st := c.stateFor(room)
	st.InFlight = &InFlight{TargetPct: pct, Attempt: attempt, SentAt: now}
}

// Tick advances any in-flight command for room whose retry interval has
// elapsed, checking feedback and retrying or alerting as needed. A no-op
// if no command is in flight or the interval hasn't elapsed.
func (c *Controller) Tick(b bridge.Bridge, room string, trv model.TRVSpec, now time.Time) {
	st := c.stateFor(room)
	if st.InFlight == nil {
		return
	}
	if now.Sub(st.InFlight.SentAt) < c.retryInterval {
		return
	}
	c.checkFeedback(b, room, trv, st.InFlight.TargetPct, now, st.InFlight.Attempt)
}

func (c *Controller) checkFeedback(b bridge.Bridge, room string, trv model.TRVSpec, target int, now time.Time, attempt int) {
	st := c.stateFor(room)

	raw, ok := b.GetState(trv.FeedbackEntity())
	actual := 0
	if ok {
		if v, err := strconv.Atoi(raw); err == nil {
			actual = v
		}
	}

	if abs(actual-target) <= c.feedbackTolerance {
		st.LastCommanded = target
		st.LastUpdate = now
		st.InFlight = nil
		st.AlertRaised = false
		return
	}

	if attempt >= c.maxRetries {
		st.LastCommanded = actual
		st.LastUpdate = now
		st.InFlight = nil
		st.AlertRaised = true
		b.Log().Warnf("trv %s failed to confirm position after %d retries: target=%d actual=%d", room, attempt, target, actual)
		return
	}

	c.sendCommand(b, room, trv, target, now, attempt+1)
}

// OnFeedback is the unexpected-position watcher for one feedback
// reading. If no command is in flight and persistence is not active, a
// feedback value diverging from last_commanded beyond tolerance is
// recorded for the coordinator to correct next tick. Nothing in the
// repository outside the tests calls it; the engine does not pass
// feedback events to it, so ConsumeUnexpected only reports flags set
// through a direct call.
func (c *Controller) OnFeedback(room string, feedbackPct int, persistenceActive bool) (unexpected bool) {
	st := c.stateFor(room)
	if persistenceActive || st.InFlight != nil {
		return false
	}
	if abs(feedbackPct-st.LastCommanded) > c.feedbackTolerance {
		st.UnexpectedNoted = true
		return true
	}
	return false
}

// ConsumeUnexpected clears and reports the unexpected-position flag so
// the coordinator applies a correction exactly once.
func (c *Controller) ConsumeUnexpected(room string) bool {
	st := c.stateFor(room)
	if st.UnexpectedNoted {
		st.UnexpectedNoted = false
		return true
	}
	return false
}

// LastCommanded returns the room's last confirmed opening percent.
func (c *Controller) LastCommanded(room string) int {
	return c.stateFor(room).LastCommanded
}

// FeedbackWithinTolerance reports whether room's TRV feedback currently
// agrees with its last confirmed commanded position, feeding the boiler
// FSM's TRVFeedbackOK input (spec.md §4.5). A command awaiting
// confirmation, or a missing feedback sensor, is treated as consistent —
// Tick/checkFeedback owns flagging an actual mismatch.
func (c *Controller) FeedbackWithinTolerance(b bridge.Bridge, room string, trv model.TRVSpec) bool {
	st := c.stateFor(room)
	if st.InFlight != nil {
		return true
	}
	raw, ok := b.GetState(trv.FeedbackEntity())
	if !ok {
		return true
	}
	actual, err := strconv.Atoi(raw)
	if err != nil {
		return true
	}
	return abs(actual-st.LastCommanded) <= c.feedbackTolerance
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
