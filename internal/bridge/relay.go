package bridge

import (
	"github.com/rs/zerolog/log"
)

// RelayPin maps a bridge entity name onto a physical GPIO relay, in the
// same {Number, ActiveHigh} shape the teacher's model.GPIOPin used.
type RelayPin struct {
	Number     int
	ActiveHigh bool
}

// RelayBridge decorates a Bridge with a set of hard-wired GPIO relays
// (grounded on the teacher's internal/gpio.Activate/Deactivate). Only
// entities present in the pins map are driven physically; everything
// else falls through to the wrapped Bridge unchanged. SafeMode disables
// the physical Set() call system-wide, matching the teacher's startup
// safety switch.
type RelayBridge struct {
	Bridge
	pins     map[string]RelayPin
	safeMode bool
}

func NewRelayBridge(inner Bridge, pins map[string]RelayPin, safeMode bool) *RelayBridge {
	r := &RelayBridge{Bridge: inner, pins: pins, safeMode: safeMode}
	// Every mapped relay starts driven off.
	for entity, pin := range pins {
		r.drive(entity, pin, false)
	}
	return r
}

func (r *RelayBridge) SetState(entity, state string, attrs map[string]string, replace bool) {
	r.Bridge.SetState(entity, state, attrs, replace)

	pin, ok := r.pins[entity]
	if !ok {
		return
	}
	active := state == "on" || state == "heat" || state == "open"
	r.drive(entity, pin, active)
}

func (r *RelayBridge) drive(entity string, pin RelayPin, active bool) {
	if r.safeMode {
		log.Warn().Str("entity", entity).Bool("active", active).Msg("safe mode enabled — relay set suppressed")
		return
	}

	level := active == pin.ActiveHigh
	drive := "dl"
	if level {
		drive = "dh"
	}
	if err := pinctrlSet(pin.Number, "op", "pn", drive); err != nil {
		log.Error().Err(err).Str("entity", entity).Int("pin", pin.Number).Msg("failed to drive relay pin")
	}
}

// ReadPinActive reports whether the relay mapped to entity is physically
// active, reading its GPIO level via pinctrl. An entity with no mapped
// pin reports false with no error.
func (r *RelayBridge) ReadPinActive(entity string) (bool, error) {
	pin, ok := r.pins[entity]
	if !ok {
		return false, nil
	}
	level, err := pinctrlReadLevel(pin.Number)
	if err != nil {
		return false, err
	}
	return level == pin.ActiveHigh, nil
}
