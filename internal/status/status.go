// Package status publishes the derived system and per-room state to the
// bridge (spec.md §6's published entities) and to DataDog as gauges.
// Grounded on the teacher's internal/datadog/datadog.go dogstatsd client
// wrapper, generalized from a single Gauge helper to a full per-tick
// publish pass, and on the bridge's SetState contract for entity
// publication.
package status

import (
	"fmt"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/bridge"
)

// Publisher owns the optional DataDog client and the entity-name prefix
// used for bridge publication.
type Publisher struct {
	dogstatsd *statsd.Client
	prefix    string
}

func NewPublisher(prefix string) *Publisher {
	return &Publisher{prefix: prefix}
}

// InitMetrics wires the DogStatsD client; failure to connect degrades to
// bridge-only publication rather than aborting startup.
func (p *Publisher) InitMetrics(addr, namespace string, tags []string) {
	client, err := statsd.New(addr)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create dogstatsd client")
		return
	}
	client.Namespace = namespace
	client.Tags = tags
	p.dogstatsd = client
}

func (p *Publisher) gauge(name string, value float64, tags ...string) {
	if p.dogstatsd == nil {
		return
	}
	if err := p.dogstatsd.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("failed to emit gauge metric")
	}
}

// RoomStatus is the derived per-room view published each tick.
type RoomStatus struct {
	RoomID          string
	Mode            string
	TemperatureC    float64
	TargetC         float64
	State           string
	ValvePercent    int
	Calling         bool
	PassiveMaxTempC *float64
}

func (p *Publisher) PublishRoom(b bridge.Bridge, r RoomStatus) {
	b.SetState(fmt.Sprintf("sensor.%s_%s_temperature", p.prefix, r.RoomID),
		fmt.Sprintf("%.1f", r.TemperatureC), nil, true)
	b.SetState(fmt.Sprintf("sensor.%s_%s_target", p.prefix, r.RoomID),
		fmt.Sprintf("%.1f", r.TargetC), nil, true)
	b.SetState(fmt.Sprintf("sensor.%s_%s_state", p.prefix, r.RoomID), r.State, nil, true)
	b.SetState(fmt.Sprintf("sensor.%s_%s_valve_percent", p.prefix, r.RoomID),
		fmt.Sprintf("%d", r.ValvePercent), nil, true)
	b.SetState(fmt.Sprintf("binary_sensor.%s_%s_calling_for_heat", p.prefix, r.RoomID),
		boolState(r.Calling), nil, true)
	if r.PassiveMaxTempC != nil {
		b.SetState(fmt.Sprintf("sensor.%s_%s_passive_max_temp", p.prefix, r.RoomID),
			fmt.Sprintf("%.1f", *r.PassiveMaxTempC), nil, true)
	}

	p.gauge("room.temperature_c", r.TemperatureC, "room:"+r.RoomID)
	p.gauge("room.target_c", r.TargetC, "room:"+r.RoomID)
	p.gauge("room.valve_percent", float64(r.ValvePercent), "room:"+r.RoomID)
	callingVal := 0.0
	if r.Calling {
		callingVal = 1.0
	}
	p.gauge("room.calling", callingVal, "room:"+r.RoomID)
}

// SystemStatus is the derived system-wide view published each tick.
type SystemStatus struct {
	BoilerState      string
	AnyRoomCalling   bool
	CooldownActive   bool
	LoadSharingState string
	RampState        string
	RoomsCalling     []string
}

// Attrs bag keys match spec.md §6's "rich attribute bag" description.
func (p *Publisher) PublishSystem(b bridge.Bridge, s SystemStatus) {
	attrs := map[string]string{
		"boiler_state":       s.BoilerState,
		"load_sharing_state": s.LoadSharingState,
		"ramp_state":         s.RampState,
	}
	b.SetState(fmt.Sprintf("sensor.%s_status", p.prefix), s.BoilerState, attrs, true)
	b.SetState(fmt.Sprintf("binary_sensor.%s_calling_for_heat", p.prefix), boolState(s.AnyRoomCalling), nil, true)
	b.SetState(fmt.Sprintf("binary_sensor.%s_cooldown_active", p.prefix), boolState(s.CooldownActive), nil, true)

	callingVal := 0.0
	if s.AnyRoomCalling {
		callingVal = 1.0
	}
	p.gauge("system.calling_for_heat", callingVal)
	cooldownVal := 0.0
	if s.CooldownActive {
		cooldownVal = 1.0
	}
	p.gauge("system.cooldown_active", cooldownVal)
	p.gauge("system.rooms_calling_count", float64(len(s.RoomsCalling)))
}

func boolState(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
