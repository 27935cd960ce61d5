package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hydronic-controller/internal/bridge"
	"github.com/thatsimonsguy/hydronic-controller/internal/config"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
	"github.com/thatsimonsguy/hydronic-controller/internal/persistence"
)

func testConfig() *config.Config {
	bandMax := 100
	return &config.Config{
		Rooms: []model.RoomConfig{
			{
				ID: "kitchen", Name: "Kitchen", Precision: 1,
				Sensors:     []model.SensorSpec{{EntityID: "sensor.kitchen_temp", Role: model.SensorPrimary, TimeoutMinutes: 30}},
				TRV:         model.TRVSpec{EntityID: "kitchen_trv"},
				Hysteresis:  model.HysteresisSpec{OnDeltaC: 0.3, OffDeltaC: 0.3},
				ValveBands:  model.ValveBandSpec{BandMaxPercent: &bandMax, StepHysteresisC: 0.2},
				ValveUpdate: model.ValveUpdateSpec{MinIntervalS: 30},
			},
		},
		Schedules: map[string]model.RoomSchedule{
			"kitchen": {RoomID: "kitchen", DefaultTarget: 21.0, DefaultMode: model.RoomAuto, Days: map[time.Weekday][]model.ScheduleBlock{}},
		},
		Boiler: model.BoilerConfig{
			EntityID:    "main_boiler",
			AntiCycling: model.AntiCyclingSpec{MinOnTimeS: 300, MinOffTimeS: 300, OffDelayS: 60},
			Interlock:   model.InterlockSpec{MinValveOpenPercent: 15},
			Cooldown: model.CooldownSpec{
				HighDeltaC: 5, RecoveryDeltaC: 10, RecoveryMinC: 30, RecoveryIntervalS: 60,
				MaxDurationS: 1800, ExcessiveWindowS: 3600, ExcessiveCount: 3, ForcedSetpointC: 30,
			},
		},
		System: model.SystemConfig{FrostProtectionTempC: 7},
	}
}

func TestRecomputeAll_ColdRoomCommandsValveAndBoilerOn(t *testing.T) {
	b := bridge.NewMemory()
	b.SetState("climate.main_boiler", "off", map[string]string{"temperature": "50"}, true)
	b.SetState("sensor.kitchen_temp", "15.0", nil, true)

	var lastValvePct int
	b.RegisterService("number/set_value", func(kwargs map[string]any) (map[string]any, error) {
		lastValvePct = kwargs["value"].(int)
		return nil, nil
	})
	var hvacMode string
	b.RegisterService("climate/set_hvac_mode", func(kwargs map[string]any) (map[string]any, error) {
		hvacMode = kwargs["hvac_mode"].(string)
		return nil, nil
	})

	e := New(testConfig(), b, Options{EntityPrefix: "hydronic"})
	now := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	e.Start(now)

	e.RecomputeAll(now)

	assert.Equal(t, model.BoilerOn, e.BoilerState())
	assert.Equal(t, "heat", hvacMode)
	assert.Equal(t, 100, lastValvePct)

	state, ok := b.GetState("sensor.hydronic_kitchen_state")
	require.True(t, ok)
	assert.Equal(t, "calling", state)

	callingState, ok := b.GetState("binary_sensor.hydronic_calling_for_heat")
	require.True(t, ok)
	assert.Equal(t, "on", callingState)
}

func TestRecomputeAll_NoCallingRoomsLeavesBoilerOff(t *testing.T) {
	b := bridge.NewMemory()
	b.SetState("climate.main_boiler", "off", map[string]string{"temperature": "50"}, true)
	b.SetState("sensor.kitchen_temp", "22.0", nil, true)

	e := New(testConfig(), b, Options{EntityPrefix: "hydronic"})
	now := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	e.Start(now)

	e.RecomputeAll(now)

	assert.Equal(t, model.BoilerOff, e.BoilerState())
}

func TestRecomputeAll_PersistsStateAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	stateStore := persistence.New(dir + "/state.json")

	b := bridge.NewMemory()
	b.SetState("climate.main_boiler", "off", map[string]string{"temperature": "50"}, true)
	b.SetState("sensor.kitchen_temp", "15.0", nil, true)

	cfg := testConfig()
	e := New(cfg, b, Options{EntityPrefix: "hydronic", StateStore: stateStore})
	now := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	e.Start(now)
	e.RecomputeAll(now)

	e2 := New(cfg, b, Options{EntityPrefix: "hydronic", StateStore: stateStore})
	e2.Start(now.Add(time.Minute))

	calling, _, lastValve, _, _ := e2.roomCtl.Snapshot("kitchen")
	assert.True(t, calling)
	assert.Equal(t, 100, lastValve)
}

func TestSetRoomMode_OffRoomStopsCalling(t *testing.T) {
	b := bridge.NewMemory()
	b.SetState("climate.main_boiler", "off", map[string]string{"temperature": "50"}, true)
	b.SetState("sensor.kitchen_temp", "15.0", nil, true)

	e := New(testConfig(), b, Options{EntityPrefix: "hydronic"})
	now := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	e.Start(now)
	e.SetRoomMode("kitchen", model.RoomOff)

	e.RecomputeAll(now)

	assert.Equal(t, model.BoilerOff, e.BoilerState())
}
