package api

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/hydronic-controller/internal/bridge"
	"github.com/thatsimonsguy/hydronic-controller/internal/config"
	"github.com/thatsimonsguy/hydronic-controller/internal/engine"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
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
		System:              model.SystemConfig{FrostProtectionTempC: 7},
		PollIntervalSeconds: 60,
	}
}

func testServer(t *testing.T) *Server {
	t.Helper()
	b := bridge.NewMemory()
	b.SetState("climate.main_boiler", "off", map[string]string{"temperature": "50"}, true)
	b.SetState("sensor.kitchen_temp", "20.0", nil, true)
	b.RegisterService("number/set_value", func(kwargs map[string]any) (map[string]any, error) { return nil, nil })
	b.RegisterService("climate/set_hvac_mode", func(kwargs map[string]any) (map[string]any, error) { return nil, nil })

	eng := engine.New(testConfig(), b, engine.Options{EntityPrefix: "hydronic"})
	now := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	eng.Start(now)
	eng.RecomputeAll(now)

	return NewServer(eng)
}

func decodeResp(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleSetMode_RejectsUnknownMode(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(setModeRequest{Room: "kitchen", Mode: "bogus"}))
	req := httptest.NewRequest("POST", "/api/set_mode", &buf)

	s.handleSetMode(rec, req)

	resp := decodeResp(t, rec)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "mode must be one of")
}

func TestHandleSetMode_AppliesManualSetpoint(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	manual := 23.5
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(setModeRequest{Room: "kitchen", Mode: "manual", ManualSetpoint: &manual}))
	req := httptest.NewRequest("POST", "/api/set_mode", &buf)

	s.handleSetMode(rec, req)

	resp := decodeResp(t, rec)
	require.True(t, resp.Success)
	assert.Equal(t, model.RoomManual, s.eng.RoomMode("kitchen"))
	assert.Equal(t, manual, s.eng.Overrides().GetManualSetpoint("kitchen", 0))
}

func TestHandleOverride_RejectsBothTargetAndDelta(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	target, delta, minutes := 22.0, 1.0, 30.0
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(overrideRequest{Room: "kitchen", Target: &target, Delta: &delta, Minutes: &minutes}))
	req := httptest.NewRequest("POST", "/api/override", &buf)

	s.handleOverride(rec, req)

	resp := decodeResp(t, rec)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "exactly one of target or delta")
}

func TestHandleOverride_TargetWithMinutesSucceeds(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	target, minutes := 24.0, 45.0
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(overrideRequest{Room: "kitchen", Target: &target, Minutes: &minutes}))
	req := httptest.NewRequest("POST", "/api/override", &buf)

	s.handleOverride(rec, req)

	resp := decodeResp(t, rec)
	require.True(t, resp.Success)

	got, ok := s.eng.Overrides().GetActiveTarget("kitchen")
	require.True(t, ok)
	assert.Equal(t, target, got)
}

func TestHandleOverride_DeltaAddsToScheduledTarget(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	delta, minutes := 2.0, 30.0
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(overrideRequest{Room: "kitchen", Delta: &delta, Minutes: &minutes}))
	req := httptest.NewRequest("POST", "/api/override", &buf)

	s.handleOverride(rec, req)

	resp := decodeResp(t, rec)
	require.True(t, resp.Success)

	got, ok := s.eng.Overrides().GetActiveTarget("kitchen")
	require.True(t, ok)
	assert.Equal(t, 23.0, got)
}

func TestHandleCancelOverride(t *testing.T) {
	s := testServer(t)
	target, minutes := 25.0, 30.0
	_ = s.eng.Mutate(time.Now(), func() error {
		return s.eng.Overrides().SetActive(s.eng.Bridge(), "kitchen", target, time.Duration(minutes)*time.Minute, time.Now())
	})

	rec := httptest.NewRecorder()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(roomOnlyRequest{Room: "kitchen"}))
	req := httptest.NewRequest("POST", "/api/cancel_override", &buf)

	s.handleCancelOverride(rec, req)

	resp := decodeResp(t, rec)
	require.True(t, resp.Success)
	_, ok := s.eng.Overrides().GetActiveTarget("kitchen")
	assert.False(t, ok)
}

func TestHandleSetPassiveSettings_RejectsInvertedBand(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(setPassiveSettingsRequest{Room: "kitchen", MinTemp: 20, MaxTemp: 20, ValvePct: 10}))
	req := httptest.NewRequest("POST", "/api/set_passive_settings", &buf)

	s.handleSetPassiveSettings(rec, req)

	resp := decodeResp(t, rec)
	assert.False(t, resp.Success)
}

func TestHandleGetRooms(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/get_rooms", nil)

	s.handleGetRooms(rec, req)

	resp := decodeResp(t, rec)
	require.True(t, resp.Success)
}

func TestHandleGetStatus_ReflectsLastRecompute(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/get_status", nil)

	s.handleGetStatus(rec, req)

	resp := decodeResp(t, rec)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Data)
}

func TestHandleSetSettings_TogglesHoliday(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	holiday := true
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(setSettingsRequest{Holiday: &holiday}))
	req := httptest.NewRequest("POST", "/api/set_settings", &buf)

	s.handleSetSettings(rec, req)

	resp := decodeResp(t, rec)
	require.True(t, resp.Success)
	assert.True(t, s.eng.Holiday())
}

func TestRequireMethod_RejectsWrongVerb(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/set_mode", nil)

	s.handleSetMode(rec, req)

	assert.Equal(t, 405, rec.Code)
}
