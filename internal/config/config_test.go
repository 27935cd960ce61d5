package config

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/hydronic-controller/internal/model"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected zerolog.Level
	}{
		{"default to info", "", zerolog.InfoLevel},
		{"debug", "debug", zerolog.DebugLevel},
		{"warn", "warn", zerolog.WarnLevel},
		{"error", "error", zerolog.ErrorLevel},
		{"unknown", "weird", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual := parseLogLevel(tt.input)
			assert.Equal(t, tt.expected, actual)
		})
	}
}

func baseValidConfig() *Config {
	return &Config{
		Rooms: []model.RoomConfig{
			{
				ID:      "living_room",
				Sensors: []model.SensorSpec{{EntityID: "sensor.living_room_temp", TimeoutMinutes: 30}},
				Hysteresis: model.HysteresisSpec{OnDeltaC: 0.3, OffDeltaC: 0.3},
			},
		},
		Boiler: model.BoilerConfig{
			EntityID:  "switch.boiler_demand",
			Interlock: model.InterlockSpec{MinValveOpenPercent: 15},
		},
		System: model.SystemConfig{FrostProtectionTempC: 7},
	}
}

func TestConfigValidate_Valid(t *testing.T) {
	cfg := baseValidConfig()
	assert.NoError(t, cfg.validate())
}

func TestConfigValidate_DuplicateRoomID(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Rooms = append(cfg.Rooms, cfg.Rooms[0])

	err := cfg.validate()
	assert.ErrorContains(t, err, `duplicate room id "living_room"`)
}

func TestConfigValidate_SensorSharedAcrossRooms(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Rooms = append(cfg.Rooms, model.RoomConfig{
		ID:         "hallway",
		Sensors:    []model.SensorSpec{{EntityID: "sensor.living_room_temp", TimeoutMinutes: 30}},
		Hysteresis: model.HysteresisSpec{OnDeltaC: 0.3, OffDeltaC: 0.3},
	})

	err := cfg.validate()
	assert.ErrorContains(t, err, "used by both room")
}

func TestConfigValidate_BandOrdering(t *testing.T) {
	cfg := baseValidConfig()
	b1, b2 := 1.0, 0.5
	cfg.Rooms[0].ValveBands = model.ValveBandSpec{Band1ErrorC: &b1, Band2ErrorC: &b2}

	err := cfg.validate()
	assert.ErrorContains(t, err, "band_2_error must exceed band_1_error")
}

func TestConfigValidate_DeltaT50RequiredWithLoadMonitoring(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Boiler.LoadMonitoring.Enabled = true

	err := cfg.validate()
	assert.ErrorContains(t, err, "delta_t50 required")
}

func TestConfigValidate_FrostTempOutOfRange(t *testing.T) {
	cfg := baseValidConfig()
	cfg.System.FrostProtectionTempC = 20

	err := cfg.validate()
	assert.ErrorContains(t, err, "out of range")
}

func TestConfigValidate_UnknownSafetyRoom(t *testing.T) {
	cfg := baseValidConfig()
	safety := "nonexistent"
	cfg.Boiler.SafetyRoom = &safety

	err := cfg.validate()
	assert.ErrorContains(t, err, "is not a configured room")
}

func TestFieldNames(t *testing.T) {
	names := fieldNames(model.HysteresisSpec{})
	assert.Equal(t, []string{"OnDeltaC", "OffDeltaC"}, names)
}
