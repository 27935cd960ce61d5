package sensors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/hydronic-controller/internal/model"
)

func testRoom() model.RoomConfig {
	return model.RoomConfig{
		ID: "living_room",
		Sensors: []model.SensorSpec{
			{EntityID: "sensor.lr_primary", Role: model.SensorPrimary, TimeoutMinutes: 30},
			{EntityID: "sensor.lr_primary_2", Role: model.SensorPrimary, TimeoutMinutes: 30},
			{EntityID: "sensor.lr_fallback", Role: model.SensorFallback, TimeoutMinutes: 30},
		},
	}
}

func TestRoomTemperature_MeansPrimarySensors(t *testing.T) {
	now := time.Now()
	m := NewManager()
	m.Observe("sensor.lr_primary", 20.0, now)
	m.Observe("sensor.lr_primary_2", 22.0, now)
	m.Observe("sensor.lr_fallback", 10.0, now)

	v, stale := m.RoomTemperature(testRoom(), now)
	assert.False(t, stale)
	assert.Equal(t, 21.0, v)
}

func TestRoomTemperature_FallsBackWhenPrimaryStale(t *testing.T) {
	now := time.Now()
	m := NewManager()
	m.Observe("sensor.lr_primary", 20.0, now.Add(-time.Hour))
	m.Observe("sensor.lr_fallback", 18.0, now)

	v, stale := m.RoomTemperature(testRoom(), now)
	assert.False(t, stale)
	assert.Equal(t, 18.0, v)
}

func TestRoomTemperature_StaleWhenNoneAvailable(t *testing.T) {
	now := time.Now()
	m := NewManager()

	_, stale := m.RoomTemperature(testRoom(), now)
	assert.True(t, stale)
}

func TestRoomTemperatureSmoothed_SeedsOnFirstObservation(t *testing.T) {
	now := time.Now()
	room := testRoom()
	room.Smoothing = &model.SmoothingSpec{Enabled: true, Alpha: 0.3}

	m := NewManager()
	m.Observe("sensor.lr_primary", 20.0, now)
	m.Observe("sensor.lr_primary_2", 20.0, now)

	v, stale := m.RoomTemperatureSmoothed(room, now)
	assert.False(t, stale)
	assert.Equal(t, 20.0, v)
}

func TestRoomTemperatureSmoothed_AppliesEMA(t *testing.T) {
	now := time.Now()
	room := testRoom()
	room.Smoothing = &model.SmoothingSpec{Enabled: true, Alpha: 0.5}

	m := NewManager()
	m.Observe("sensor.lr_primary", 20.0, now)
	m.Observe("sensor.lr_primary_2", 20.0, now)
	m.RoomTemperatureSmoothed(room, now) // seed at 20

	m.Observe("sensor.lr_primary", 24.0, now.Add(time.Minute))
	m.Observe("sensor.lr_primary_2", 24.0, now.Add(time.Minute))
	v, _ := m.RoomTemperatureSmoothed(room, now.Add(time.Minute))

	assert.Equal(t, 22.0, v) // 0.5*24 + 0.5*20
}

func TestRoomTemperatureSmoothed_AlphaClampedToUnitRange(t *testing.T) {
	now := time.Now()
	room := testRoom()
	room.Smoothing = &model.SmoothingSpec{Enabled: true, Alpha: 5.0}

	m := NewManager()
	m.Observe("sensor.lr_primary", 20.0, now)
	m.Observe("sensor.lr_primary_2", 20.0, now)
	m.RoomTemperatureSmoothed(room, now)

	m.Observe("sensor.lr_primary", 30.0, now.Add(time.Minute))
	m.Observe("sensor.lr_primary_2", 30.0, now.Add(time.Minute))
	v, _ := m.RoomTemperatureSmoothed(room, now.Add(time.Minute))

	assert.Equal(t, 30.0, v) // alpha clamped to 1 -> pure raw value
}

func TestRoomTemperatureSmoothed_DisabledReturnsRaw(t *testing.T) {
	now := time.Now()
	room := testRoom()

	m := NewManager()
	m.Observe("sensor.lr_primary", 19.5, now)
	m.Observe("sensor.lr_primary_2", 19.5, now)

	v, stale := m.RoomTemperatureSmoothed(room, now)
	assert.False(t, stale)
	assert.Equal(t, 19.5, v)
}

func TestReset_ClearsEMAState(t *testing.T) {
	now := time.Now()
	room := testRoom()
	room.Smoothing = &model.SmoothingSpec{Enabled: true, Alpha: 0.5}

	m := NewManager()
	m.Observe("sensor.lr_primary", 20.0, now)
	m.Observe("sensor.lr_primary_2", 20.0, now)
	m.RoomTemperatureSmoothed(room, now)

	m.Reset(room.ID)

	m.Observe("sensor.lr_primary", 30.0, now.Add(time.Minute))
	m.Observe("sensor.lr_primary_2", 30.0, now.Add(time.Minute))
	v, _ := m.RoomTemperatureSmoothed(room, now.Add(time.Minute))
	assert.Equal(t, 30.0, v) // re-seeded, not blended with stale 20.0
}
