package ramp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/hydronic-controller/internal/model"
)

func testCfg() model.SetpointRampSpec {
	return model.SetpointRampSpec{DeltaTriggerC: 2, DeltaIncreaseC: 2, MaxSetpointC: 60}
}

func TestTick_IncrementsOnTrigger(t *testing.T) {
	s := NewState(testCfg(), 50)

	setpoint, changed := s.Tick(true, true, true, true, 52.5) // flow >= 50+2
	assert.True(t, changed)
	assert.Equal(t, 52.0, setpoint)
	assert.Equal(t, model.RampRamping, s.RampState)
	assert.Equal(t, 1, s.StepsApplied)
}

func TestTick_CapsAtMaxSetpoint(t *testing.T) {
	s := NewState(testCfg(), 59)

	setpoint, changed := s.Tick(true, true, true, true, 62)
	assert.True(t, changed)
	assert.Equal(t, 60.0, setpoint)

	_, changed = s.Tick(true, true, true, true, 62)
	assert.False(t, changed) // already at cap
}

func TestTick_ResetsOnFlameOff(t *testing.T) {
	s := NewState(testCfg(), 50)
	s.Tick(true, true, true, true, 53)
	assert.Equal(t, model.RampRamping, s.RampState)

	setpoint, changed := s.Tick(true, true, true, false, 53)
	assert.True(t, changed)
	assert.Equal(t, 50.0, setpoint)
	assert.Equal(t, model.RampInactive, s.RampState)
}

func TestTick_ResetsWhenDisabled(t *testing.T) {
	s := NewState(testCfg(), 50)
	s.Tick(true, true, true, true, 53)

	setpoint, changed := s.Tick(false, true, true, true, 53)
	assert.True(t, changed)
	assert.Equal(t, 50.0, setpoint)
}

func TestTick_DoesNotProgressWhenBoilerOff(t *testing.T) {
	s := NewState(testCfg(), 50)
	_, changed := s.Tick(true, false, true, true, 60)
	assert.False(t, changed)
	assert.Equal(t, 50.0, s.CurrentRamped)
}

func TestSetBaseline_ResetsRamp(t *testing.T) {
	s := NewState(testCfg(), 50)
	s.Tick(true, true, true, true, 53)

	s.SetBaseline(45)
	assert.Equal(t, model.RampInactive, s.RampState)
	assert.Equal(t, 45.0, s.CurrentRamped)
}

func TestResumeFromReadback_ResumesRampingWhenAboveBaselineAndFlameOn(t *testing.T) {
	s := ResumeFromReadback(testCfg(), 50, 54, true)
	assert.Equal(t, model.RampRamping, s.RampState)
	assert.Equal(t, 54.0, s.CurrentRamped)
}

func TestResumeFromReadback_ResetsWhenFlameOff(t *testing.T) {
	s := ResumeFromReadback(testCfg(), 50, 54, false)
	assert.Equal(t, model.RampInactive, s.RampState)
	assert.Equal(t, 50.0, s.CurrentRamped)
}
