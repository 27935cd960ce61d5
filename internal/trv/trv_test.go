package trv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/hydronic-controller/internal/bridge"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
)

func testTRV() model.TRVSpec { return model.TRVSpec{EntityID: "kitchen_trv"} }

func TestSetValve_RateLimitsRepeatCommand(t *testing.T) {
	b := bridge.NewMemory()
	c := NewController()
	trvSpec := testTRV()
	now := time.Now()

	c.SetValve(b, "kitchen", trvSpec, 50, now, false, 60)
	assert.NotNil(t, c.stateFor("kitchen").InFlight)

	c.stateFor("kitchen").InFlight = nil // simulate confirmed
	c.stateFor("kitchen").LastCommanded = 50
	c.stateFor("kitchen").LastUpdate = now

	// Within min_interval_s, a different pct should still be rate-limited.
	c.SetValve(b, "kitchen", trvSpec, 70, now.Add(10*time.Second), false, 60)
	assert.Nil(t, c.stateFor("kitchen").InFlight)
}

func TestSetValve_SameValueIsNoOp(t *testing.T) {
	b := bridge.NewMemory()
	c := NewController()
	trvSpec := testTRV()
	now := time.Now()

	c.stateFor("kitchen").LastCommanded = 40
	c.SetValve(b, "kitchen", trvSpec, 40, now, false, 60)
	assert.Nil(t, c.stateFor("kitchen").InFlight)
}

func TestSetValve_CorrectionBypassesRateLimit(t *testing.T) {
	b := bridge.NewMemory()
	c := NewController()
	trvSpec := testTRV()
	now := time.Now()

	c.stateFor("kitchen").LastCommanded = 40
	c.stateFor("kitchen").LastUpdate = now
	c.SetValve(b, "kitchen", trvSpec, 55, now.Add(time.Second), true, 60)
	assert.NotNil(t, c.stateFor("kitchen").InFlight)
	assert.Equal(t, 55, c.stateFor("kitchen").InFlight.TargetPct)
}

func TestTick_ConfirmsOnMatchingFeedback(t *testing.T) {
	b := bridge.NewMemory()
	c := NewController()
	trvSpec := testTRV()
	now := time.Now()

	c.SetValve(b, "kitchen", trvSpec, 60, now, false, 60)
	b.SetState(trvSpec.FeedbackEntity(), "61", nil, true)

	c.Tick(b, "kitchen", trvSpec, now.Add(11*time.Second))
	st := c.stateFor("kitchen")
	assert.Nil(t, st.InFlight)
	assert.Equal(t, 60, st.LastCommanded)
	assert.False(t, st.AlertRaised)
}

func TestTick_NoOpBeforeRetryInterval(t *testing.T) {
	b := bridge.NewMemory()
	c := NewController()
	trvSpec := testTRV()
	now := time.Now()

	c.SetValve(b, "kitchen", trvSpec, 60, now, false, 60)
	c.Tick(b, "kitchen", trvSpec, now.Add(2*time.Second))
	assert.NotNil(t, c.stateFor("kitchen").InFlight)
}

func TestTick_RetriesOnMismatchThenAlertsAfterMaxRetries(t *testing.T) {
	b := bridge.NewMemory()
	c := NewController()
	trvSpec := testTRV()
	now := time.Now()

	c.SetValve(b, "kitchen", trvSpec, 60, now, false, 60)
	b.SetState(trvSpec.FeedbackEntity(), "10", nil, true) // way off target

	t1 := now.Add(11 * time.Second)
	c.Tick(b, "kitchen", trvSpec, t1)
	st := c.stateFor("kitchen")
	assert.NotNil(t, st.InFlight)
	assert.Equal(t, 1, st.InFlight.Attempt)

	t2 := t1.Add(11 * time.Second)
	c.Tick(b, "kitchen", trvSpec, t2)
	assert.Equal(t, 2, st.InFlight.Attempt)

	t3 := t2.Add(11 * time.Second)
	c.Tick(b, "kitchen", trvSpec, t3)
	assert.Equal(t, 3, st.InFlight.Attempt)

	t4 := t3.Add(11 * time.Second)
	c.Tick(b, "kitchen", trvSpec, t4)
	assert.Nil(t, st.InFlight)
	assert.True(t, st.AlertRaised)
	assert.Equal(t, 10, st.LastCommanded) // actual recorded, not target
}

func TestOnFeedback_UnexpectedWhenNoCommandInFlight(t *testing.T) {
	c := NewController()
	c.stateFor("kitchen").LastCommanded = 40

	unexpected := c.OnFeedback("kitchen", 70, false)
	assert.True(t, unexpected)
	assert.True(t, c.ConsumeUnexpected("kitchen"))
	assert.False(t, c.ConsumeUnexpected("kitchen")) // consumed once
}

func TestOnFeedback_IgnoredWhenPersistenceActive(t *testing.T) {
	c := NewController()
	c.stateFor("kitchen").LastCommanded = 40
	unexpected := c.OnFeedback("kitchen", 70, true)
	assert.False(t, unexpected)
}

func TestOnFeedback_IgnoredWhenCommandInFlight(t *testing.T) {
	b := bridge.NewMemory()
	c := NewController()
	trvSpec := testTRV()
	now := time.Now()
	c.SetValve(b, "kitchen", trvSpec, 60, now, false, 60)

	unexpected := c.OnFeedback("kitchen", 10, false)
	assert.False(t, unexpected)
}

func TestLockSetpoint_CallsClimateService(t *testing.T) {
	b := bridge.NewMemory()
	called := false
	b.RegisterService("climate/set_temperature", func(payload map[string]any) (map[string]any, error) {
		called = true
		assert.Equal(t, 35.0, payload["temperature"])
		return nil, nil
	})
	LockSetpoint(b, testTRV())
	assert.True(t, called)
}
