// Package loadcalc estimates radiator capacity using the EN 442 rating
// formula (spec.md §4.8): P = P50 * ((mean_water_temp - room_temp)/50)^n.
// Estimates are documented as accurate only to roughly ±20-30% and exist
// purely for the load-sharing manager's comparison against a target
// capacity, not for precise energy accounting.
package loadcalc

import "math"

const defaultExponent = 1.3 // typical panel-radiator exponent per EN 442

// EstimateCapacityW returns the estimated heat output in watts for a
// radiator rated delta_t50 (P50) at the given mean water and room
// temperatures. A negative or zero delta clamps to zero output.
func EstimateCapacityW(p50, meanWaterTempC, roomTempC float64, exponent *float64) float64 {
	n := defaultExponent
	if exponent != nil {
		n = *exponent
	}
	delta := meanWaterTempC - roomTempC
	if delta <= 0 {
		return 0
	}
	return p50 * math.Pow(delta/50.0, n)
}

// MeanWaterTempC derives the mean radiator water temperature from the
// boiler's baseline flow setpoint and the configured system delta-T,
// per spec.md §4.8: mean = baseline_setpoint - system_delta_t/2.
func MeanWaterTempC(baselineSetpointC, systemDeltaT float64) float64 {
	return baselineSetpointC - systemDeltaT/2
}
