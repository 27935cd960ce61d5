// Package model holds the shared domain types passed between components.
// No component owns another's state; these are the value types that flow
// through recompute as plain data. Config structs are immutable after
// load; dynamic state structs are each owned by exactly one component.
package model

import "time"

// RoomMode is the user-selected mode for a room.
type RoomMode string

const (
	RoomAuto    RoomMode = "auto"
	RoomManual  RoomMode = "manual"
	RoomPassive RoomMode = "passive"
	RoomOff     RoomMode = "off"
)

// OperatingMode is the runtime heating mode resolved at compute time,
// distinct from RoomMode.
type OperatingMode string

const (
	OperatingActive  OperatingMode = "active"
	OperatingPassive OperatingMode = "passive"
	OperatingFrost   OperatingMode = "frost_protection"
)

type SensorRole string

const (
	SensorPrimary  SensorRole = "primary"
	SensorFallback SensorRole = "fallback"
)

type SensorSpec struct {
	EntityID        string     `yaml:"entity_id"`
	Role            SensorRole `yaml:"role"`
	TimeoutMinutes  int        `yaml:"timeout_m"`
	TemperatureAttr string     `yaml:"temperature_attribute"`
}

type HysteresisSpec struct {
	OnDeltaC  float64 `yaml:"on_delta_c"`
	OffDeltaC float64 `yaml:"off_delta_c"`
}

// ValveBandSpec configures the stepped, hysteretic proportional valve-band
// controller. Threshold/percent fields are pointers so "unset" is
// distinguishable from zero and can cascade per spec.md §4.4.
type ValveBandSpec struct {
	Band1ErrorC     *float64 `yaml:"band_1_error"`
	Band1Percent    *int     `yaml:"band_1_percent"`
	Band2ErrorC     *float64 `yaml:"band_2_error"`
	Band2Percent    *int     `yaml:"band_2_percent"`
	Band0Percent    *int     `yaml:"band_0_percent"`
	BandMaxPercent  *int     `yaml:"band_max_percent"`
	StepHysteresisC float64  `yaml:"step_hysteresis_c"`
}

type ValveUpdateSpec struct {
	MinIntervalS int `yaml:"min_interval_s"`
}

type SmoothingSpec struct {
	Enabled bool    `yaml:"enabled"`
	Alpha   float64 `yaml:"alpha"`
}

type LoadSharingRoomSpec struct {
	ScheduleLookaheadM int  `yaml:"schedule_lookahead_m"`
	FallbackPriority   *int `yaml:"fallback_priority"`
}

// TRVSpec names the entities a room's thermostatic radiator valve exposes.
type TRVSpec struct {
	EntityID string `yaml:"entity_id"`
}

func (t TRVSpec) CommandEntity() string  { return "number." + t.EntityID + "_opening_degree" }
func (t TRVSpec) FeedbackEntity() string { return "sensor." + t.EntityID + "_fb_valve" }
func (t TRVSpec) ClimateEntity() string  { return "climate." + t.EntityID }

// RoomConfig is immutable after load.
type RoomConfig struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Precision   int             `yaml:"precision"`
	Sensors     []SensorSpec    `yaml:"sensors"`
	TRV         TRVSpec         `yaml:"trv"`
	Hysteresis  HysteresisSpec  `yaml:"hysteresis"`
	ValveBands  ValveBandSpec   `yaml:"valve_bands"`
	ValveUpdate ValveUpdateSpec `yaml:"valve_update"`
	Smoothing   *SmoothingSpec  `yaml:"smoothing"`
	DeltaT50    *float64        `yaml:"delta_t50"`
	RadiatorExp *float64        `yaml:"radiator_exponent"`
	LoadSharing LoadSharingRoomSpec `yaml:"load_sharing"`
}

// ScheduleBlock is one ordered block within a day.
type ScheduleBlock struct {
	Start     string    `yaml:"start"`
	End       string    `yaml:"end"`
	Target    float64   `yaml:"target"`
	Mode      *RoomMode `yaml:"mode"`
	ValvePct  *int      `yaml:"valve_percent"`
	MinTarget *float64  `yaml:"min_target"`
}

// RoomSchedule is mutable via the service API.
type RoomSchedule struct {
	RoomID              string                           `yaml:"-"`
	DefaultTarget        float64                         `yaml:"default_target"`
	DefaultMode          RoomMode                        `yaml:"default_mode"`
	DefaultValvePercent  *int                            `yaml:"default_valve_percent"`
	DefaultMinTemp       *float64                        `yaml:"default_min_temp"`
	Days                 map[time.Weekday][]ScheduleBlock `yaml:"-"`
}

type AntiCyclingSpec struct {
	MinOnTimeS  int `yaml:"min_on_time_s"`
	MinOffTimeS int `yaml:"min_off_time_s"`
	OffDelayS   int `yaml:"off_delay_s"`
}

type InterlockSpec struct {
	MinValveOpenPercent int `yaml:"min_valve_open_percent"`
}

type LoadMonitoringSpec struct {
	Enabled      bool    `yaml:"enabled"`
	SystemDeltaT float64 `yaml:"system_delta_t"`
	RadiatorExp  float64 `yaml:"radiator_exponent"`
}

type LoadSharingMode string

const (
	LoadSharingOff          LoadSharingMode = "off"
	LoadSharingConservative LoadSharingMode = "conservative"
	LoadSharingBalanced     LoadSharingMode = "balanced"
	LoadSharingAggressive   LoadSharingMode = "aggressive"
)

type BoilerLoadSharingSpec struct {
	Mode                   LoadSharingMode `yaml:"mode"`
	MinCallingCapacityW    float64         `yaml:"min_calling_capacity_w"`
	TargetCapacityW        float64         `yaml:"target_capacity_w"`
	HighReturnDeltaC       float64         `yaml:"high_return_delta_c"`
	LookaheadMultiplier    float64         `yaml:"lookahead_multiplier"`
	InitialPct             int             `yaml:"initial_pct"`
	EscalationStepPct      int             `yaml:"escalation_step_pct"`
	MinActivationDurationS int             `yaml:"min_activation_duration_s"`
	FallbackTimeoutS       int             `yaml:"fallback_timeout_s"`
	FallbackCooldownS      int             `yaml:"fallback_cooldown_s"`
}

type SetpointRampSpec struct {
	DeltaTriggerC  float64 `yaml:"delta_trigger_c"`
	DeltaIncreaseC float64 `yaml:"delta_increase_c"`
	MaxSetpointC   float64 `yaml:"max_setpoint_c"`
}

type CooldownSpec struct {
	HighDeltaC        float64 `yaml:"high_delta_c"`
	RecoveryDeltaC    float64 `yaml:"recovery_delta_c"`
	RecoveryMinC      float64 `yaml:"recovery_min_c"`
	RecoveryIntervalS int     `yaml:"recovery_interval_s"`
	MaxDurationS      int     `yaml:"max_duration_s"`
	SettlingDelayS    int     `yaml:"settling_delay_s"`
	ExcessiveWindowS  int     `yaml:"excessive_window_s"`
	ExcessiveCount    int     `yaml:"excessive_count"`
	ForcedSetpointC   float64 `yaml:"forced_setpoint_c"`
}

type BoilerConfig struct {
	EntityID       string                `yaml:"entity_id"`
	PumpOverrunS   int                   `yaml:"pump_overrun_s"`
	AntiCycling    AntiCyclingSpec       `yaml:"anti_cycling"`
	Interlock      InterlockSpec         `yaml:"interlock"`
	SafetyRoom     *string               `yaml:"safety_room"`
	LoadMonitoring LoadMonitoringSpec    `yaml:"load_monitoring"`
	LoadSharing    BoilerLoadSharingSpec `yaml:"load_sharing"`
	SetpointRamp   SetpointRampSpec      `yaml:"setpoint_ramp"`
	Cooldown       CooldownSpec          `yaml:"cooldown"`
}

type SystemConfig struct {
	FrostProtectionTempC float64 `yaml:"frost_protection_temp_c"`
}

func (b BoilerConfig) ClimateEntity() string    { return "climate." + b.EntityID }
func (b BoilerConfig) FlameEntity() string      { return "binary_sensor." + b.EntityID + "_flame" }
func (b BoilerConfig) ReturnTempEntity() string { return "sensor." + b.EntityID + "_return_temp" }
func (b BoilerConfig) FlowTempEntity() string   { return "sensor." + b.EntityID + "_flow_temp" }
func (b BoilerConfig) DHWActiveEntity() string  { return "binary_sensor." + b.EntityID + "_dhw_active" }

// RoomDynamicState is owned by the room controller.
type RoomDynamicState struct {
	Calling             bool
	CurrentBand         int // 0, 1, 2, or BandMax
	LastCommandedValve  int
	LastTarget          float64
	FrostActive         bool
	FrostAlerted        bool
	PassiveOpen         bool
}

// BandMax is the sentinel CurrentBand value meaning "the uncapped top band".
const BandMax = -1

// ActiveOverride is a temporary forced target.
type ActiveOverride struct {
	Target   float64
	Deadline time.Time
}

// PassiveOverride is a temporary passive-mode window.
type PassiveOverride struct {
	Min      float64
	Max      float64
	ValvePct int
	Deadline time.Time
}

type BoilerFSMState string

const (
	BoilerOff              BoilerFSMState = "OFF"
	BoilerPendingOn        BoilerFSMState = "PENDING_ON"
	BoilerOn               BoilerFSMState = "ON"
	BoilerPendingOff       BoilerFSMState = "PENDING_OFF"
	BoilerPumpOverrun      BoilerFSMState = "PUMP_OVERRUN"
	BoilerInterlockBlocked BoilerFSMState = "INTERLOCK_BLOCKED"
)

type CyclingState string

const (
	CyclingNormal   CyclingState = "NORMAL"
	CyclingCooldown CyclingState = "COOLDOWN"
	CyclingTimeout  CyclingState = "TIMEOUT"
)

type RampState string

const (
	RampInactive RampState = "INACTIVE"
	RampRamping  RampState = "RAMPING"
)

type LoadSharingTier string

const (
	TierSchedule LoadSharingTier = "schedule"
	TierFallback LoadSharingTier = "fallback"
)

// Resolved is the outcome of scheduler.ResolveTarget.
type Resolved struct {
	Target        float64
	OperatingMode OperatingMode
	ValvePercent  *int
	MinTarget     *float64
	IsDefaultMode bool
}
