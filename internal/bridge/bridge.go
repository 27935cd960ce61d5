// Package bridge defines the collaborator interface the core needs from
// a home-automation host (spec.md §6). Any host implementing Bridge can
// drive the core; the core never talks to a platform directly.
package bridge

import "time"

// StateRecord is one entry from Bridge.History.
type StateRecord struct {
	State     string
	Attrs     map[string]string
	Timestamp time.Time
}

// TimerHandle identifies an in-flight run_in/run_every registration so it
// can be cancelled. The bridge owns the actual countdown; the core only
// ever holds the identity (spec.md §9 "Timers as external resources").
type TimerHandle string

// StateHandler is invoked on listen_state callbacks.
type StateHandler func(entity, oldState, newState string)

// TimerHandler is invoked when a run_in/run_every timer fires.
type TimerHandler func(now time.Time)

// ServiceHandler answers a register_service call.
type ServiceHandler func(payload map[string]any) (map[string]any, error)

// EndpointHandler answers a register_endpoint (HTTP) call.
type EndpointHandler func(payload map[string]any) (map[string]any, error)

// Bridge is the full external surface the core needs (spec.md §6).
type Bridge interface {
	GetState(entity string) (string, bool)
	GetAttribute(entity, attribute string) (string, bool)
	EntityExists(entity string) bool

	SetState(entity, state string, attrs map[string]string, replace bool)

	CallService(domainService string, kwargs map[string]any)

	RegisterEndpoint(name string, handler EndpointHandler)
	RegisterService(name string, handler ServiceHandler)

	ListenState(entity string, handler StateHandler) TimerHandle
	RunEvery(start time.Time, interval time.Duration, handler TimerHandler) TimerHandle
	RunIn(delay time.Duration, handler TimerHandler) TimerHandle
	CancelTimer(handle TimerHandle)

	// TimerActive reports whether a *named* bridge timer entity (as
	// opposed to a TimerHandle from RunIn/RunEvery) is currently
	// counting down. The FSM and overrides query named timer entities
	// this way because the bridge, not the core, is authoritative for
	// remaining duration (spec.md §9).
	TimerActive(timerEntity string) bool
	StartTimer(timerEntity string, duration time.Duration)
	CancelNamedTimer(timerEntity string)

	GetHistory(entity string, start, end time.Time) []StateRecord

	Log() Logger
}

// Logger is the bridge's logging sink.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
