package bridge

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Memory is a fully in-process Bridge implementation. It is the default
// runtime adapter for this repo (the home-automation platform itself is
// an out-of-scope external collaborator per spec.md §1) and the fake
// used by every component's tests.
type Memory struct {
	mu sync.RWMutex

	states map[string]string
	attrs  map[string]map[string]string

	listeners map[string][]StateHandler
	timers    map[string]time.Time // named timer entity -> deadline
	services  map[string]ServiceHandler
	endpoints map[string]EndpointHandler

	history map[string][]StateRecord

	nextHandle int
}

func NewMemory() *Memory {
	return &Memory{
		states:    make(map[string]string),
		attrs:     make(map[string]map[string]string),
		listeners: make(map[string][]StateHandler),
		timers:    make(map[string]time.Time),
		services:  make(map[string]ServiceHandler),
		endpoints: make(map[string]EndpointHandler),
		history:   make(map[string][]StateRecord),
	}
}

func (m *Memory) GetState(entity string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[entity]
	return s, ok
}

func (m *Memory) GetAttribute(entity, attribute string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attrs[entity]
	if !ok {
		return "", false
	}
	v, ok := a[attribute]
	return v, ok
}

func (m *Memory) EntityExists(entity string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.states[entity]
	return ok
}

func (m *Memory) SetState(entity, state string, attrs map[string]string, replace bool) {
	m.mu.Lock()
	old := m.states[entity]
	m.states[entity] = state
	if replace || m.attrs[entity] == nil {
		m.attrs[entity] = attrs
	} else {
		for k, v := range attrs {
			m.attrs[entity][k] = v
		}
	}
	m.history[entity] = append(m.history[entity], StateRecord{State: state, Attrs: attrs, Timestamp: time.Now()})
	listeners := append([]StateHandler{}, m.listeners[entity]...)
	m.mu.Unlock()

	if old != state {
		for _, h := range listeners {
			h(entity, old, state)
		}
	}
}

func (m *Memory) CallService(domainService string, kwargs map[string]any) {
	m.mu.RLock()
	handler, ok := m.services[domainService]
	m.mu.RUnlock()
	if !ok {
		log.Debug().Str("service", domainService).Msg("call_service: no registered handler (fire-and-forget)")
		return
	}
	if _, err := handler(kwargs); err != nil {
		log.Warn().Err(err).Str("service", domainService).Msg("service call failed")
	}
}

func (m *Memory) RegisterEndpoint(name string, handler EndpointHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[name] = handler
}

func (m *Memory) RegisterService(name string, handler ServiceHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[name] = handler
}

func (m *Memory) ListenState(entity string, handler StateHandler) TimerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[entity] = append(m.listeners[entity], handler)
	m.nextHandle++
	return TimerHandle(entity)
}

// RunEvery and RunIn never call their handler: Memory has no scheduler,
// so a periodic or delayed callback registered here does not run. Named
// timers (StartTimer/TimerActive) are tracked against wall-clock
// deadlines instead, which is how the override store checks expiry.
func (m *Memory) RunEvery(start time.Time, interval time.Duration, handler TimerHandler) TimerHandle {
	return TimerHandle("")
}

func (m *Memory) RunIn(delay time.Duration, handler TimerHandler) TimerHandle {
	return TimerHandle("")
}

func (m *Memory) CancelTimer(handle TimerHandle) {}

func (m *Memory) TimerActive(timerEntity string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	deadline, ok := m.timers[timerEntity]
	if !ok {
		return false
	}
	return time.Now().Before(deadline)
}

func (m *Memory) StartTimer(timerEntity string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[timerEntity] = time.Now().Add(duration)
}

func (m *Memory) CancelNamedTimer(timerEntity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, timerEntity)
}

func (m *Memory) GetHistory(entity string, start, end time.Time) []StateRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StateRecord
	for _, r := range m.history[entity] {
		if !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
			out = append(out, r)
		}
	}
	return out
}

func (m *Memory) Log() Logger { return zerologAdapter{} }

type zerologAdapter struct{}

func (zerologAdapter) Debugf(format string, args ...any) { log.Debug().Msgf(format, args...) }
func (zerologAdapter) Infof(format string, args ...any)  { log.Info().Msgf(format, args...) }
func (zerologAdapter) Warnf(format string, args ...any)  { log.Warn().Msgf(format, args...) }
func (zerologAdapter) Errorf(format string, args ...any) { log.Error().Msgf(format, args...) }
