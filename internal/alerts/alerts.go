// Package alerts is the alert manager from spec.md §4.11's propagation
// policy: recoverable conditions are debounced (N consecutive raises
// before a notification actually fires), rate-limited per kind per hour,
// and auto-cleared once the underlying condition resolves. Grounded on
// the teacher's internal/notifications/notifications.go ntfy.sh HTTP
// push, generalized with the debounce/rate-limit/auto-clear bookkeeping
// the teacher's fire-and-forget Send lacked.
package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultDebounceConsecutive = 3
const defaultRateLimitWindow = time.Hour

// Kind identifies an alert category for rate-limiting and auto-clear.
type Kind string

const (
	KindTRVFeedback      Kind = "trv_feedback"
	KindBoilerControl    Kind = "boiler_control"
	KindCooldownTimeout  Kind = "cooldown_timeout"
	KindExcessiveCycling Kind = "excessive_cycling"
	KindSafetyRoom       Kind = "safety_room"
	KindFrostProtection  Kind = "frost_protection"
	KindConfigReload     Kind = "config_reload"
)

type kindState struct {
	consecutive int
	active      bool
	lastSentAt  time.Time
}

// Manager owns per-kind/per-key debounce and rate-limit state.
type Manager struct {
	client *http.Client
	topic  string
	ready  bool

	debounceConsecutive int
	rateLimitWindow     time.Duration

	state map[string]*kindState // "kind:key" -> state
}

func NewManager() *Manager {
	return &Manager{
		debounceConsecutive: defaultDebounceConsecutive,
		rateLimitWindow:     defaultRateLimitWindow,
		state:               make(map[string]*kindState),
	}
}

// Init wires the ntfy.sh push target. A disabled manager (empty topic)
// still does debounce/auto-clear bookkeeping and logs instead of pushing.
func (m *Manager) Init(ntfyTopic string) {
	if ntfyTopic == "" {
		log.Warn().Msg("ntfy topic not configured - alerts will log only")
		return
	}
	m.client = &http.Client{Timeout: 10 * time.Second}
	m.topic = ntfyTopic
	m.ready = true
}

func stateKey(kind Kind, key string) string {
	if key == "" {
		return string(kind)
	}
	return string(kind) + ":" + key
}

// Raise records one occurrence of a recoverable condition. After
// debounceConsecutive consecutive raises (without an intervening Clear),
// it fires a notification, subject to the per-kind-per-hour rate limit.
// key disambiguates per-room alerts of the same kind (e.g. room id);
// pass "" for system-wide kinds.
func (m *Manager) Raise(now time.Time, kind Kind, key, title, message string) {
	st := m.stateFor(kind, key)
	st.consecutive++

	if st.consecutive < m.debounceConsecutive {
		return
	}
	if st.active && now.Sub(st.lastSentAt) < m.rateLimitWindow {
		return
	}

	st.active = true
	st.lastSentAt = now
	m.send(title, message)
}

// Clear resolves the condition: resets the debounce counter and, if the
// alert was active, sends a clear notification.
func (m *Manager) Clear(kind Kind, key, title string) {
	st := m.stateFor(kind, key)
	wasActive := st.active
	st.consecutive = 0
	st.active = false
	if wasActive {
		m.send(title, "condition cleared")
	}
}

// Active reports whether an alert of this kind/key is currently raised.
func (m *Manager) Active(kind Kind, key string) bool {
	return m.stateFor(kind, key).active
}

func (m *Manager) stateFor(kind Kind, key string) *kindState {
	k := stateKey(kind, key)
	st, ok := m.state[k]
	if !ok {
		st = &kindState{}
		m.state[k] = st
	}
	return st
}

func (m *Manager) send(title, message string) {
	if !m.ready {
		log.Warn().Str("title", title).Str("message", message).Msg("alert (notifications disabled)")
		return
	}

	url := fmt.Sprintf("https://ntfy.sh/%s", m.topic)
	payload := map[string]any{"topic": m.topic, "title": title, "message": message}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal alert payload")
		return
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(body))
	if err != nil {
		log.Error().Err(err).Msg("failed to build alert request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("failed to send alert")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Int("status", resp.StatusCode).Msg("ntfy returned non-success status")
		return
	}

	log.Debug().Str("title", title).Msg("alert sent")
}
