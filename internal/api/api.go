// Package api implements the HTTP service surface from spec.md §6: the
// override/mode/schedule-mutation endpoints and the read-only
// get_rooms/get_schedules/get_status/get_settings calls. Grounded on the
// teacher's internal/api/api.go shape — a bare net/http.ServeMux with a
// hand-rolled CORS middleware and manual path-segment routing, no router
// dependency — carried unchanged since the pack never reaches for one.
// Handlers that change engine state (overrides, mode, settings) call
// engine.Mutate so the state change and the recompute it provokes happen
// atomically under the engine's own lock (spec.md §5); the handlers that
// rewrite or reload config files go through Config and then call
// TriggerRecompute.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/hydronic-controller/internal/engine"
	"github.com/thatsimonsguy/hydronic-controller/internal/model"
)

// Server wires the HTTP surface to one Engine.
type Server struct {
	eng *engine.Engine
}

func NewServer(eng *engine.Engine) *Server {
	return &Server{eng: eng}
}

// Response is the uniform {success, ...} envelope spec.md §6 requires
// of every service/HTTP call.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (s *Server) Start(port int) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/override", s.handleOverride)
	mux.HandleFunc("/api/override_passive", s.handleOverridePassive)
	mux.HandleFunc("/api/cancel_override", s.handleCancelOverride)
	mux.HandleFunc("/api/set_mode", s.handleSetMode)
	mux.HandleFunc("/api/set_passive_settings", s.handleSetPassiveSettings)
	mux.HandleFunc("/api/set_default_target", s.handleSetDefaultTarget)
	mux.HandleFunc("/api/replace_schedules", s.handleReplaceSchedules)
	mux.HandleFunc("/api/reload_config", s.handleReloadConfig)
	mux.HandleFunc("/api/get_rooms", s.handleGetRooms)
	mux.HandleFunc("/api/get_schedules", s.handleGetSchedules)
	mux.HandleFunc("/api/get_status", s.handleGetStatus)
	mux.HandleFunc("/api/get_settings", s.handleGetSettings)
	mux.HandleFunc("/api/set_settings", s.handleSetSettings)

	corsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		mux.ServeHTTP(w, r)
	})

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Info().Str("address", addr).Msg("starting REST API server")

	return http.ListenAndServe(addr, corsHandler)
}

// --- request payloads --------------------------------------------------

type overrideRequest struct {
	Room    string   `json:"room"`
	Target  *float64 `json:"target"`
	Delta   *float64 `json:"delta"`
	Minutes *float64 `json:"minutes"`
	EndTime *string  `json:"end_time"`
}

type overridePassiveRequest struct {
	Room     string   `json:"room"`
	MinTemp  float64  `json:"min_temp"`
	MaxTemp  float64  `json:"max_temp"`
	ValvePct int      `json:"valve_percent"`
	Minutes  *float64 `json:"minutes"`
	EndTime  *string  `json:"end_time"`
}

type roomOnlyRequest struct {
	Room string `json:"room"`
}

type setModeRequest struct {
	Room           string   `json:"room"`
	Mode           string   `json:"mode"`
	ManualSetpoint *float64 `json:"manual_setpoint"`
}

type setPassiveSettingsRequest struct {
	Room     string  `json:"room"`
	MaxTemp  float64 `json:"max_temp"`
	ValvePct int     `json:"valve_percent"`
	MinTemp  float64 `json:"min_temp"`
}

type setDefaultTargetRequest struct {
	Room   string  `json:"room"`
	Target float64 `json:"target"`
}

type setSettingsRequest struct {
	Holiday             *bool `json:"holiday"`
	PollIntervalSeconds *int  `json:"poll_interval_seconds"`
	SafeMode            *bool `json:"safe_mode"`
}

// --- handlers ------------------------------------------------------------

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req overrideRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Room == "" {
		writeFail(w, "room is required")
		return
	}
	if (req.Target == nil) == (req.Delta == nil) {
		writeFail(w, "exactly one of target or delta is required")
		return
	}
	if (req.Minutes == nil) == (req.EndTime == nil) {
		writeFail(w, "exactly one of minutes or end_time is required")
		return
	}

	now := time.Now()
	duration, err := resolveDuration(req.Minutes, req.EndTime, now)
	if err != nil {
		writeFail(w, err.Error())
		return
	}

	target := 0.0
	if req.Target != nil {
		target = *req.Target
	} else {
		if *req.Delta < -10 || *req.Delta > 10 {
			writeFail(w, "delta out of range [-10,10]")
			return
		}
		scheduled, ok := s.eng.ScheduledTarget(req.Room, now)
		if !ok {
			writeFail(w, "no scheduled target resolvable for room")
			return
		}
		target = scheduled + *req.Delta
	}

	err = s.eng.Mutate(now, func() error {
		return s.eng.Overrides().SetActive(s.eng.Bridge(), req.Room, target, duration, now)
	})
	if err != nil {
		writeFail(w, err.Error())
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleOverridePassive(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req overridePassiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Room == "" {
		writeFail(w, "room is required")
		return
	}
	if s.eng.RoomMode(req.Room) != model.RoomAuto {
		writeFail(w, "override_passive is only valid when the room is in auto mode")
		return
	}
	if (req.Minutes == nil) == (req.EndTime == nil) {
		writeFail(w, "exactly one of minutes or end_time is required")
		return
	}

	now := time.Now()
	duration, err := resolveDuration(req.Minutes, req.EndTime, now)
	if err != nil {
		writeFail(w, err.Error())
		return
	}

	err = s.eng.Mutate(now, func() error {
		return s.eng.Overrides().SetPassive(s.eng.Bridge(), req.Room, req.MinTemp, req.MaxTemp, req.ValvePct, duration, now)
	})
	if err != nil {
		writeFail(w, err.Error())
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleCancelOverride(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req roomOnlyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Room == "" {
		writeFail(w, "room is required")
		return
	}

	now := time.Now()
	_ = s.eng.Mutate(now, func() error {
		s.eng.Overrides().Cancel(s.eng.Bridge(), req.Room)
		return nil
	})
	writeOK(w, nil)
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req setModeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	mode := model.RoomMode(req.Mode)
	switch mode {
	case model.RoomAuto, model.RoomManual, model.RoomPassive, model.RoomOff:
	default:
		writeFail(w, "mode must be one of auto, manual, passive, off")
		return
	}

	now := time.Now()
	err := s.eng.Mutate(now, func() error {
		if mode == model.RoomManual && req.ManualSetpoint != nil {
			s.eng.Overrides().SetManualSetpoint(req.Room, *req.ManualSetpoint)
		}
		s.eng.SetRoomMode(req.Room, mode)
		return nil
	})
	if err != nil {
		writeFail(w, err.Error())
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleSetPassiveSettings(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req setPassiveSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MinTemp > req.MaxTemp-0.5 {
		writeFail(w, "min_temp must be <= max_temp - 0.5")
		return
	}
	if req.MinTemp < 8 || req.MinTemp > 20 {
		writeFail(w, "min_temp out of range [8,20]")
		return
	}
	if req.MaxTemp < 10 || req.MaxTemp > 30 {
		writeFail(w, "max_temp out of range [10,30]")
		return
	}
	if req.ValvePct < 0 || req.ValvePct > 100 {
		writeFail(w, "valve_percent out of range [0,100]")
		return
	}

	now := time.Now()
	err := s.eng.Mutate(now, func() error {
		// Validated atomically: a long (effectively permanent) passive
		// window rather than a new override.Store concept — set_mode to
		// "passive" is what actually switches operating mode; this call
		// only updates the window's bounds for a room already passive or
		// about to become passive.
		return s.eng.Overrides().SetPassive(s.eng.Bridge(), req.Room, req.MinTemp, req.MaxTemp, req.ValvePct, 100*365*24*time.Hour, now)
	})
	if err != nil {
		writeFail(w, err.Error())
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleSetDefaultTarget(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req setDefaultTargetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Target < 10 || req.Target > 35 {
		writeFail(w, "target out of range [10,35]")
		return
	}

	if err := s.eng.Config().SetDefaultTarget(req.Room, req.Target); err != nil {
		writeFail(w, err.Error())
		return
	}
	s.eng.TriggerRecompute(time.Now(), "set_default_target")
	writeOK(w, nil)
}

func (s *Server) handleReplaceSchedules(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	body, err := readRawBody(r)
	if err != nil {
		writeFail(w, err.Error())
		return
	}

	if err := s.eng.Config().ReplaceSchedules(body); err != nil {
		writeFail(w, err.Error())
		return
	}
	s.eng.TriggerRecompute(time.Now(), "replace_schedules")
	writeOK(w, nil)
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.eng.Config().Reload(); err != nil {
		writeFail(w, err.Error())
		return
	}
	s.eng.TriggerRecompute(time.Now(), "reload_config")
	writeOK(w, nil)
}

type roomSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mode string `json:"mode"`
}

func (s *Server) handleGetRooms(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	cfg := s.eng.Config()
	rooms := make([]roomSummary, 0, len(cfg.Rooms))
	for _, room := range cfg.Rooms {
		rooms = append(rooms, roomSummary{ID: room.ID, Name: room.Name, Mode: string(s.eng.RoomMode(room.ID))})
	}
	writeOK(w, rooms)
}

func (s *Server) handleGetSchedules(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeOK(w, s.eng.Config().Schedules)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	sys := s.eng.SystemStatusSnapshot()
	writeOK(w, map[string]any{
		"system": sys,
		"rooms":  s.eng.RoomStatuses(),
		"burner_starts": s.eng.BurnerStarts(),
		"holiday":       s.eng.Holiday(),
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	cfg := s.eng.Config()
	writeOK(w, map[string]any{
		"holiday":               s.eng.Holiday(),
		"poll_interval_seconds": cfg.PollIntervalSeconds,
		"safe_mode":             cfg.SafeMode,
	})
}

func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req setSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	now := time.Now()
	err := s.eng.Mutate(now, func() error {
		if req.Holiday != nil {
			s.eng.SetHoliday(*req.Holiday)
		}
		if req.PollIntervalSeconds != nil {
			s.eng.Config().PollIntervalSeconds = *req.PollIntervalSeconds
		}
		if req.SafeMode != nil {
			s.eng.Config().SafeMode = *req.SafeMode
		}
		return nil
	})
	if err != nil {
		writeFail(w, err.Error())
		return
	}
	writeOK(w, nil)
}

// --- helpers ---------------------------------------------------------------

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Success: false, Error: "method not allowed"})
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeFail(w, "invalid JSON payload")
		return false
	}
	return true
}

func readRawBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func writeFail(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: msg})
}

// resolveDuration implements the minutes|end_time exclusive-or contract
// shared by override and override_passive (spec.md §6).
func resolveDuration(minutes *float64, endTime *string, now time.Time) (time.Duration, error) {
	if minutes != nil {
		if *minutes <= 0 {
			return 0, fmt.Errorf("minutes must be positive")
		}
		return time.Duration(*minutes * float64(time.Minute)), nil
	}
	end, err := time.Parse(time.RFC3339, *endTime)
	if err != nil {
		return 0, fmt.Errorf("end_time must be RFC3339: %w", err)
	}
	if !end.After(now) {
		return 0, fmt.Errorf("end_time must be in the future")
	}
	return end.Sub(now), nil
}
