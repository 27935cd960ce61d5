// Package telemetry records the optional CSV-per-day log and a durable
// sqlite structured event log described in spec.md §6. Grounded on the
// teacher's db/db.go sql.Open("sqlite3", ...) usage for the event store,
// and on the bridge's atomic-append discipline for the CSV side (one
// file per day, header on first write, flush every append).
package telemetry

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Event is one row in the CSV log and the sqlite events table.
type Event struct {
	Timestamp        time.Time
	BoilerState      string
	FlameOn          bool
	BurnerStarts     int
	RoomID           string
	RoomMode         string
	RoomCalling      bool
	RoomValvePercent int
	HeatingTempC     float64
	ReturnTempC      float64
	CyclingState     string
	LoadSharingState string
	OutsideTempC     float64
}

// CSVWriter appends Events to one file per calendar day under dir,
// writing a header row on first write to a new file.
type CSVWriter struct {
	dir         string
	currentDay  string
	file        *os.File
	writer      *csv.Writer
}

func NewCSVWriter(dir string) *CSVWriter {
	return &CSVWriter{dir: dir}
}

var csvHeader = []string{
	"timestamp", "boiler_state", "flame_on", "burner_starts",
	"room_id", "room_mode", "room_calling", "room_valve_percent",
	"heating_temp_c", "return_temp_c", "cycling_state", "load_sharing_state",
	"outside_temp_c",
}

// Append writes one row, opening (and header-stamping) a new file when
// the calendar day rolls over.
func (w *CSVWriter) Append(e Event) error {
	day := e.Timestamp.Format("2006-01-02")
	if day != w.currentDay {
		if err := w.rotate(day); err != nil {
			return err
		}
	}

	row := []string{
		e.Timestamp.Format(time.RFC3339),
		e.BoilerState,
		boolStr(e.FlameOn),
		fmt.Sprintf("%d", e.BurnerStarts),
		e.RoomID,
		e.RoomMode,
		boolStr(e.RoomCalling),
		fmt.Sprintf("%d", e.RoomValvePercent),
		fmt.Sprintf("%.1f", e.HeatingTempC),
		fmt.Sprintf("%.1f", e.ReturnTempC),
		e.CyclingState,
		e.LoadSharingState,
		fmt.Sprintf("%.1f", e.OutsideTempC),
	}
	if err := w.writer.Write(row); err != nil {
		return err
	}
	w.writer.Flush()
	return w.writer.Error()
}

func (w *CSVWriter) rotate(day string) error {
	if w.file != nil {
		w.file.Close()
	}

	path := filepath.Join(w.dir, day+".csv")
	needsHeader := true
	if _, err := os.Stat(path); err == nil {
		needsHeader = false
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open telemetry csv: %w", err)
	}

	w.file = f
	w.writer = csv.NewWriter(f)
	w.currentDay = day

	if needsHeader {
		if err := w.writer.Write(csvHeader); err != nil {
			return err
		}
		w.writer.Flush()
	}
	return nil
}

func (w *CSVWriter) Close() error {
	if w.writer != nil {
		w.writer.Flush()
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// EventStore is the durable sqlite structured event log, independent of
// the CSV writer's per-day rollover — it accumulates the full history
// for later querying.
type EventStore struct {
	db *sql.DB
}

func OpenEventStore(path string) (*EventStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	s := &EventStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *EventStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	boiler_state TEXT NOT NULL,
	flame_on INTEGER NOT NULL,
	burner_starts INTEGER NOT NULL,
	room_id TEXT NOT NULL,
	room_mode TEXT NOT NULL,
	room_calling INTEGER NOT NULL,
	room_valve_percent INTEGER NOT NULL,
	heating_temp_c REAL NOT NULL,
	return_temp_c REAL NOT NULL,
	cycling_state TEXT NOT NULL,
	load_sharing_state TEXT NOT NULL,
	outside_temp_c REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_room ON events(room_id);
`)
	return err
}

func (s *EventStore) Record(e Event) error {
	_, err := s.db.Exec(`
INSERT INTO events (timestamp, boiler_state, flame_on, burner_starts, room_id, room_mode,
	room_calling, room_valve_percent, heating_temp_c, return_temp_c, cycling_state,
	load_sharing_state, outside_temp_c)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.Format(time.RFC3339), e.BoilerState, e.FlameOn, e.BurnerStarts,
		e.RoomID, e.RoomMode, e.RoomCalling, e.RoomValvePercent, e.HeatingTempC,
		e.ReturnTempC, e.CyclingState, e.LoadSharingState, e.OutsideTempC)
	return err
}

// CountSince returns the number of recorded events for room at or after
// since, used by callers wanting a cheap sanity check on log volume.
func (s *EventStore) CountSince(roomID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE room_id = ? AND timestamp >= ?`,
		roomID, since.Format(time.RFC3339)).Scan(&n)
	return n, err
}

func (s *EventStore) Close() error {
	return s.db.Close()
}
