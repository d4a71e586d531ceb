// Package store keeps the ground station's local telemetry history in
// SQLite, so operators can inspect past passes without the dashboard online.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tm2space/tm2-manha-firmware/internal/ground/sink"
	"github.com/tm2space/tm2-manha-firmware/internal/telemetry"
)

//go:embed schema.sql
var schemaSQL string

const insertSQL = `
INSERT INTO telemetry (
  ts, received_at, v_p, i, s_v, b_v, lat, lng, alt, sats,
  a_x, a_y, a_z, uv, temp, pres, hum, lpm, cs_x, cs_y, cs_z, rssi, snr
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const latestSQL = `
SELECT ts, received_at, v_p, i, s_v, b_v, lat, lng, alt, sats,
       a_x, a_y, a_z, uv, temp, pres, hum, lpm, cs_x, cs_y, cs_z, rssi, snr
FROM telemetry ORDER BY ts DESC LIMIT ?`

// Store is a telemetry history backed by one SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at path and applies the
// schema. ":memory:" gives an ephemeral store for tests.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && !strings.HasPrefix(path, ":") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	dsn := path
	if !strings.HasPrefix(path, "file:") && !strings.HasPrefix(path, ":") {
		// busy_timeout helps with "database is locked" when an operator
		// queries the file while the station is writing.
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Name() string { return "store" }

// Publish inserts one envelope into the history.
func (s *Store) Publish(env sink.Envelope) error {
	r := env.Record
	_, err := s.db.Exec(insertSQL,
		r.Timestamp,
		env.ReceivedAt.UTC().Format(time.RFC3339Nano),
		r.BatteryPercent, r.Current, r.ShuntVoltage, r.BusVoltage,
		r.Latitude, r.Longitude, r.Altitude, r.Satellites,
		r.AccelX, r.AccelY, r.AccelZ,
		r.UV, r.Temperature, r.Pressure, r.Humidity,
		boolToInt(r.LowPower),
		r.CompassX, r.CompassY, r.CompassZ,
		env.RSSI, env.SNR,
	)
	if err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	return nil
}

// Latest returns up to limit envelopes, newest first.
func (s *Store) Latest(limit int) ([]sink.Envelope, error) {
	rows, err := s.db.Query(latestSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sink.Envelope
	for rows.Next() {
		var env sink.Envelope
		var r telemetry.Record
		var receivedAt string
		var lpm int
		err := rows.Scan(
			&r.Timestamp, &receivedAt,
			&r.BatteryPercent, &r.Current, &r.ShuntVoltage, &r.BusVoltage,
			&r.Latitude, &r.Longitude, &r.Altitude, &r.Satellites,
			&r.AccelX, &r.AccelY, &r.AccelZ,
			&r.UV, &r.Temperature, &r.Pressure, &r.Humidity,
			&lpm,
			&r.CompassX, &r.CompassY, &r.CompassZ,
			&env.RSSI, &env.SNR,
		)
		if err != nil {
			return nil, err
		}
		r.LowPower = lpm != 0
		env.Record = r
		if env.ReceivedAt, err = time.Parse(time.RFC3339Nano, receivedAt); err != nil {
			return nil, fmt.Errorf("parse received_at %q: %w", receivedAt, err)
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM telemetry`).Scan(&n)
	return n, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
