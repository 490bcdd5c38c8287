package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/convlink/internal/protocol"
)

// TelemetryRecord is one stored telemetry frame.
type TelemetryRecord struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
	protocol.TelemetryFrame
	Raw []byte `json:"raw,omitempty"`
}

// RecordTelemetry stores frame as received at the given time and returns the
// new record's ID.
func (db *DB) RecordTelemetry(at time.Time, frame protocol.TelemetryFrame, raw []byte) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO telemetry (
			telemetry_id, ts_unix_nanos, low_voltage, high_voltage, current1,
			current2, aux, aux2, temperature, state, raw
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, toUnixNanos(at), frame.LowVoltage, frame.HighVoltage, frame.Current1,
		frame.Current2, frame.Aux, frame.Aux2, frame.Temperature, frame.State, raw,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record telemetry: %w", err)
	}
	return id, nil
}

const telemetryColumns = `telemetry_id, ts_unix_nanos, low_voltage, high_voltage, current1,
	current2, aux, aux2, temperature, state, raw`

// RecentTelemetry returns up to limit frames, newest first.
func (db *DB) RecentTelemetry(limit int) ([]TelemetryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.queryTelemetry(
		`SELECT `+telemetryColumns+` FROM telemetry ORDER BY ts_unix_nanos DESC LIMIT ?`,
		limit,
	)
}

// TelemetryBetween returns frames received in [start, end), oldest first.
func (db *DB) TelemetryBetween(start, end time.Time) ([]TelemetryRecord, error) {
	return db.queryTelemetry(
		`SELECT `+telemetryColumns+` FROM telemetry
		WHERE ts_unix_nanos >= ? AND ts_unix_nanos < ?
		ORDER BY ts_unix_nanos ASC`,
		toUnixNanos(start), toUnixNanos(end),
	)
}

func (db *DB) queryTelemetry(query string, args ...any) ([]TelemetryRecord, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TelemetryRecord
	for rows.Next() {
		var (
			r     TelemetryRecord
			nanos int64
		)
		if err := rows.Scan(
			&r.ID,
			&nanos,
			&r.LowVoltage,
			&r.HighVoltage,
			&r.Current1,
			&r.Current2,
			&r.Aux,
			&r.Aux2,
			&r.Temperature,
			&r.State,
			&r.Raw,
		); err != nil {
			return nil, err
		}
		r.Time = fromUnixNanos(nanos)
		records = append(records, r)
	}
	return records, rows.Err()
}
