package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Setpoint is the last current reference sent to the converter.
type Setpoint struct {
	CurrentAmps  float64   `json:"current_amps"`
	ReferenceADC int       `json:"reference_adc"`
	OffsetADC    int       `json:"offset_adc"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SaveSetpoint replaces the stored set-point.
func (db *DB) SaveSetpoint(sp Setpoint) error {
	_, err := db.Exec(
		`INSERT INTO setpoint (setpoint_id, current_amps, reference_adc, offset_adc, updated_unix_nanos)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (setpoint_id) DO UPDATE SET
			current_amps = excluded.current_amps,
			reference_adc = excluded.reference_adc,
			offset_adc = excluded.offset_adc,
			updated_unix_nanos = excluded.updated_unix_nanos`,
		sp.CurrentAmps, sp.ReferenceADC, sp.OffsetADC, toUnixNanos(sp.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save setpoint: %w", err)
	}
	return nil
}

// LoadSetpoint returns the stored set-point. ok is false if none was saved.
func (db *DB) LoadSetpoint() (sp Setpoint, ok bool, err error) {
	var nanos int64
	err = db.QueryRow(
		`SELECT current_amps, reference_adc, offset_adc, updated_unix_nanos FROM setpoint WHERE setpoint_id = 1`,
	).Scan(&sp.CurrentAmps, &sp.ReferenceADC, &sp.OffsetADC, &nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return Setpoint{}, false, nil
	}
	if err != nil {
		return Setpoint{}, false, err
	}
	sp.UpdatedAt = fromUnixNanos(nanos)
	return sp, true, nil
}
