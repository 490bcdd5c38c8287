package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CommandRecord is one stored command exchange.
type CommandRecord struct {
	ID     string    `json:"id"`
	Time   time.Time `json:"time"`
	Opcode string    `json:"opcode"`
	// Value is nil for commands sent without an argument.
	Value   *int   `json:"value,omitempty"`
	Outcome string `json:"outcome"`
	Echo    *int   `json:"echo,omitempty"`
	Tx      []byte `json:"tx,omitempty"`
	Rx      []byte `json:"rx,omitempty"`
	Error   string `json:"error,omitempty"`
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// RecordCommand stores rec and returns its ID. A missing ID is generated.
func (db *DB) RecordCommand(rec CommandRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := db.Exec(
		`INSERT INTO commands (
			command_id, ts_unix_nanos, opcode, value, outcome, echo, tx, rx, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, toUnixNanos(rec.Time), rec.Opcode, nullableInt(rec.Value),
		rec.Outcome, nullableInt(rec.Echo), rec.Tx, rec.Rx, rec.Error,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record command: %w", err)
	}
	return rec.ID, nil
}

// RecentCommands returns up to limit commands, newest first.
func (db *DB) RecentCommands(limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT command_id, ts_unix_nanos, opcode, value, outcome, echo, tx, rx, error
		FROM commands ORDER BY ts_unix_nanos DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var (
			r           CommandRecord
			nanos       int64
			value, echo sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &nanos, &r.Opcode, &value, &r.Outcome, &echo, &r.Tx, &r.Rx, &r.Error); err != nil {
			return nil, err
		}
		r.Time = fromUnixNanos(nanos)
		r.Value = intPtr(value)
		r.Echo = intPtr(echo)
		records = append(records, r)
	}
	return records, rows.Err()
}
