package mariadb

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

const createAttendanceTable = `
	CREATE TABLE IF NOT EXISTS attendance_events (
		id          CHAR(36) NOT NULL PRIMARY KEY,
		label       BIGINT NOT NULL,
		name        VARCHAR(255) NOT NULL,
		recorded_at DATETIME(6) NOT NULL,
		INDEX idx_attendance_recorded_at (recorded_at),
		INDEX idx_attendance_label (label, recorded_at)
	) CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci
`

// AttendanceRepository writes attendance events to MariaDB/MySQL.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates the repository and its table if missing.
func NewAttendanceRepository(ctx context.Context, pool *Pool) (*AttendanceRepository, error) {
	if _, err := pool.db.ExecContext(ctx, createAttendanceTable); err != nil {
		return nil, fmt.Errorf("create attendance table: %w", err)
	}
	return &AttendanceRepository{pool: pool}, nil
}

// Record inserts one event. Timestamps are stored in UTC. Re-recording the
// same event ID is a no-op.
func (r *AttendanceRepository) Record(ctx context.Context, event attendance.Event) error {
	query := `INSERT IGNORE INTO attendance_events (id, label, name, recorded_at) VALUES (?, ?, ?, ?)`
	if _, err := r.pool.db.ExecContext(ctx, query, event.ID.String(), event.Label, event.Name, event.Timestamp.UTC()); err != nil {
		return fmt.Errorf("record attendance: %w", err)
	}
	return nil
}

// List returns events recorded at or after since, newest first.
func (r *AttendanceRepository) List(ctx context.Context, since time.Time, limit int) ([]attendance.Event, error) {
	query := `
		SELECT id, label, name, recorded_at
		FROM attendance_events
		WHERE recorded_at >= ?
		ORDER BY recorded_at DESC
		LIMIT ?
	`
	rows, err := r.pool.db.QueryContext(ctx, query, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var events []attendance.Event
	for rows.Next() {
		var e attendance.Event
		if err := rows.Scan(&e.ID, &e.Label, &e.Name, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}
