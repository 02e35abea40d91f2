package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// AttendanceRepository writes attendance events to PostgreSQL.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// Record inserts one event. Re-recording the same event ID is a no-op.
func (r *AttendanceRepository) Record(ctx context.Context, event attendance.Event) error {
	query := `
		INSERT INTO attendance_events (id, label, name, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, event.ID, event.Label, event.Name, event.Timestamp); err != nil {
		return fmt.Errorf("record attendance: %w", err)
	}
	return nil
}

// List returns events recorded at or after since, newest first.
func (r *AttendanceRepository) List(ctx context.Context, since time.Time, limit int) ([]attendance.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, label, name, recorded_at
		FROM attendance_events
		WHERE recorded_at >= $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var events []attendance.Event
	for rows.Next() {
		var e attendance.Event
		if err := rows.Scan(&e.ID, &e.Label, &e.Name, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan attendance event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance events: %w", err)
	}
	return events, nil
}
