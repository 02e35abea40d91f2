package attendance

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// csvHeader is written once when the log file is new or empty.
var csvHeader = []string{"Timestamp", "UserID", "UserName"}

// CSVLog appends events to a CSV file: Timestamp,UserID,UserName.
type CSVLog struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
}

// OpenCSVLog opens (or creates) the log at path for appending.
func OpenCSVLog(path string) (*CSVLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating attendance log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("opening attendance log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat attendance log: %w", err)
	}

	l := &CSVLog{path: path, file: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := l.writeRow(csvHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return l, nil
}

// Path returns the log file path.
func (l *CSVLog) Path() string {
	return l.path
}

func (l *CSVLog) writeRow(row []string) error {
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("writing attendance row: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("flushing attendance log: %w", err)
	}
	return nil
}

// Record appends one event.
func (l *CSVLog) Record(_ context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("attendance log %s is closed", l.path)
	}
	return l.writeRow([]string{
		event.Timestamp.Format(time.RFC3339),
		strconv.FormatInt(event.Label, 10),
		event.Name,
	})
}

// Close closes the underlying file.
func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("closing attendance log: %w", err)
	}
	return nil
}
