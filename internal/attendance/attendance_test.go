package attendance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDebouncer_ShouldLog(t *testing.T) {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		delta time.Duration
		want  bool
	}{
		{"within cooldown", 5 * time.Second, false},
		{"just before cooldown", 10*time.Second - time.Millisecond, false},
		{"exactly cooldown", 10 * time.Second, true},
		{"after cooldown", 12 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(10 * time.Second)

			if !d.ShouldLog(7, base) {
				t.Fatal("expected first sighting to be logged")
			}
			if got := d.ShouldLog(7, base.Add(tt.delta)); got != tt.want {
				t.Errorf("ShouldLog after %v = %v, want %v", tt.delta, got, tt.want)
			}
		})
	}
}

func TestDebouncer_SuppressedCallDoesNotExtend(t *testing.T) {
	d := NewDebouncer(10 * time.Second)
	base := time.Now()

	d.ShouldLog(1, base)
	if d.ShouldLog(1, base.Add(6*time.Second)) {
		t.Fatal("expected suppression within cooldown")
	}
	// Measured from the first emission, not the suppressed call.
	if !d.ShouldLog(1, base.Add(10*time.Second)) {
		t.Error("expected log 10s after the first emission")
	}
	if last, _ := d.LastSeen(1); !last.Equal(base.Add(10 * time.Second)) {
		t.Errorf("expected last emission updated, got %v", last)
	}
}

func TestDebouncer_LabelsIndependent(t *testing.T) {
	d := NewDebouncer(time.Minute)
	now := time.Now()

	if !d.ShouldLog(1, now) || !d.ShouldLog(2, now) {
		t.Error("expected distinct labels to be logged independently")
	}
}

func TestDebouncer_NoIdentity(t *testing.T) {
	d := NewDebouncer(time.Second)
	now := time.Now()

	for _, label := range []int64{0, -1} {
		if d.ShouldLog(label, now) {
			t.Errorf("expected label %d never to be logged", label)
		}
	}
	if _, ok := d.LastSeen(0); ok {
		t.Error("expected no state for label 0")
	}
}

func TestDebouncer_ForgetAndReset(t *testing.T) {
	d := NewDebouncer(time.Hour)
	now := time.Now()

	d.ShouldLog(1, now)
	d.ShouldLog(2, now)

	d.Forget(1)
	if !d.ShouldLog(1, now) {
		t.Error("expected forgotten label to be logged again")
	}

	d.Reset()
	if !d.ShouldLog(2, now) {
		t.Error("expected reset to clear all state")
	}
}

func TestDebouncer_SetCooldown(t *testing.T) {
	d := NewDebouncer(time.Hour)
	now := time.Now()

	d.ShouldLog(3, now)
	d.SetCooldown(time.Second)
	if d.Cooldown() != time.Second {
		t.Errorf("expected 1s cooldown, got %v", d.Cooldown())
	}
	if !d.ShouldLog(3, now.Add(2*time.Second)) {
		t.Error("expected shorter cooldown to apply")
	}

	d.SetCooldown(-time.Second)
	if d.Cooldown() != 0 {
		t.Errorf("expected negative cooldown clamped to 0, got %v", d.Cooldown())
	}
}

func TestNewEvent(t *testing.T) {
	at := time.Now()
	e := NewEvent(4, "Alice", at)

	if e.ID == uuid.Nil {
		t.Error("expected event ID to be set")
	}
	if e.Label != 4 || e.Name != "Alice" || !e.Timestamp.Equal(at) {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestCSVLog_HeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "attendance.csv")
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)

	log, err := OpenCSVLog(path)
	if err != nil {
		t.Fatalf("OpenCSVLog failed: %v", err)
	}
	if err := log.Record(ctx, NewEvent(1, "Alice", at)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopening an existing log must not repeat the header.
	log, err = OpenCSVLog(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if err := log.Record(ctx, NewEvent(2, "Novák, Jan", at.Add(time.Minute))); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	log.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	want := "Timestamp,UserID,UserName\n" +
		"2024-03-01T08:30:00Z,1,Alice\n" +
		"2024-03-01T08:31:00Z,2,\"Novák, Jan\"\n"
	if string(data) != want {
		t.Errorf("unexpected log content:\n%s\nwant:\n%s", data, want)
	}
}

func TestCSVLog_ExistingEmptyFileGetsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attendance.csv")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	log, err := OpenCSVLog(path)
	if err != nil {
		t.Fatalf("OpenCSVLog failed: %v", err)
	}
	log.Close()

	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "Timestamp,UserID,UserName\n") {
		t.Errorf("expected header in empty file, got %q", data)
	}
}

func TestCSVLog_RecordAfterClose(t *testing.T) {
	log, err := OpenCSVLog(filepath.Join(t.TempDir(), "attendance.csv"))
	if err != nil {
		t.Fatalf("OpenCSVLog failed: %v", err)
	}
	log.Close()

	if err := log.Record(context.Background(), NewEvent(1, "Alice", time.Now())); err == nil {
		t.Error("expected error writing to closed log")
	}
	if err := log.Close(); err != nil {
		t.Errorf("expected second Close to be a no-op, got %v", err)
	}
}

func TestUnavailableSink_FailsEveryEvent(t *testing.T) {
	cause := errors.New("permission denied")
	sink := NewUnavailableSink(cause)

	for _, label := range []int64{1, 2, 1} {
		err := sink.Record(context.Background(), NewEvent(label, "Alice", time.Now()))
		if !errors.Is(err, ErrSinkUnavailable) {
			t.Errorf("label %d: expected ErrSinkUnavailable, got %v", label, err)
		}
		if !errors.Is(err, cause) {
			t.Errorf("label %d: expected cause to be wrapped, got %v", label, err)
		}
	}
}
