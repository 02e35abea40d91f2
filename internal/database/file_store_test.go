package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeStoreFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faces.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write store file: %v", err)
	}
	return path
}

func TestFileStore_LoadSkipsCorruptLine(t *testing.T) {
	path := writeStoreFile(t, "Broken,1,2\nAlice,1,0,0,0\nBob,0,1,0,0\n")

	ix := newTestIndex(t, 4, BackendHNSW)
	report, err := ix.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if report.Loaded != 2 {
		t.Errorf("expected 2 loaded identities, got %d", report.Loaded)
	}
	if report.Skipped != 1 || len(report.Diagnostics) != 1 {
		t.Fatalf("expected one skipped line, got %+v", report)
	}
	if report.Diagnostics[0].Line != 1 {
		t.Errorf("expected diagnostic for line 1, got %d", report.Diagnostics[0].Line)
	}

	res, _ := ix.Search([]float32{1, 0, 0, 0}, 0.9)
	if res.Name != "Alice" {
		t.Errorf("expected Alice, got %+v", res)
	}
	res, _ = ix.Search([]float32{0, 1, 0, 0}, 0.9)
	if res.Name != "Bob" {
		t.Errorf("expected Bob, got %+v", res)
	}
}

func TestFileStore_LoadDiagnostics(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"too many fields", "Alice,1,0,0,0,0\n", "expected 5 fields, got 6"},
		{"non-numeric", "Alice,1,zero,0,0\n", "non-numeric"},
		{"empty name", ",1,0,0,0\n", "empty name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewFileStore(writeStoreFile(t, tt.content), 4)
			ids, diags, err := store.Load(context.Background())
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(ids) != 0 {
				t.Errorf("expected no identities, got %v", ids)
			}
			if len(diags) != 1 || !strings.Contains(diags[0].Message, tt.want) {
				t.Errorf("expected diagnostic containing %q, got %v", tt.want, diags)
			}
		})
	}
}

func TestFileStore_LoadIgnoresBlankLinesAndCRLF(t *testing.T) {
	store := NewFileStore(writeStoreFile(t, "Alice,1,0,0,0\r\n\r\n\nBob,0,1,0,0\r\n"), 4)

	ids, diags, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(diags) != 0 {
		t.Errorf("expected no diagnostics, got %v", diags)
	}
	if len(ids) != 2 || ids[0].Name != "Alice" || ids[1].Name != "Bob" {
		t.Errorf("unexpected identities: %v", ids)
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope.csv"), 4)

	_, _, err := store.Load(context.Background())
	if !errors.Is(err, ErrStoreNotFound) {
		t.Errorf("expected ErrStoreNotFound, got %v", err)
	}
}

func TestFileStore_SaveFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "faces.csv")
	store := NewFileStore(path, 2)

	err := store.Save(context.Background(), []Identity{
		{Label: 1, Name: "Alice", Embedding: []float32{0.6, 0.8}},
		{Label: 2, Name: "Novák, Jan", Embedding: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read store: %v", err)
	}
	want := "Alice,0.6,0.8\n\"Novák, Jan\",1,0\n"
	if string(data) != want {
		t.Errorf("unexpected store content:\n%q\nwant:\n%q", data, want)
	}

	ids, diags, err := store.Load(context.Background())
	if err != nil || len(diags) != 0 {
		t.Fatalf("Load failed: %v %v", err, diags)
	}
	if len(ids) != 2 || ids[1].Name != "Novák, Jan" {
		t.Errorf("unexpected identities after reload: %v", ids)
	}
}

func TestFileStore_SaveRejectsWrongDimension(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "faces.csv"), 3)

	err := store.Save(context.Background(), []Identity{{Name: "Alice", Embedding: []float32{1, 0}}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, statErr := os.Stat(store.Path()); !os.IsNotExist(statErr) {
		t.Error("expected no file written on failed save")
	}
}
