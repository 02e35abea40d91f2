package cmd

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestParseEmbedding(t *testing.T) {
	tests := []struct {
		input   string
		want    []float32
		wantErr bool
	}{
		{"0.5,-0.25,1", []float32{0.5, -0.25, 1}, false},
		{" 1 , 2 ,3", []float32{1, 2, 3}, false},
		{"1e-3", []float32{0.001}, false},
		{"1,,2", nil, true},
		{"1,abc", nil, true},
		{"", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseEmbedding(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("parseEmbedding(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"1", 1, false},
		{"42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseLabel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLabel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLabel(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestListFrames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame_0002.jpg", "frame_0001.PNG", "notes.txt", "frame_0003.bmp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}

	frames, err := listFrames(dir)
	if err != nil {
		t.Fatalf("listFrames failed: %v", err)
	}

	var names []string
	for _, f := range frames {
		names = append(names, filepath.Base(f))
	}
	want := []string{"frame_0001.PNG", "frame_0002.jpg", "frame_0003.bmp"}
	if !slices.Equal(names, want) {
		t.Errorf("listFrames = %v, want %v", names, want)
	}
}

func TestListFrames_MissingDir(t *testing.T) {
	if _, err := listFrames(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}
