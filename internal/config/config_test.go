package config

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Index.Dim != 512 {
		t.Errorf("expected default dim 512, got %d", cfg.Index.Dim)
	}
	if cfg.Index.Capacity != 10000 {
		t.Errorf("expected default capacity 10000, got %d", cfg.Index.Capacity)
	}
	if cfg.Index.Threshold != 0.85 {
		t.Errorf("expected default threshold 0.85, got %v", cfg.Index.Threshold)
	}
	if cfg.Stream.SkipInterval != 3 || cfg.Stream.TTL != 3 {
		t.Errorf("expected skip interval 3 and TTL 3, got %d and %d", cfg.Stream.SkipInterval, cfg.Stream.TTL)
	}
	if cfg.Attendance.Cooldown != 10*time.Second {
		t.Errorf("expected cooldown 10s, got %v", cfg.Attendance.Cooldown)
	}
	if cfg.Detector.MaxDetections != 25 || cfg.Detector.ConfThreshold != 0.5 || cfg.Detector.IoUThreshold != 0.3 {
		t.Errorf("unexpected detector defaults: %+v", cfg.Detector)
	}
	if cfg.Inference.Timeout != 30*time.Second {
		t.Errorf("expected inference timeout 30s, got %v", cfg.Inference.Timeout)
	}
	if cfg.Inference.MaxFrameSize != 1280 {
		t.Errorf("expected max frame size 1280, got %d", cfg.Inference.MaxFrameSize)
	}
}

func TestLoad_DefaultsValidate(t *testing.T) {
	for _, key := range []string{"INDEX_DIM", "SKIP_INTERVAL", "CACHE_TTL", "ATTENDANCE_SINK", "IDENTITY_STORE"} {
		os.Unsetenv(key)
	}

	cfg := Load()
	warnings, err := cfg.Validate()
	if err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings for defaults, got %v", warnings)
	}
}

func TestLoad_IndexOverrides(t *testing.T) {
	t.Setenv("INDEX_DIM", "128")
	t.Setenv("INDEX_CAPACITY", "50")
	t.Setenv("MATCH_THRESHOLD", "0.6")
	t.Setenv("INDEX_BACKEND", "exact")
	t.Setenv("IDENTITY_STORE_PATH", "/tmp/ids.csv")

	cfg := Load()

	if cfg.Index.Dim != 128 {
		t.Errorf("expected dim 128, got %d", cfg.Index.Dim)
	}
	if cfg.Index.Capacity != 50 {
		t.Errorf("expected capacity 50, got %d", cfg.Index.Capacity)
	}
	if cfg.Index.Threshold != 0.6 {
		t.Errorf("expected threshold 0.6, got %v", cfg.Index.Threshold)
	}
	if cfg.Index.Backend != "exact" {
		t.Errorf("expected exact backend, got %q", cfg.Index.Backend)
	}
	if cfg.Index.StorePath != "/tmp/ids.csv" {
		t.Errorf("expected store path override, got %q", cfg.Index.StorePath)
	}
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"non-numeric", "invalid"},
		{"negative", "-100"},
		{"zero", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("INDEX_DIM", tt.value)

			cfg := Load()

			if cfg.Index.Dim != 512 {
				t.Errorf("expected default dim 512 for %q, got %d", tt.value, cfg.Index.Dim)
			}
		})
	}
}

func TestLoad_Cooldown(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"2m", 2 * time.Minute},
		{"15", 15 * time.Second},
		{"soon", 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("ATTENDANCE_COOLDOWN", tt.value)

			cfg := Load()

			if cfg.Attendance.Cooldown != tt.want {
				t.Errorf("expected %v, got %v", tt.want, cfg.Attendance.Cooldown)
			}
		})
	}
}

func TestValidate_DetectorOutOfRange(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		warning string
		check   func(*Config) bool
	}{
		{
			name:    "too many detections",
			env:     map[string]string{"MAX_DETECTIONS": "5000"},
			warning: "MAX_DETECTIONS",
			check:   func(c *Config) bool { return c.Detector.MaxDetections == 25 },
		},
		{
			name:    "zero detections",
			env:     map[string]string{"MAX_DETECTIONS": "0"},
			warning: "MAX_DETECTIONS",
			check:   func(c *Config) bool { return c.Detector.MaxDetections == 25 },
		},
		{
			name:    "zero confidence",
			env:     map[string]string{"CONF_THRESH": "0"},
			warning: "CONF_THRESH",
			check:   func(c *Config) bool { return c.Detector.ConfThreshold == 0.5 },
		},
		{
			name:    "negative iou",
			env:     map[string]string{"IOU_THRESH": "-0.1"},
			warning: "IOU_THRESH",
			check:   func(c *Config) bool { return c.Detector.IoUThreshold == 0.3 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg := Load()
			warnings, err := cfg.Validate()
			if err != nil {
				t.Fatalf("expected warning only, got error %v", err)
			}
			if len(warnings) != 1 || !strings.Contains(warnings[0], tt.warning) {
				t.Errorf("expected warning about %s, got %v", tt.warning, warnings)
			}
			if !tt.check(cfg) {
				t.Errorf("expected value reset to default, got %+v", cfg.Detector)
			}
		})
	}
}

func TestValidate_ValidIoUBoundary(t *testing.T) {
	t.Setenv("IOU_THRESH", "0")
	t.Setenv("CONF_THRESH", "1")

	cfg := Load()
	warnings, err := cfg.Validate()
	if err != nil || len(warnings) != 0 {
		t.Errorf("expected boundary values to be accepted, got %v %v", warnings, err)
	}
}

func TestValidate_TTLShorterThanInterval(t *testing.T) {
	t.Setenv("SKIP_INTERVAL", "5")
	t.Setenv("CACHE_TTL", "2")

	cfg := Load()
	warnings, err := cfg.Validate()
	if err != nil {
		t.Fatalf("expected warning, not error: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "TTL") {
		t.Errorf("expected TTL warning, got %v", warnings)
	}
}

func TestValidate_FatalErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Index.Threshold = 1.2 }},
		{"unknown backend", func(c *Config) { c.Index.Backend = "faiss" }},
		{"unknown store", func(c *Config) { c.Index.Store = "s3" }},
		{"postgres store without url", func(c *Config) { c.Index.Store = "postgres"; c.Database.URL = "" }},
		{"zero skip interval", func(c *Config) { c.Stream.SkipInterval = 0 }},
		{"zero ttl", func(c *Config) { c.Stream.TTL = 0 }},
		{"negative cooldown", func(c *Config) { c.Attendance.Cooldown = -time.Second }},
		{"unknown sink", func(c *Config) { c.Attendance.Sink = "kafka" }},
		{"mariadb sink without dsn", func(c *Config) { c.Attendance.Sink = "mariadb"; c.Database.MariaDBDSN = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)

			_, err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestWebConfig_Addr(t *testing.T) {
	cfg := WebConfig{Host: "127.0.0.1", Port: 9000}
	if got := cfg.Addr(); got != "127.0.0.1:9000" {
		t.Errorf("expected 127.0.0.1:9000, got %q", got)
	}
}
