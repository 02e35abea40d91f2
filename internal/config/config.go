package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid is wrapped by every fatal validation error.
var ErrInvalid = errors.New("invalid configuration")

// MaxDetectionsLimit is the largest MAX_DETECTIONS accepted from the environment.
const MaxDetectionsLimit = 1000

type Config struct {
	Index      IndexConfig      `yaml:"index"`
	Stream     StreamConfig     `yaml:"stream"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Detector   DetectorConfig   `yaml:"detector"`
	Inference  InferenceConfig  `yaml:"inference"`
	Database   DatabaseConfig   `yaml:"database"`
	Web        WebConfig        `yaml:"web"`
}

type IndexConfig struct {
	Dim       int     `yaml:"dim"`
	Capacity  int     `yaml:"capacity"`
	Threshold float64 `yaml:"threshold"`
	Backend   string  `yaml:"backend"`    // hnsw or exact
	Store     string  `yaml:"store"`      // file or postgres
	StorePath string  `yaml:"store_path"` // identity file for the file store
}

type StreamConfig struct {
	SkipInterval int `yaml:"skip_interval"` // frames between full detection passes
	TTL          int `yaml:"ttl"`           // frames a cached detection survives
}

type AttendanceConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
	Sink     string        `yaml:"sink"` // csv, postgres or mariadb
	LogPath  string        `yaml:"log_path"`
}

type DetectorConfig struct {
	MaxDetections int     `yaml:"max_detections"`
	ConfThreshold float64 `yaml:"conf_threshold"`
	IoUThreshold  float64 `yaml:"iou_threshold"`
}

type InferenceConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxFrameSize int           `yaml:"max_frame_size"` // 0 sends frames at full size
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`            // PostgreSQL connection URL
	MariaDBDSN   string `yaml:"mariadb_dsn"`    // MariaDB DSN for the attendance sink (e.g., face:face@tcp(mariadb:3306)/attendance)
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
}

type WebConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	APIToken string `yaml:"-"` // optional bearer token for the API, from WEB_API_TOKEN

	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the listen address.
func (c WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// envString returns the env var or the default when unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float.
// Range checks are left to Validate so out-of-range values can be reported.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envDuration reads a Go duration ("10s", "1m30s"). A bare number is taken as seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

// Defaults returns the embedded default configuration.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	cfg := Defaults()

	cfg.Index.Dim = envInt("INDEX_DIM", cfg.Index.Dim)
	cfg.Index.Capacity = envInt("INDEX_CAPACITY", cfg.Index.Capacity)
	cfg.Index.Threshold = envFloat("MATCH_THRESHOLD", cfg.Index.Threshold)
	cfg.Index.Backend = envString("INDEX_BACKEND", cfg.Index.Backend)
	cfg.Index.Store = envString("IDENTITY_STORE", cfg.Index.Store)
	cfg.Index.StorePath = envString("IDENTITY_STORE_PATH", cfg.Index.StorePath)

	cfg.Stream.SkipInterval = envInt("SKIP_INTERVAL", cfg.Stream.SkipInterval)
	cfg.Stream.TTL = envInt("CACHE_TTL", cfg.Stream.TTL)

	cfg.Attendance.Cooldown = envDuration("ATTENDANCE_COOLDOWN", cfg.Attendance.Cooldown)
	cfg.Attendance.Sink = envString("ATTENDANCE_SINK", cfg.Attendance.Sink)
	cfg.Attendance.LogPath = envString("ATTENDANCE_LOG_PATH", cfg.Attendance.LogPath)

	// Detector values are parsed without a sign check so Validate can report them.
	if s := os.Getenv("MAX_DETECTIONS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			cfg.Detector.MaxDetections = n
		}
	}
	cfg.Detector.ConfThreshold = envFloat("CONF_THRESH", cfg.Detector.ConfThreshold)
	cfg.Detector.IoUThreshold = envFloat("IOU_THRESH", cfg.Detector.IoUThreshold)

	cfg.Inference.URL = envString("INFERENCE_URL", cfg.Inference.URL)
	cfg.Inference.Timeout = envDuration("INFERENCE_TIMEOUT", cfg.Inference.Timeout)
	cfg.Inference.MaxFrameSize = envInt("INFERENCE_MAX_FRAME_SIZE", cfg.Inference.MaxFrameSize)

	cfg.Database.URL = envString("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MariaDBDSN = envString("MARIADB_DSN", cfg.Database.MariaDBDSN)
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)

	cfg.Web.Host = envString("WEB_HOST", cfg.Web.Host)
	cfg.Web.Port = envInt("WEB_PORT", cfg.Web.Port)
	cfg.Web.APIToken = os.Getenv("WEB_API_TOKEN")
	if s := os.Getenv("WEB_ALLOWED_ORIGINS"); s != "" {
		cfg.Web.AllowedOrigins = strings.Split(s, ",")
	}

	return cfg
}

// Validate checks the configuration. Problems that make the service unusable are
// returned as an error wrapping ErrInvalid. Out-of-range detector settings are
// replaced by their defaults and reported as warnings, as is a cache TTL shorter
// than the skip interval.
func (c *Config) Validate() ([]string, error) {
	var warnings []string
	defaults := Defaults()

	switch {
	case c.Index.Dim <= 0:
		return nil, fmt.Errorf("%w: index dim must be positive, got %d", ErrInvalid, c.Index.Dim)
	case c.Index.Capacity <= 0:
		return nil, fmt.Errorf("%w: index capacity must be positive, got %d", ErrInvalid, c.Index.Capacity)
	case c.Index.Threshold < -1 || c.Index.Threshold > 1:
		return nil, fmt.Errorf("%w: match threshold must be in [-1, 1], got %v", ErrInvalid, c.Index.Threshold)
	case c.Index.Backend != "hnsw" && c.Index.Backend != "exact":
		return nil, fmt.Errorf("%w: unknown index backend %q", ErrInvalid, c.Index.Backend)
	case c.Index.Store != "file" && c.Index.Store != "postgres":
		return nil, fmt.Errorf("%w: unknown identity store %q", ErrInvalid, c.Index.Store)
	case c.Index.Store == "postgres" && c.Database.URL == "":
		return nil, fmt.Errorf("%w: DATABASE_URL is required for the postgres identity store", ErrInvalid)
	case c.Stream.SkipInterval < 1:
		return nil, fmt.Errorf("%w: skip interval must be at least 1, got %d", ErrInvalid, c.Stream.SkipInterval)
	case c.Stream.TTL < 1:
		return nil, fmt.Errorf("%w: cache TTL must be at least 1, got %d", ErrInvalid, c.Stream.TTL)
	case c.Attendance.Cooldown < 0:
		return nil, fmt.Errorf("%w: attendance cooldown must not be negative", ErrInvalid)
	}

	switch c.Attendance.Sink {
	case "csv":
	case "postgres":
		if c.Database.URL == "" {
			return nil, fmt.Errorf("%w: DATABASE_URL is required for the postgres attendance sink", ErrInvalid)
		}
	case "mariadb":
		if c.Database.MariaDBDSN == "" {
			return nil, fmt.Errorf("%w: MARIADB_DSN is required for the mariadb attendance sink", ErrInvalid)
		}
	default:
		return nil, fmt.Errorf("%w: unknown attendance sink %q", ErrInvalid, c.Attendance.Sink)
	}

	if c.Detector.MaxDetections <= 0 || c.Detector.MaxDetections > MaxDetectionsLimit {
		warnings = append(warnings, fmt.Sprintf("MAX_DETECTIONS %d out of range (1..%d), using %d",
			c.Detector.MaxDetections, MaxDetectionsLimit, defaults.Detector.MaxDetections))
		c.Detector.MaxDetections = defaults.Detector.MaxDetections
	}
	if c.Detector.ConfThreshold <= 0 || c.Detector.ConfThreshold > 1 {
		warnings = append(warnings, fmt.Sprintf("CONF_THRESH %v out of range (0..1], using %v",
			c.Detector.ConfThreshold, defaults.Detector.ConfThreshold))
		c.Detector.ConfThreshold = defaults.Detector.ConfThreshold
	}
	if c.Detector.IoUThreshold < 0 || c.Detector.IoUThreshold > 1 {
		warnings = append(warnings, fmt.Sprintf("IOU_THRESH %v out of range [0..1], using %v",
			c.Detector.IoUThreshold, defaults.Detector.IoUThreshold))
		c.Detector.IoUThreshold = defaults.Detector.IoUThreshold
	}

	if c.Stream.TTL < c.Stream.SkipInterval {
		warnings = append(warnings, fmt.Sprintf("cache TTL %d is shorter than skip interval %d; overlays will flicker between passes",
			c.Stream.TTL, c.Stream.SkipInterval))
	}

	return warnings, nil
}
