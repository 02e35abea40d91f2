// Package constants provides shared constants used by the web API and the CLI.
package constants

import "time"

// Upload constants
const (
	// MaxUploadSize is the maximum enrollment photo size in bytes (20MB)
	MaxUploadSize = 20 << 20

	// MaxFrameSize is the maximum frame body size in bytes (10MB)
	MaxFrameSize = 10 << 20

	// MaxJSONBodySize limits JSON request bodies; a 512-dim embedding is well under this
	MaxJSONBodySize = 1 << 20
)

// Attendance listing constants
const (
	// DefaultAttendanceLimit is the default number of events returned by the API
	DefaultAttendanceLimit = 100

	// MaxAttendanceLimit caps the limit query parameter
	MaxAttendanceLimit = 1000

	// DefaultAttendanceWindow is how far back the API looks when no "since" is given
	DefaultAttendanceWindow = 24 * time.Hour
)

// Server constants
const (
	// RequestTimeout bounds a single API request, including inference calls
	RequestTimeout = 2 * time.Minute

	// ShutdownTimeout is how long serve waits for in-flight requests on exit
	ShutdownTimeout = 30 * time.Second
)

// Replay constants
const (
	// DefaultReplayFPS is the frame rate used to derive attendance timestamps during replay
	DefaultReplayFPS = 10
)

// FrameExtensions lists the image file extensions replay picks up.
var FrameExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp"}
