package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse describes the running configuration without secrets.
type ConfigResponse struct {
	EmbeddingDim     int     `json:"embedding_dim"`
	MatchThreshold   float64 `json:"match_threshold"`
	IndexBackend     string  `json:"index_backend"`
	IdentityStore    string  `json:"identity_store"`
	AttendanceSink   string  `json:"attendance_sink"`
	PostgresEnabled  bool    `json:"postgres_enabled"`
	MaxDetections    int     `json:"max_detections"`
	ConfThreshold    float64 `json:"conf_threshold"`
	IoUThreshold     float64 `json:"iou_threshold"`
	AuthRequired     bool    `json:"auth_required"`
	InferenceEnabled bool    `json:"inference_enabled"`
}

// Get returns the configuration summary
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	response := ConfigResponse{
		EmbeddingDim:     h.config.Index.Dim,
		MatchThreshold:   h.config.Index.Threshold,
		IndexBackend:     h.config.Index.Backend,
		IdentityStore:    h.config.Index.Store,
		AttendanceSink:   h.config.Attendance.Sink,
		PostgresEnabled:  database.IsInitialized(),
		MaxDetections:    h.config.Detector.MaxDetections,
		ConfThreshold:    h.config.Detector.ConfThreshold,
		IoUThreshold:     h.config.Detector.IoUThreshold,
		AuthRequired:     h.config.Web.APIToken != "",
		InferenceEnabled: h.config.Inference.URL != "",
	}

	respondJSON(w, http.StatusOK, response)
}
