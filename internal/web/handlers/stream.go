package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// StreamHandler exposes the runtime settings of the recognition stream.
type StreamHandler struct {
	stream *recognition.Stream
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(stream *recognition.Stream) *StreamHandler {
	return &StreamHandler{stream: stream}
}

// StreamConfigResponse is the current stream configuration.
type StreamConfigResponse struct {
	SkipInterval    int     `json:"skip_interval"`
	TTL             int     `json:"ttl"`
	CooldownSeconds float64 `json:"cooldown_seconds"`
	MaxDetections   int     `json:"max_detections"`
	IoUThreshold    float64 `json:"iou_threshold"`
	Warning         string  `json:"warning,omitempty"`
}

type streamConfigRequest struct {
	SkipInterval    *int     `json:"skip_interval,omitempty"`
	TTL             *int     `json:"ttl,omitempty"`
	CooldownSeconds *float64 `json:"cooldown_seconds,omitempty"`
}

func (h *StreamHandler) current() StreamConfigResponse {
	opts := h.stream.Settings()
	return StreamConfigResponse{
		SkipInterval:    opts.SkipInterval,
		TTL:             opts.TTL,
		CooldownSeconds: opts.Cooldown.Seconds(),
		MaxDetections:   opts.MaxDetections,
		IoUThreshold:    opts.IoUThreshold,
		Warning:         recognition.TTLWarning(opts.SkipInterval, opts.TTL),
	}
}

// Get returns the stream configuration.
func (h *StreamHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.current())
}

// Update changes the skip interval, TTL or cooldown. Omitted fields keep their value.
func (h *StreamHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req streamConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	// Zero means "unchanged" to Reconfigure, so explicit values below 1 are rejected here.
	var interval, ttl int
	if req.SkipInterval != nil {
		if *req.SkipInterval < 1 {
			respondError(w, http.StatusBadRequest, "skip_interval must be at least 1")
			return
		}
		interval = *req.SkipInterval
	}
	if req.TTL != nil {
		if *req.TTL < 1 {
			respondError(w, http.StatusBadRequest, "ttl must be at least 1")
			return
		}
		ttl = *req.TTL
	}
	var cooldown time.Duration
	if req.CooldownSeconds != nil {
		cooldown = time.Duration(*req.CooldownSeconds * float64(time.Second))
		if cooldown <= 0 {
			respondError(w, http.StatusBadRequest, "cooldown_seconds must be positive")
			return
		}
	}

	if err := h.stream.Reconfigure(interval, ttl, cooldown); err != nil {
		if errors.Is(err, recognition.ErrInvalidConfig) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, h.current())
}
