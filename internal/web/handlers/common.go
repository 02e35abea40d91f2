package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}
	return nil
}

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return data, nil
}

// labelParam parses the {label} URL parameter.
func labelParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "label")
	label, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || label <= database.NoLabel {
		return 0, fmt.Errorf("invalid label %q", raw)
	}
	return label, nil
}

// embeddingStatus maps index validation errors to HTTP status codes.
func embeddingStatus(err error) int {
	switch {
	case errors.Is(err, database.ErrInvalidName),
		errors.Is(err, database.ErrDimensionMismatch),
		errors.Is(err, database.ErrZeroVector):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// HealthChecker is implemented by dependencies that can report their health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	index     *database.IdentityIndex
	inference HealthChecker
}

// NewHealthHandler creates a health handler. inference may be nil.
func NewHealthHandler(index *database.IdentityIndex, inference HealthChecker) *HealthHandler {
	return &HealthHandler{index: index, inference: inference}
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status     string `json:"status"`
	Identities int    `json:"identities"`
	Inference  string `json:"inference,omitempty"`
}

// Get reports service health. Inference problems degrade the status but still
// return 200 so the identity API stays usable.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.index != nil {
		resp.Identities = h.index.Count()
	}
	if h.inference != nil {
		if err := h.inference.Health(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Inference = err.Error()
		} else {
			resp.Inference = "ok"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
