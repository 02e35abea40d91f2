package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
)

// AttendanceHandler lists recorded attendance events.
type AttendanceHandler struct {
	lister attendance.Lister
	now    func() time.Time
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(lister attendance.Lister) *AttendanceHandler {
	return &AttendanceHandler{lister: lister, now: time.Now}
}

// AttendanceListResponse is returned by List.
type AttendanceListResponse struct {
	Events []attendance.Event `json:"events"`
	Count  int                `json:"count"`
	Since  time.Time          `json:"since"`
}

// List returns events newest first. Query parameters: since (RFC 3339, default
// the last 24 hours) and limit (default 100, max 1000).
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	since := h.now().Add(-constants.DefaultAttendanceWindow)
	if s := query.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	limit := constants.DefaultAttendanceLimit
	if s := query.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, constants.MaxAttendanceLimit)
	}

	events, err := h.lister.List(r.Context(), since, limit)
	if err != nil {
		log.Printf("Attendance: failed to list events: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list attendance")
		return
	}
	if events == nil {
		events = []attendance.Event{}
	}

	respondJSON(w, http.StatusOK, AttendanceListResponse{
		Events: events,
		Count:  len(events),
		Since:  since,
	})
}
